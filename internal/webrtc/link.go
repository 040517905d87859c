package webrtc

import (
	pion "github.com/pion/webrtc/v4"

	"github.com/theautomat/crewsync/internal/syncerr"
)

// LinkState is the lifecycle of one PeerLink: new until the offer or answer
// is sent, connecting until the channel opens. closed is terminal.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkConnecting
	LinkOpen
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkConnecting:
		return "connecting"
	case LinkOpen:
		return "open"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerLink is the connection and snapshot channel to one remote peer. It is
// owned by the Manager and only mutated on the session event loop.
type PeerLink struct {
	id    string
	state LinkState

	pc *pion.PeerConnection
	dc *pion.DataChannel

	// Remote candidates received before the remote description.
	pending   []pion.ICECandidateInit
	remoteSet bool
}

// PeerID returns the relay-assigned id of the remote peer.
func (l *PeerLink) PeerID() string { return l.id }

// State returns the current lifecycle state.
func (l *PeerLink) State() LinkState { return l.state }

// IsOpen reports whether snapshots can be written to the link.
func (l *PeerLink) IsOpen() bool {
	return l.state == LinkOpen && l.dc != nil && l.dc.ReadyState() == pion.DataChannelStateOpen
}

// Send writes a binary message.
func (l *PeerLink) Send(data []byte) error {
	if !l.IsOpen() {
		return syncerr.NewPeerError("send", l.id, syncerr.ErrChannelNotOpen)
	}
	return l.dc.Send(data)
}

// SendText writes a text message.
func (l *PeerLink) SendText(text string) error {
	if !l.IsOpen() {
		return syncerr.NewPeerError("send", l.id, syncerr.ErrChannelNotOpen)
	}
	return l.dc.SendText(text)
}

// LinkInfo is a read-only view of a link for status displays.
type LinkInfo struct {
	PeerID string
	State  LinkState
}
