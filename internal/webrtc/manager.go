package webrtc

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/theautomat/crewsync/internal/syncerr"
)

const defaultEventBuffer = 256

// Signaler relays negotiation messages to a remote peer. Sends are
// fire-and-forget.
type Signaler interface {
	SendOffer(targetPeerID string, offer pion.SessionDescription) error
	SendAnswer(targetPeerID string, answer pion.SessionDescription) error
	SendICECandidate(targetPeerID string, candidate pion.ICECandidateInit) error
}

// EventType identifies a Manager event.
type EventType int

const (
	EventLocalCandidate EventType = iota
	EventDataChannel
	EventChannelOpen
	EventChannelClosed
	EventConnectionState
	EventMessage
)

// Event is posted by pion callbacks and must be fed back through
// Manager.Handle on the goroutine that owns the Manager.
type Event struct {
	Type   EventType
	PeerID string

	Candidate pion.ICECandidateInit
	State     pion.PeerConnectionState
	Channel   *pion.DataChannel

	// Data and IsString are set for EventMessage.
	Data     []byte
	IsString bool

	// link identifies the originating link so events from a replaced link are dropped.
	link *PeerLink
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	API           *pion.API
	Configuration pion.Configuration
	Signaler      Signaler

	// IsPrimary selects the side: the primary creates channels, a secondary accepts them.
	IsPrimary bool

	EventBuffer int
}

// Manager owns one PeerLink per remote peer. All methods except Events must
// be called from a single goroutine; pion callbacks only post events.
type Manager struct {
	opts   ManagerOptions
	links  map[string]*PeerLink
	events chan Event
	done   chan struct{}

	closeOnce sync.Once
}

// NewManager creates a Manager. A nil API uses NewAPI().
func NewManager(opts ManagerOptions) *Manager {
	if opts.API == nil {
		opts.API = NewAPI()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	return &Manager{
		opts:   opts,
		links:  make(map[string]*PeerLink),
		events: make(chan Event, opts.EventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the channel pion callbacks post to.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Connect creates a link to a newly joined peer, opens the snapshot channel
// and sends the offer. Primary only. A live link for peerID is left alone.
func (m *Manager) Connect(peerID string) error {
	if !m.opts.IsPrimary {
		return syncerr.NewPeerError("connect", peerID, syncerr.ErrPeerNegotiation)
	}
	if _, ok := m.links[peerID]; ok {
		slog.Debug("ignoring duplicate peer join", "peer", peerID)
		return nil
	}

	link, err := m.newLink(peerID)
	if err != nil {
		return m.fail(nil, peerID, "create peer connection", err)
	}

	dc, err := CreateStateChannel(link.pc)
	if err != nil {
		return m.fail(link, peerID, "create data channel", err)
	}
	link.dc = dc
	m.watchChannel(link, dc)

	offer, err := CreateOffer(link.pc)
	if err != nil {
		return m.fail(link, peerID, "offer", err)
	}
	if err := m.opts.Signaler.SendOffer(peerID, *offer); err != nil {
		return m.fail(link, peerID, "send offer", err)
	}
	link.state = LinkConnecting

	slog.Info("offer sent", "peer", peerID)
	return nil
}

// AcceptOffer creates a link for an offering primary and answers it.
// Secondary only. A duplicate offer for a live link is ignored.
func (m *Manager) AcceptOffer(peerID string, offer pion.SessionDescription) error {
	if m.opts.IsPrimary {
		return syncerr.NewPeerError("accept offer", peerID, syncerr.ErrPeerNegotiation)
	}
	if _, ok := m.links[peerID]; ok {
		slog.Debug("ignoring duplicate offer", "peer", peerID)
		return nil
	}

	link, err := m.newLink(peerID)
	if err != nil {
		return m.fail(nil, peerID, "create peer connection", err)
	}

	answer, err := CreateAnswer(link.pc, offer)
	if err != nil {
		return m.fail(link, peerID, "answer", err)
	}
	m.remoteDescriptionSet(link)

	if err := m.opts.Signaler.SendAnswer(peerID, *answer); err != nil {
		return m.fail(link, peerID, "send answer", err)
	}
	link.state = LinkConnecting

	slog.Info("answer sent", "peer", peerID)
	return nil
}

// AcceptAnswer applies the answer of a peer we offered to.
func (m *Manager) AcceptAnswer(peerID string, answer pion.SessionDescription) error {
	link, ok := m.links[peerID]
	if !ok {
		slog.Warn("answer for unknown peer", "peer", peerID)
		return syncerr.NewPeerError("accept answer", peerID, syncerr.ErrPeerNegotiation)
	}
	if link.remoteSet {
		slog.Debug("ignoring duplicate answer", "peer", peerID)
		return nil
	}

	if err := link.pc.SetRemoteDescription(answer); err != nil {
		return m.fail(link, peerID, "set remote description", err)
	}
	m.remoteDescriptionSet(link)
	return nil
}

// AddRemoteCandidate applies a trickled candidate, queueing it until the
// remote description is set. Candidates for unknown peers are dropped.
func (m *Manager) AddRemoteCandidate(peerID string, candidate pion.ICECandidateInit) error {
	link, ok := m.links[peerID]
	if !ok {
		slog.Debug("candidate for unknown peer", "peer", peerID)
		return nil
	}
	if !link.remoteSet {
		link.pending = append(link.pending, candidate)
		return nil
	}
	if err := link.pc.AddICECandidate(candidate); err != nil {
		slog.Warn("failed to add ICE candidate", "peer", peerID, "err", err)
		return syncerr.Negotiation("add ICE candidate", peerID, err)
	}
	return nil
}

// Handle applies an event posted by a pion callback. It reports false for
// events of links that are already gone; the caller must drop those.
// EventMessage is left to the caller.
func (m *Manager) Handle(ev Event) bool {
	link, ok := m.links[ev.PeerID]
	if !ok || link != ev.link {
		return false
	}

	switch ev.Type {
	case EventLocalCandidate:
		if err := m.opts.Signaler.SendICECandidate(ev.PeerID, ev.Candidate); err != nil {
			slog.Warn("failed to relay ICE candidate", "peer", ev.PeerID, "err", err)
		}

	case EventDataChannel:
		if link.dc != nil {
			slog.Warn("ignoring extra data channel", "peer", ev.PeerID)
			ev.Channel.Close()
			return true
		}
		link.dc = ev.Channel
		if ev.Channel.ReadyState() == pion.DataChannelStateOpen {
			m.markOpen(link)
		}

	case EventChannelOpen:
		m.markOpen(link)

	case EventChannelClosed:
		slog.Info("data channel closed", "peer", ev.PeerID)
		m.Close(ev.PeerID)

	case EventConnectionState:
		slog.Debug("peer connection state", "peer", ev.PeerID, "state", ev.State)
		switch ev.State {
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed:
			slog.Warn("peer connection ended", "peer", ev.PeerID, "state", ev.State)
			m.Close(ev.PeerID)
		}
	}
	return true
}

// Close abandons the link to peerID. The map entry goes away immediately and
// the transport is torn down in the background. Closing an unknown peer is a
// no-op.
func (m *Manager) Close(peerID string) {
	link, ok := m.links[peerID]
	if !ok {
		return
	}
	delete(m.links, peerID)
	link.state = LinkClosed

	go release(link)
	slog.Info("peer link closed", "peer", peerID)
}

// CloseAll tears down every link and stops event delivery. It waits for the
// transports to close.
func (m *Manager) CloseAll() {
	m.closeOnce.Do(func() { close(m.done) })

	var wg sync.WaitGroup
	for id, link := range m.links {
		delete(m.links, id)
		link.state = LinkClosed
		wg.Add(1)
		go func() {
			defer wg.Done()
			release(link)
		}()
	}
	wg.Wait()
}

// Has reports whether a link to peerID exists.
func (m *Manager) Has(peerID string) bool {
	_, ok := m.links[peerID]
	return ok
}

// Link returns the link to peerID.
func (m *Manager) Link(peerID string) (*PeerLink, bool) {
	link, ok := m.links[peerID]
	return link, ok
}

// OpenLinks returns the links whose channel is open, ordered by peer id.
func (m *Manager) OpenLinks() []*PeerLink {
	var open []*PeerLink
	for _, link := range m.links {
		if link.IsOpen() {
			open = append(open, link)
		}
	}
	slices.SortFunc(open, func(a, b *PeerLink) int { return cmp.Compare(a.id, b.id) })
	return open
}

// Counts returns the number of open links and of all links.
func (m *Manager) Counts() (open, total int) {
	for _, link := range m.links {
		if link.IsOpen() {
			open++
		}
	}
	return open, len(m.links)
}

// Links returns a snapshot of every link for status displays.
func (m *Manager) Links() []LinkInfo {
	infos := make([]LinkInfo, 0, len(m.links))
	for _, link := range m.links {
		infos = append(infos, LinkInfo{PeerID: link.id, State: link.state})
	}
	slices.SortFunc(infos, func(a, b LinkInfo) int { return cmp.Compare(a.PeerID, b.PeerID) })
	return infos
}

func (m *Manager) newLink(peerID string) (*PeerLink, error) {
	pc, err := m.opts.API.NewPeerConnection(m.opts.Configuration)
	if err != nil {
		return nil, err
	}

	link := &PeerLink{id: peerID, state: LinkNew, pc: pc}
	m.links[peerID] = link

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		m.post(Event{Type: EventLocalCandidate, PeerID: peerID, Candidate: c.ToJSON(), link: link})
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		m.post(Event{Type: EventConnectionState, PeerID: peerID, State: state, link: link})
	})

	if !m.opts.IsPrimary {
		pc.OnDataChannel(func(dc *pion.DataChannel) {
			if dc.Label() != StateChannelLabel {
				slog.Warn("rejecting unexpected data channel", "peer", peerID, "label", dc.Label())
				dc.Close()
				return
			}
			m.post(Event{Type: EventDataChannel, PeerID: peerID, Channel: dc, link: link})
			m.watchChannel(link, dc)
		})
	}

	return link, nil
}

// watchChannel forwards channel lifecycle and, on a secondary, inbound
// messages to the event queue.
func (m *Manager) watchChannel(link *PeerLink, dc *pion.DataChannel) {
	peerID := link.id

	dc.OnOpen(func() {
		m.post(Event{Type: EventChannelOpen, PeerID: peerID, link: link})
	})
	dc.OnClose(func() {
		m.post(Event{Type: EventChannelClosed, PeerID: peerID, link: link})
	})

	if !m.opts.IsPrimary {
		dc.OnMessage(func(msg pion.DataChannelMessage) {
			data := make([]byte, len(msg.Data))
			copy(data, msg.Data)
			m.post(Event{Type: EventMessage, PeerID: peerID, Data: data, IsString: msg.IsString, link: link})
		})
	}
}

func (m *Manager) post(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Manager) markOpen(link *PeerLink) {
	if link.state == LinkOpen {
		return
	}
	link.state = LinkOpen
	slog.Info("data channel open", "peer", link.id)
}

func (m *Manager) remoteDescriptionSet(link *PeerLink) {
	link.remoteSet = true
	for _, c := range link.pending {
		if err := link.pc.AddICECandidate(c); err != nil {
			slog.Warn("failed to add queued ICE candidate", "peer", link.id, "err", err)
		}
	}
	link.pending = nil
}

// fail logs a negotiation failure and abandons the link. There is no
// renegotiation; the peer has to rejoin.
func (m *Manager) fail(link *PeerLink, peerID, op string, err error) error {
	nerr := syncerr.Negotiation(op, peerID, err)
	slog.Error("peer negotiation failed", "peer", peerID, "op", op, "err", err)
	if link != nil {
		m.Close(peerID)
	}
	return nerr
}

func release(link *PeerLink) {
	if link.dc != nil {
		link.dc.Close()
	}
	if err := link.pc.Close(); err != nil {
		slog.Debug("peer connection close", "peer", link.id, "err", err)
	}
}
