package webrtc

import (
	"fmt"
	"log/slog"

	pion "github.com/pion/webrtc/v4"

	"github.com/theautomat/crewsync/internal/config"
	"github.com/theautomat/crewsync/internal/logging"
	"github.com/theautomat/crewsync/internal/utils"
)

// StateChannelLabel names the snapshot data channel. Browser peers match on it.
const StateChannelLabel = "game-state"

// NewAPI builds a pion API whose internal logging goes through slog.
// configure may adjust the setting engine, e.g. to install a virtual network.
func NewAPI(configure ...func(*pion.SettingEngine)) *pion.API {
	se := pion.SettingEngine{
		LoggerFactory: logging.NewPionFactory(),
	}
	for _, fn := range configure {
		fn(&se)
	}
	return pion.NewAPI(pion.WithSettingEngine(se))
}

// Configuration turns the ICE settings of cfg into a pion configuration.
func Configuration(cfg *config.Config) pion.Configuration {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || utils.ShouldForceRelay()) {
		slog.Info("forcing TURN relay for peer connections")
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// CreateStateChannel opens the snapshot channel on pc: unordered with zero
// retransmits, so a lost snapshot is simply superseded by the next one.
func CreateStateChannel(pc *pion.PeerConnection) (*pion.DataChannel, error) {
	ordered := false
	maxRetransmits := uint16(0)

	return pc.CreateDataChannel(StateChannelLabel, &pion.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
}

// CreateOffer creates an offer and applies it as the local description.
func CreateOffer(pc *pion.PeerConnection) (*pion.SessionDescription, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return pc.LocalDescription(), nil
}

// CreateAnswer applies offer as the remote description, then creates and
// applies the answer.
func CreateAnswer(pc *pion.PeerConnection, offer pion.SessionDescription) (*pion.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return pc.LocalDescription(), nil
}
