package cmd

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/theautomat/crewsync/internal/config"
	"github.com/theautomat/crewsync/internal/game"
	"github.com/theautomat/crewsync/internal/session"
	"github.com/theautomat/crewsync/internal/state"
	"github.com/theautomat/crewsync/internal/webrtc"
)

func TestLoadConfig_ForceRelayNeedsTURN(t *testing.T) {
	t.Setenv("TURN_SERVER", "")
	_, err := LoadConfig(config.Options{ForceRelay: true})
	if err == nil {
		t.Fatalf("force relay without TURN should fail")
	}

	cfg, err := LoadConfig(config.Options{ForceRelay: true, TURNServer: "turn.example.com"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.ForceRelay || len(cfg.GetTURNServers()) != 3 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadConfig_RejectsBadCodec(t *testing.T) {
	if _, err := LoadConfig(config.Options{Codec: "xml"}); err == nil {
		t.Fatalf("bad codec accepted")
	}
}

func TestStatusView(t *testing.T) {
	mirror := game.NewMirror()
	pos := state.Vec3{1, 2, 3}
	mirror.Apply(&state.Snapshot{
		PlayerPosition: &pos,
		CurrentState:   state.PhasePlaying,
		Asteroids:      make([]state.Asteroid, 5),
	}, 10, 20)

	st := statusView(session.Stats{
		ConnectionStatus: session.StatusReconnecting,
		LastError:        errors.New("connection reset"),
		Role:             "crew",
		RoomID:           "room1",
		OpenPeers:        1,
		Peers:            1,
		Links:            []webrtc.LinkInfo{{PeerID: "p1", State: webrtc.LinkOpen}},
		ReceivedCount:    10,
		LatencyMs:        20,
	}, mirror, 2*time.Second)

	if st.Connection != "reconnecting" || st.LastError != "connection reset" {
		t.Fatalf("status=%+v", st)
	}
	if len(st.Links) != 1 || st.Links[0].State != "open" {
		t.Fatalf("links=%+v", st.Links)
	}
	if st.Latency != "20 ms" || st.Received != 10 {
		t.Fatalf("latency=%q received=%d", st.Latency, st.Received)
	}
	if !strings.Contains(st.World, "5 asteroids") {
		t.Fatalf("world=%q", st.World)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"relay", "captain", "crew", "version"} {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("command %q not registered: %v", name, err)
		}
	}
}
