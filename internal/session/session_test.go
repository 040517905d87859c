package session

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	neturl "net/url"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/transport/v3/vnet"
	pion "github.com/pion/webrtc/v4"

	"github.com/theautomat/crewsync/internal/config"
	"github.com/theautomat/crewsync/internal/logging"
	"github.com/theautomat/crewsync/internal/relay"
	"github.com/theautomat/crewsync/internal/state"
	"github.com/theautomat/crewsync/internal/syncerr"
	"github.com/theautomat/crewsync/internal/webrtc"
)

func startRelay(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(relay.NewHandler(hub, nil))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// tcpProxy forwards one session's relay traffic so a test can cut its
// socket without touching anyone else's.
type tcpProxy struct {
	ln     net.Listener
	target string

	mu    sync.Mutex
	conns []net.Conn
}

func startProxy(t *testing.T, relayURL string) (*tcpProxy, string) {
	t.Helper()
	u, err := neturl.Parse(relayURL)
	if err != nil {
		t.Fatalf("parse relay url: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &tcpProxy{ln: ln, target: u.Host}
	go p.serve()
	t.Cleanup(p.stop)

	u.Host = ln.Addr().String()
	return p, u.String()
}

func (p *tcpProxy) serve() {
	for {
		down, err := p.ln.Accept()
		if err != nil {
			return
		}
		up, err := net.Dial("tcp", p.target)
		if err != nil {
			down.Close()
			continue
		}
		p.mu.Lock()
		p.conns = append(p.conns, down, up)
		p.mu.Unlock()
		go pipe(up, down)
		go pipe(down, up)
	}
}

func pipe(dst, src net.Conn) {
	_, _ = io.Copy(dst, src)
	dst.Close()
	src.Close()
}

// cut drops the forwarded connections. New ones are still accepted.
func (p *tcpProxy) cut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		c.Close()
	}
	p.conns = nil
}

// stop refuses new connections and drops the current ones.
func (p *tcpProxy) stop() {
	p.ln.Close()
	p.cut()
}

func newVNetAPIs(t *testing.T) (*pion.API, *pion.API) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewPionFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	apiA := webrtc.NewAPI(func(se *pion.SettingEngine) { se.SetNet(netA) })
	apiB := webrtc.NewAPI(func(se *pion.SettingEngine) { se.SetNet(netB) })
	return apiA, apiB
}

func testConfig(relayURL string) *config.Config {
	return &config.Config{
		RelayURL:          relayURL,
		ConnectTimeout:    5 * time.Second,
		ReconnectAttempts: 1,
		ReconnectDelay:    10 * time.Millisecond,
		BroadcastInterval: 10 * time.Millisecond,
		Codec:             config.DefaultCodec,
	}
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Dispose)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// onceCollector hands out one snapshot after it is armed, and nothing else.
type onceCollector struct {
	snap  state.Snapshot
	armed atomic.Bool
	calls atomic.Int64
}

func (c *onceCollector) CollectState() (state.Snapshot, bool) {
	c.calls.Add(1)
	if c.armed.CompareAndSwap(true, false) {
		return c.snap, true
	}
	return state.Snapshot{}, false
}

func TestSession_CaptainStreamsToCrew(t *testing.T) {
	url := startRelay(t)
	apiA, apiB := newVNetAPIs(t)
	ctx := context.Background()

	pos := state.Vec3{1, 2, 3}
	collector := &onceCollector{snap: state.Snapshot{
		Timestamp:      1000,
		PlayerPosition: &pos,
		Asteroids:      []state.Asteroid{},
		Enemies:        []state.Enemy{},
		Ores:           []state.Ore{},
		Bullets:        []state.Bullet{},
	}}

	captain := newSession(t, Options{
		Config:         testConfig(url),
		RoomID:         "room1",
		RequestPrimary: true,
		Collector:      collector,
		API:            apiA,
	})
	role, err := captain.Start(ctx)
	if err != nil {
		t.Fatalf("captain Start: %v", err)
	}
	if !role.IsPrimary {
		t.Fatalf("first claim should win")
	}

	crew := newSession(t, Options{
		Config:         testConfig(url),
		RoomID:         "room1",
		RequestPrimary: true,
		API:            apiB,
	})
	var handled atomic.Int64
	crew.OnStateReceived(func(snap *state.Snapshot, count uint64, latencyMs int64) {
		handled.Store(int64(count))
	})
	role, err = crew.Start(ctx)
	if err != nil {
		t.Fatalf("crew Start: %v", err)
	}
	if role.IsPrimary {
		t.Fatalf("second claim should lose")
	}

	waitFor(t, "captain link open", func() bool { return captain.Stats().OpenPeers == 1 })
	waitFor(t, "crew link open", func() bool { return crew.Stats().OpenPeers == 1 })

	collector.armed.Store(true)
	waitFor(t, "snapshot delivery", func() bool { return crew.Stats().ReceivedCount == 1 })

	st := crew.Stats()
	if st.Role != "crew" || st.RoomID != "room1" || st.ConnectionStatus != StatusConnected {
		t.Fatalf("crew stats=%+v", st)
	}
	last, ok := crew.LastSnapshot()
	if !ok || !reflect.DeepEqual(last, &collector.snap) {
		t.Fatalf("last snapshot=%+v, want %+v", last, collector.snap)
	}
	if last.PlayerPosition == nil || *last.PlayerPosition != (state.Vec3{1, 2, 3}) {
		t.Fatalf("playerPosition=%v", last.PlayerPosition)
	}
	if handled.Load() != 1 {
		t.Fatalf("handler saw count=%d", handled.Load())
	}

	if cs := captain.Stats(); cs.Role != "captain" || cs.Sent != 1 || cs.ReceivedCount != 0 {
		t.Fatalf("captain stats=%+v", cs)
	}

	// The crew leaves: the captain drops the link and keeps ticking with no peers.
	crew.Dispose()
	waitFor(t, "captain link removal", func() bool { return captain.Stats().Peers == 0 })

	calls := collector.calls.Load()
	time.Sleep(100 * time.Millisecond)
	if collector.calls.Load() != calls {
		t.Fatalf("collector consulted with no open peers")
	}
	if cs := captain.Stats(); cs.Sent != 1 || cs.ConnectionStatus != StatusConnected {
		t.Fatalf("captain stats after crew left=%+v", cs)
	}
}

func TestSession_CrewDropsLinksWhenCaptainLeaves(t *testing.T) {
	url := startRelay(t)
	apiA, apiB := newVNetAPIs(t)
	ctx := context.Background()

	captain := newSession(t, Options{Config: testConfig(url), RoomID: "r", RequestPrimary: true, API: apiA})
	if _, err := captain.Start(ctx); err != nil {
		t.Fatalf("captain Start: %v", err)
	}
	crew := newSession(t, Options{Config: testConfig(url), RoomID: "r", API: apiB})
	if _, err := crew.Start(ctx); err != nil {
		t.Fatalf("crew Start: %v", err)
	}

	waitFor(t, "crew link open", func() bool { return crew.Stats().OpenPeers == 1 })

	captain.Dispose()
	waitFor(t, "crew link removal", func() bool { return crew.Stats().Peers == 0 })
}

func TestSession_CrewRejoinsAfterRelayDrop(t *testing.T) {
	relayURL := startRelay(t)
	proxy, proxyURL := startProxy(t, relayURL)
	apiA, apiB := newVNetAPIs(t)
	ctx := context.Background()

	pos := state.Vec3{4, 5, 6}
	collector := &onceCollector{snap: state.Snapshot{Timestamp: 1, PlayerPosition: &pos, Asteroids: []state.Asteroid{}}}
	captain := newSession(t, Options{
		Config:         testConfig(relayURL),
		RoomID:         "blip",
		RequestPrimary: true,
		Collector:      collector,
		API:            apiA,
	})
	if _, err := captain.Start(ctx); err != nil {
		t.Fatalf("captain Start: %v", err)
	}

	crewCfg := testConfig(proxyURL)
	crewCfg.ReconnectAttempts = 5
	crew := newSession(t, Options{Config: crewCfg, RoomID: "blip", API: apiB})
	if _, err := crew.Start(ctx); err != nil {
		t.Fatalf("crew Start: %v", err)
	}

	waitFor(t, "captain link open", func() bool { return captain.Stats().OpenPeers == 1 })
	waitFor(t, "crew link open", func() bool { return crew.Stats().OpenPeers == 1 })
	oldCrewID := captain.Stats().Links[0].PeerID

	proxy.cut()

	waitFor(t, "captain link to the rejoined crew", func() bool {
		links := captain.Stats().Links
		return len(links) == 1 && links[0].PeerID != oldCrewID && links[0].State == webrtc.LinkOpen
	})
	waitFor(t, "crew back in the room", func() bool {
		st := crew.Stats()
		return st.OpenPeers == 1 && st.ConnectionStatus == StatusConnected
	})
	if st := crew.Stats(); st.Role != "crew" || st.LastError != nil {
		t.Fatalf("crew stats after rejoin=%+v", st)
	}

	collector.armed.Store(true)
	waitFor(t, "snapshot after rejoin", func() bool { return crew.Stats().ReceivedCount == 1 })
	if cs := captain.Stats(); cs.ConnectionStatus != StatusConnected || cs.Sent != 1 {
		t.Fatalf("captain stats=%+v", cs)
	}
}

func TestSession_CaptainDropsPeerLeavingRelay(t *testing.T) {
	relayURL := startRelay(t)
	proxy, proxyURL := startProxy(t, relayURL)
	apiA, apiB := newVNetAPIs(t)
	ctx := context.Background()

	pos := state.Vec3{0, 0, 0}
	collector := &onceCollector{snap: state.Snapshot{Timestamp: 1, PlayerPosition: &pos, Asteroids: []state.Asteroid{}}}
	captain := newSession(t, Options{
		Config:         testConfig(relayURL),
		RoomID:         "gone",
		RequestPrimary: true,
		Collector:      collector,
		API:            apiA,
	})
	if _, err := captain.Start(ctx); err != nil {
		t.Fatalf("captain Start: %v", err)
	}
	crew := newSession(t, Options{Config: testConfig(proxyURL), RoomID: "gone", API: apiB})
	if _, err := crew.Start(ctx); err != nil {
		t.Fatalf("crew Start: %v", err)
	}

	waitFor(t, "captain link open", func() bool { return captain.Stats().OpenPeers == 1 })
	waitFor(t, "crew link open", func() bool { return crew.Stats().OpenPeers == 1 })

	// Only the crew's relay socket goes away. Its data channel is left up,
	// so the relay's peer-disconnected is what removes the link.
	proxy.stop()

	waitFor(t, "captain link removal", func() bool { return captain.Stats().Peers == 0 })
	waitFor(t, "crew relay given up", func() bool { return crew.Stats().ConnectionStatus == StatusUnavailable })

	calls := collector.calls.Load()
	collector.armed.Store(true)
	time.Sleep(100 * time.Millisecond)
	if collector.calls.Load() != calls || !collector.armed.Load() {
		t.Fatalf("collector consulted with no open peers")
	}
	if cs := captain.Stats(); cs.Sent != 0 || cs.ConnectionStatus != StatusConnected {
		t.Fatalf("captain stats after peer left=%+v", cs)
	}
}

func TestSession_RelayUnavailable(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	srv.Close()

	s := newSession(t, Options{Config: testConfig(url), RoomID: "r", RequestPrimary: true})
	_, err := s.Start(context.Background())
	if !errors.Is(err, syncerr.ErrSignalingUnavailable) {
		t.Fatalf("Start err=%v, want ErrSignalingUnavailable", err)
	}
	st := s.Stats()
	if st.ConnectionStatus != StatusUnavailable || st.LastError == nil {
		t.Fatalf("stats=%+v", st)
	}

	// Dispose after a failed start must not hang.
	s.Dispose()
	if s.Stats().ConnectionStatus != StatusClosed {
		t.Fatalf("status after Dispose=%s", s.Stats().ConnectionStatus)
	}
}

func TestSession_StartTwice(t *testing.T) {
	url := startRelay(t)
	s := newSession(t, Options{Config: testConfig(url), RoomID: "r", RequestPrimary: true})

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, syncerr.ErrAlreadyJoined) {
		t.Fatalf("second Start err=%v", err)
	}
}

func TestSession_StartAfterDispose(t *testing.T) {
	s := newSession(t, Options{Config: testConfig("ws://127.0.0.1:1/ws"), RoomID: "r"})
	s.Dispose()
	s.Dispose()

	if _, err := s.Start(context.Background()); !errors.Is(err, syncerr.ErrClosed) {
		t.Fatalf("Start after Dispose err=%v", err)
	}
}

func TestSession_ContextEndsLoop(t *testing.T) {
	url := startRelay(t)
	s := newSession(t, Options{Config: testConfig(url), RoomID: "r", RequestPrimary: true})

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	waitFor(t, "loop exit", func() bool { return s.Stats().ConnectionStatus == StatusClosed })
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{RoomID: "r"}); err == nil {
		t.Errorf("missing config accepted")
	}
	if _, err := New(Options{Config: testConfig("ws://x/ws")}); err == nil {
		t.Errorf("missing room accepted")
	}
	cfg := testConfig("ws://x/ws")
	cfg.Codec = "xml"
	if _, err := New(Options{Config: cfg, RoomID: "r"}); err == nil {
		t.Errorf("bad codec accepted")
	}
}
