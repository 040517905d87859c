// Package session ties the relay connection, role negotiation, peer links
// and the snapshot stream together for one room.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	pion "github.com/pion/webrtc/v4"

	"github.com/theautomat/crewsync/internal/config"
	"github.com/theautomat/crewsync/internal/signaling"
	"github.com/theautomat/crewsync/internal/state"
	"github.com/theautomat/crewsync/internal/syncerr"
	"github.com/theautomat/crewsync/internal/webrtc"
)

// ConnectionStatus is the advisory relay status shown to users.
type ConnectionStatus string

const (
	StatusIdle         ConnectionStatus = "idle"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusUnavailable  ConnectionStatus = "unavailable"
	StatusClosed       ConnectionStatus = "closed"

	// StatusRoomLost means the relay is reachable again but the room could
	// not be rejoined. The next reconnect tries again.
	StatusRoomLost ConnectionStatus = "room-lost"
)

// Options configure a Session.
type Options struct {
	Config *config.Config

	RoomID         string
	RequestPrimary bool

	// Collector supplies snapshots when this session becomes the captain.
	Collector state.Collector

	// API overrides the pion API, e.g. to run on a virtual network.
	API *pion.API

	Clock clockwork.Clock
}

// Stats is a copy of the session's status for displays. It is advisory.
type Stats struct {
	ConnectionStatus ConnectionStatus
	LastError        error

	Role   string
	RoomID string

	OpenPeers int
	Peers     int
	Links     []webrtc.LinkInfo

	// Captain side.
	Ticks uint64
	Sent  uint64

	// Crew side.
	ReceivedCount uint64
	Dropped       uint64
	LatencyMs     int64
}

// Session is one participant in one room. Create it with New, run it with
// Start and release it with Dispose.
type Session struct {
	opts     Options
	cfg      *config.Config
	clock    clockwork.Clock
	codec    state.Codec
	receiver *state.Receiver

	done        chan struct{}
	disposeOnce sync.Once

	mu          sync.Mutex
	started     bool
	loopDone    chan struct{}
	broadcaster *state.Broadcaster
	stats       Stats
}

// runtime is everything Start builds. It is owned by the loop goroutine.
type runtime struct {
	role        signaling.RoleAssignment
	client      *signaling.Client
	handler     *signaling.Handler
	manager     *webrtc.Manager
	broadcaster *state.Broadcaster
	ticker      clockwork.Ticker

	// connects counts relay connections; the first one is the initial connect.
	connects int

	// rejoin delivers the outcome of a join started after a relay reconnect.
	// Room events that arrive before it are held in deferred.
	rejoin       chan rejoinResult
	cancelRejoin context.CancelFunc
	deferred     []signaling.Event
}

type rejoinResult struct {
	role signaling.RoleAssignment
	err  error
}

// tick returns the broadcast ticker channel, or nil on a crew session.
func (rt *runtime) tick() <-chan time.Time {
	if rt.ticker == nil {
		return nil
	}
	return rt.ticker.Chan()
}

func (rt *runtime) stopTicker() {
	if rt.ticker != nil {
		rt.ticker.Stop()
		rt.ticker = nil
	}
}

// New validates opts and creates an idle session.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("session: config is required")
	}
	if opts.RoomID == "" {
		return nil, errors.New("session: room id is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	codec, err := state.CodecByName(opts.Config.Codec)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Session{
		opts:     opts,
		cfg:      opts.Config,
		clock:    opts.Clock,
		codec:    codec,
		receiver: state.NewReceiver(opts.Clock),
		done:     make(chan struct{}),
		stats: Stats{
			ConnectionStatus: StatusIdle,
			RoomID:           opts.RoomID,
		},
	}, nil
}

// OnStateReceived registers fn for every snapshot accepted from the captain.
// It is only ever called on a crew session.
func (s *Session) OnStateReceived(fn state.Handler) {
	s.receiver.OnStateReceived(fn)
}

// Start connects to the relay, joins the room and starts the event loop.
// A relay that cannot be reached is reported as ErrSignalingUnavailable and
// leaves the session unusable but harmless. The loop runs until ctx ends or
// Dispose is called.
func (s *Session) Start(ctx context.Context) (signaling.RoleAssignment, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return signaling.RoleAssignment{}, syncerr.New("start session", syncerr.ErrAlreadyJoined)
	}
	s.started = true
	s.mu.Unlock()

	select {
	case <-s.done:
		return signaling.RoleAssignment{}, syncerr.New("start session", syncerr.ErrClosed)
	default:
	}

	setupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-setupCtx.Done():
		}
	}()

	s.setStatus(StatusConnecting, nil)

	client := signaling.NewClient(s.cfg.RelayURL, signaling.Options{
		ConnectTimeout:    s.cfg.ConnectTimeout,
		ReconnectAttempts: s.cfg.ReconnectAttempts,
		ReconnectDelay:    s.cfg.ReconnectDelay,
		Clock:             s.clock,
	})
	if err := client.Connect(setupCtx); err != nil {
		slog.Warn("relay unavailable, multiplayer disabled", "url", s.cfg.RelayURL, "err", err)
		client.Close()
		s.setStatus(StatusUnavailable, err)
		return signaling.RoleAssignment{}, err
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	abort := func(err error) (signaling.RoleAssignment, error) {
		handler.Close()
		client.Close()
		s.setStatus(StatusUnavailable, err)
		return signaling.RoleAssignment{}, err
	}

	role, err := signaling.NewResolver(handler).Resolve(setupCtx, s.opts.RoomID, s.opts.RequestPrimary)
	if err != nil {
		slog.Warn("failed to join room", "room", s.opts.RoomID, "err", err)
		return abort(err)
	}

	rt := &runtime{
		client:  client,
		handler: handler,
	}
	s.assignRole(rt, role)

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		rt.manager.CloseAll()
		rt.stopTicker()
		return abort(syncerr.New("start session", syncerr.ErrClosed))
	default:
	}
	s.loopDone = make(chan struct{})
	s.stats.ConnectionStatus = StatusConnected
	s.stats.LastError = nil
	go s.loop(ctx, rt, s.loopDone)
	s.mu.Unlock()

	slog.Info("session started", "room", s.opts.RoomID, "role", role.Role())
	return role, nil
}

// Dispose stops the loop and releases every link and the relay connection.
// It is safe to call more than once and before Start.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	loopDone := s.loopDone
	s.mu.Unlock()
	if loopDone != nil {
		<-loopDone
	}
	s.setStatus(StatusClosed, nil)
}

// Stats returns a copy of the current status.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := s.stats
	st.Links = append([]webrtc.LinkInfo(nil), s.stats.Links...)
	b := s.broadcaster
	s.mu.Unlock()

	if b != nil {
		st.Ticks = b.Ticks()
		st.Sent = b.Sent()
	}
	rec := s.receiver.Record()
	st.ReceivedCount = rec.ReceivedCount
	st.Dropped = s.receiver.Dropped()
	st.LatencyMs = rec.LatencyMs
	return st
}

// LastSnapshot returns the most recent snapshot from the captain, if any.
func (s *Session) LastSnapshot() (*state.Snapshot, bool) {
	rec := s.receiver.Record()
	return rec.LastSnapshot, rec.LastSnapshot != nil
}

// assignRole applies a role from the relay. A change of side replaces the
// manager, since a manager is either offering or answering for its lifetime.
func (s *Session) assignRole(rt *runtime, role signaling.RoleAssignment) {
	changed := rt.manager == nil || rt.role.IsPrimary != role.IsPrimary
	rt.role = role

	if changed {
		if rt.manager != nil {
			slog.Info("role changed", "room", role.RoomID, "role", role.Role())
			rt.manager.CloseAll()
		}
		rt.stopTicker()
		rt.broadcaster = nil

		rt.manager = webrtc.NewManager(webrtc.ManagerOptions{
			API:           s.opts.API,
			Configuration: webrtc.Configuration(s.cfg),
			Signaler:      rt.client,
			IsPrimary:     role.IsPrimary,
		})
		if role.IsPrimary {
			rt.broadcaster = state.NewBroadcaster(s.collector(), linkSource(rt.manager), s.codec)
			rt.ticker = s.clock.NewTicker(s.cfg.BroadcastInterval)
		}
	}

	s.mu.Lock()
	s.broadcaster = rt.broadcaster
	s.stats.Role = role.Role()
	s.mu.Unlock()
}

func (s *Session) collector() state.Collector {
	if s.opts.Collector != nil {
		return s.opts.Collector
	}
	slog.Warn("captain has no state collector, nothing will be broadcast", "room", s.opts.RoomID)
	return state.CollectorFunc(func() (state.Snapshot, bool) { return state.Snapshot{}, false })
}

func (s *Session) setStatus(status ConnectionStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats.ConnectionStatus == StatusClosed {
		return
	}
	s.stats.ConnectionStatus = status
	if err != nil || status == StatusConnected {
		s.stats.LastError = err
	}
}

func (s *Session) publishLinks(m *webrtc.Manager) {
	open, total := m.Counts()
	links := m.Links()

	s.mu.Lock()
	s.stats.OpenPeers = open
	s.stats.Peers = total
	s.stats.Links = links
	s.mu.Unlock()
}

// linkSource exposes the manager's open links to the broadcaster. It is
// only called from the loop.
func linkSource(m *webrtc.Manager) state.ChannelSource {
	return state.ChannelSourceFunc(func() []state.Channel {
		links := m.OpenLinks()
		channels := make([]state.Channel, len(links))
		for i, link := range links {
			channels[i] = link
		}
		return channels
	})
}
