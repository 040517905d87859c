package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/theautomat/crewsync/internal/game"
	"github.com/theautomat/crewsync/internal/session"
	"github.com/theautomat/crewsync/internal/signaling"
	"github.com/theautomat/crewsync/internal/syncerr"
	"github.com/theautomat/crewsync/internal/ui"
	"github.com/theautomat/crewsync/internal/utils"
)

// joinRoom starts sess behind a connection spinner. A relay that cannot be
// reached is not an error: the caller carries on without multiplayer.
func joinRoom(ctx context.Context, sess *session.Session) (signaling.RoleAssignment, bool, error) {
	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	role, err := sess.Start(ctx)
	stopSpinner()

	switch {
	case err == nil:
		return role, true, nil
	case errors.Is(err, syncerr.ErrSignalingUnavailable):
		ui.PrintWarning("Relay unavailable, multiplayer is disabled")
		return signaling.RoleAssignment{}, false, nil
	case ctx.Err() != nil:
		return signaling.RoleAssignment{}, false, ctx.Err()
	default:
		return signaling.RoleAssignment{}, false, err
	}
}

// watch shows the live status view until ctx ends or the user quits, then
// prints the session summary.
func watch(ctx context.Context, sess *session.Session, mirror *game.Mirror) {
	started := time.Now()

	view := ui.NewStatusUI("crewsync", func() ui.Status {
		return statusView(sess.Stats(), mirror, time.Since(started))
	})
	view.Start()

	select {
	case <-ctx.Done():
	case <-view.Quit():
	}
	view.Stop()
	sess.Dispose()

	st := sess.Stats()
	elapsed := time.Since(started)
	count := st.Sent
	if st.Role != "captain" {
		count = st.ReceivedCount
	}
	ui.RenderSessionSummary("Session Summary", ui.SessionSummary{
		Role:     st.Role,
		RoomID:   st.RoomID,
		Status:   string(st.ConnectionStatus),
		Duration: utils.FormatTimeDuration(elapsed),
		Peers:    st.Peers,
		Ticks:    st.Ticks,
		Sent:     st.Sent,
		Received: st.ReceivedCount,
		Dropped:  st.Dropped,
		Latency:  utils.FormatLatency(st.LatencyMs),
		Rate:     utils.FormatRate(count, elapsed),
	})
}

func statusView(st session.Stats, mirror *game.Mirror, elapsed time.Duration) ui.Status {
	out := ui.Status{
		Role:       st.Role,
		RoomID:     st.RoomID,
		Connection: string(st.ConnectionStatus),
		OpenPeers:  st.OpenPeers,
		Peers:      st.Peers,
		Sent:       st.Sent,
		Rate:       utils.FormatRate(st.Sent, elapsed),
		Received:   st.ReceivedCount,
		Latency:    utils.FormatLatency(st.LatencyMs),
	}
	if st.LastError != nil {
		out.LastError = st.LastError.Error()
	}
	for _, l := range st.Links {
		out.Links = append(out.Links, ui.LinkRow{PeerID: l.PeerID, State: l.State.String()})
	}
	if mirror != nil {
		if sum := mirror.Summary(); sum.HasPlayer {
			out.World = fmt.Sprintf("%s, ship at (%.0f, %.0f, %.0f), %d asteroids, %d enemies",
				sum.Phase, sum.Player[0], sum.Player[1], sum.Player[2], sum.Asteroids, sum.Enemies)
		}
	}
	return out
}
