package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"github.com/theautomat/crewsync/internal/game"
	"github.com/theautomat/crewsync/internal/session"
	"github.com/theautomat/crewsync/internal/ui"
)

var (
	flagSeed        uint64
	flagNoClipboard bool
)

var captainCmd = &cobra.Command{
	Use:     "captain [room]",
	Aliases: []string{"host"},
	Short:   "Host a room and stream your game to the crew",
	Long: `Claim the captain seat of a room and stream the game to everyone who joins.
Without a room name a new one is generated and copied to the clipboard.

If the room already has a captain you join it as crew instead.

Examples:
  crewsync captain
  crewsync captain brave-otter --codec msgpack`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := petname.Generate(2, "-")
		if len(args) == 1 {
			roomID = args[0]
		}
		return runCaptain(roomID)
	},
}

func init() {
	captainCmd.Flags().Uint64Var(&flagSeed, "seed", 0, "seed for the demo asteroid field")
	captainCmd.Flags().BoolVar(&flagNoClipboard, "no-clipboard", false, "do not copy the room id to the clipboard")
	rootCmd.AddCommand(captainCmd)
}

func runCaptain(roomID string) error {
	cfg, err := LoadConfig(configOptions())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	world := game.NewWorld(nil, game.WorldOptions{Seed: flagSeed})
	world.Start()
	go world.Run(ctx, cfg.BroadcastInterval)

	mirror := game.NewMirror()
	sess, err := session.New(session.Options{
		Config:         cfg,
		RoomID:         roomID,
		RequestPrimary: true,
		Collector:      world,
	})
	if err != nil {
		return err
	}
	defer sess.Dispose()
	sess.OnStateReceived(mirror.Apply)

	role, online, err := joinRoom(ctx, sess)
	if err != nil {
		return err
	}
	if !online {
		ui.PrintInfo("Playing single-player, press Ctrl+C to quit")
		<-ctx.Done()
		return nil
	}

	if !role.IsPrimary {
		ui.PrintWarningf("Room %s already has a captain, joining as crew", roomID)
		world.End()
	}

	copied := false
	if role.IsPrimary && !flagNoClipboard {
		if err := clipboard.WriteAll(roomID); err != nil {
			slog.Debug("clipboard unavailable", "err", err)
		} else {
			copied = true
		}
	}
	ui.RenderRoomInfo(ui.RoomInfo{
		RoomID:  roomID,
		Role:    role.Role(),
		JoinCmd: fmt.Sprintf("crewsync crew %s", roomID),
		Copied:  copied,
	})

	watch(ctx, sess, mirror)
	return nil
}
