package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/theautomat/crewsync/internal/game"
	"github.com/theautomat/crewsync/internal/session"
	"github.com/theautomat/crewsync/internal/ui"
)

var crewCmd = &cobra.Command{
	Use:     "crew <room>",
	Aliases: []string{"join"},
	Short:   "Join a room and follow the captain's game",
	Long: `Join a room as crew and mirror the game state the captain streams.

Examples:
  crewsync crew brave-otter
  crewsync crew brave-otter --domain relay.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrew(args[0])
	},
}

func init() {
	rootCmd.AddCommand(crewCmd)
}

func runCrew(roomID string) error {
	cfg, err := LoadConfig(configOptions())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror := game.NewMirror()
	sess, err := session.New(session.Options{
		Config: cfg,
		RoomID: roomID,
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
		return fmt.Errorf("cannot join room %s without the relay", roomID)
	}

	ui.RenderRoomInfo(ui.RoomInfo{RoomID: roomID, Role: role.Role()})
	watch(ctx, sess, mirror)
	return nil
}
