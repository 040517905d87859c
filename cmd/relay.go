package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theautomat/crewsync/internal/relay"
	"github.com/theautomat/crewsync/internal/ui"
)

var (
	flagListen  string
	flagOrigins []string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the relay that brokers room membership and WebRTC negotiation.

Examples:
  crewsync relay
  crewsync relay --listen :9000 --origin https://game.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := configOptions()
		opts.ListenAddr = flagListen
		opts.AllowedOrigins = flagOrigins

		cfg, err := LoadConfig(opts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRelay(ctx, cfg.ListenAddr, cfg.AllowedOrigins)
	},
}

func init() {
	relayCmd.Flags().StringVar(&flagListen, "listen", "", "address to listen on (default :8080)")
	relayCmd.Flags().StringSliceVar(&flagOrigins, "origin", nil, "allowed browser origin, repeatable (default any)")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(ctx context.Context, addr string, origins []string) error {
	hub := relay.NewHub()
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           relay.NewHandler(hub, origins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	ui.PrintSuccessf("Relay listening on %s", ui.BoldStyle.Render(addr))
	slog.Info("relay started", "addr", addr, "origins", origins)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	ui.PrintInfo("Relay stopped")
	return nil
}
