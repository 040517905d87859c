package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/theautomat/crewsync/internal/config"
	"github.com/theautomat/crewsync/internal/syncerr"
	"github.com/theautomat/crewsync/internal/ui"
	"github.com/theautomat/crewsync/internal/version"
)

var (
	flagConfigFile        string
	flagEnvFile           string
	flagRelayURL          string
	flagDomain            string
	flagSTUN              string
	flagTURN              string
	flagTURNUser          string
	flagTURNPass          string
	flagForceRelay        bool
	flagConnectTimeout    time.Duration
	flagReconnectAttempts int
	flagReconnectDelay    time.Duration
	flagBroadcastInterval time.Duration
	flagCodec             string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crewsync",
	Short: "Stream a captain's game state to crew peers over WebRTC",
	Long: `crewsync keeps a room of players in sync. The first player to claim the
captain seat simulates the game and streams snapshots of it to every crew
member over unordered, unreliable WebRTC data channels. A small relay only
brokers the connection setup; it never sees game state.`,
	Version: version.Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigFile, "config", "", "YAML config file")
	pf.StringVar(&flagEnvFile, "env-file", "", "dotenv file (default .env when present)")
	pf.StringVar(&flagRelayURL, "relay", "", "relay websocket URL")
	pf.StringVar(&flagDomain, "domain", "", "relay domain, expands to wss://<domain>/ws")
	pf.StringVar(&flagSTUN, "stun", "", "STUN server URL(s), comma separated")
	pf.StringVar(&flagTURN, "turn", "", "TURN server host or URL(s)")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	pf.BoolVar(&flagForceRelay, "force-relay", false, "only use TURN relay candidates")
	pf.DurationVar(&flagConnectTimeout, "connect-timeout", 0, "relay connect timeout (default 15s)")
	pf.IntVar(&flagReconnectAttempts, "reconnect-attempts", 0, "relay dial attempts per connect (default 5)")
	pf.DurationVar(&flagReconnectDelay, "reconnect-delay", 0, "pause between relay dial attempts (default 1s)")
	pf.DurationVar(&flagBroadcastInterval, "interval", 0, "captain snapshot interval (default 33ms)")
	pf.StringVar(&flagCodec, "codec", "", "snapshot encoding: json or msgpack")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

// configOptions collects the persistent flags into config overrides.
func configOptions() config.Options {
	return config.Options{
		RelayURL:          flagRelayURL,
		Domain:            flagDomain,
		STUNServer:        flagSTUN,
		TURNServer:        flagTURN,
		TURNUser:          flagTURNUser,
		TURNPass:          flagTURNPass,
		ForceRelay:        flagForceRelay,
		ConnectTimeout:    flagConnectTimeout,
		ReconnectAttempts: flagReconnectAttempts,
		ReconnectDelay:    flagReconnectDelay,
		BroadcastInterval: flagBroadcastInterval,
		Codec:             flagCodec,
		ConfigFile:        flagConfigFile,
		EnvFile:           flagEnvFile,
	}
}

// LoadConfig resolves the configuration for a command.
func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, syncerr.New("load config", err)
	}
	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}
