package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values (local development)
const (
	DefaultRelayURL          = "ws://localhost:8080/ws"
	DefaultSTUN              = "stun:stun.l.google.com:19302"
	DefaultConnectTimeout    = 15 * time.Second
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 1 * time.Second
	DefaultBroadcastInterval = 33 * time.Millisecond
	DefaultCodec             = "json"
	DefaultListenAddr        = ":8080"
	DefaultEnvFile           = ".env"
)

// Config holds application configuration
type Config struct {
	// RelayURL is the websocket endpoint of the relay.
	RelayURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN candidates when a TURN server is set.
	ForceRelay bool

	// Relay connection bounds
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// BroadcastInterval is the captain's snapshot cadence.
	BroadcastInterval time.Duration

	// Codec names the snapshot encoding the captain sends: json or msgpack.
	Codec string

	// Relay server settings
	ListenAddr     string
	AllowedOrigins []string
}

// Options carries CLI flag overrides. Zero values mean "not set".
type Options struct {
	RelayURL          string
	Domain            string
	STUNServer        string
	TURNServer        string
	TURNUser          string
	TURNPass          string
	ForceRelay        bool
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	BroadcastInterval time.Duration
	Codec             string
	ListenAddr        string
	AllowedOrigins    []string

	// ConfigFile is an optional YAML file.
	ConfigFile string

	// EnvFile is an optional dotenv file. DefaultEnvFile is read when it exists.
	EnvFile string
}

// fileConfig mirrors the YAML file layout.
type fileConfig struct {
	Relay             string        `yaml:"relay"`
	Domain            string        `yaml:"domain"`
	STUN              string        `yaml:"stun"`
	TURN              string        `yaml:"turn"`
	TURNUser          string        `yaml:"turn_username"`
	TURNPass          string        `yaml:"turn_password"`
	ForceRelay        bool          `yaml:"force_relay"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	Codec             string        `yaml:"codec"`
	Listen            string        `yaml:"listen"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
}

// source resolves one setting through env, .env and the YAML file.
type source struct {
	dotenv map[string]string
	file   fileConfig
}

func (s *source) env(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	if v, ok := s.dotenv[key]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (s *source) str(flag, key, file, def string) string {
	if flag != "" {
		return flag
	}
	if v, ok := s.env(key); ok {
		return v
	}
	if file != "" {
		return file
	}
	return def
}

func (s *source) duration(flag time.Duration, key string, file, def time.Duration) (time.Duration, error) {
	if flag > 0 {
		return flag, nil
	}
	if v, ok := s.env(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		return d, nil
	}
	if file > 0 {
		return file, nil
	}
	return def, nil
}

func (s *source) integer(flag int, key string, file, def int) (int, error) {
	if flag > 0 {
		return flag, nil
	}
	if v, ok := s.env(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		return n, nil
	}
	if file > 0 {
		return file, nil
	}
	return def, nil
}

func (s *source) boolean(flag bool, key string, file bool) (bool, error) {
	if flag {
		return true, nil
	}
	if v, ok := s.env(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		return b, nil
	}
	return file, nil
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. The .env file
// 4. The YAML config file
// 5. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	src := &source{}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	values, err := godotenv.Read(envFile)
	switch {
	case err == nil:
		src.dotenv = values
	case errors.Is(err, os.ErrNotExist) && opts.EnvFile == "":
		// The default .env is optional.
	default:
		return nil, fmt.Errorf("read env file %s: %w", envFile, err)
	}

	if opts.ConfigFile != "" {
		raw, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &src.file); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", opts.ConfigFile, err)
		}
	}

	cfg := &Config{
		STUNServer: src.str(opts.STUNServer, "STUN_SERVER", src.file.STUN, DefaultSTUN),
		TURNServer: src.str(opts.TURNServer, "TURN_SERVER", src.file.TURN, ""),
		TURNUser:   src.str(opts.TURNUser, "TURN_USERNAME", src.file.TURNUser, ""),
		TURNPass:   src.str(opts.TURNPass, "TURN_PASSWORD", src.file.TURNPass, ""),
		Codec:      strings.ToLower(src.str(opts.Codec, "CODEC", src.file.Codec, DefaultCodec)),
		ListenAddr: src.str(opts.ListenAddr, "LISTEN_ADDR", src.file.Listen, DefaultListenAddr),
	}

	// An explicit relay URL wins over a domain at the same level.
	relayFile := src.file.Relay
	if relayFile == "" && src.file.Domain != "" {
		relayFile = domainURL(src.file.Domain)
	}
	relayFlag := opts.RelayURL
	if relayFlag == "" && opts.Domain != "" {
		relayFlag = domainURL(opts.Domain)
	}
	relayEnv, _ := src.env("RELAY_URL")
	if relayEnv == "" {
		if domain, ok := src.env("DOMAIN"); ok {
			relayEnv = domainURL(domain)
		}
	}
	switch {
	case relayFlag != "":
		cfg.RelayURL = relayFlag
	case relayEnv != "":
		cfg.RelayURL = relayEnv
	case relayFile != "":
		cfg.RelayURL = relayFile
	default:
		cfg.RelayURL = DefaultRelayURL
	}

	if cfg.ForceRelay, err = src.boolean(opts.ForceRelay, "FORCE_RELAY", src.file.ForceRelay); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout, err = src.duration(opts.ConnectTimeout, "CONNECT_TIMEOUT", src.file.ConnectTimeout, DefaultConnectTimeout); err != nil {
		return nil, err
	}
	if cfg.ReconnectAttempts, err = src.integer(opts.ReconnectAttempts, "RECONNECT_ATTEMPTS", src.file.ReconnectAttempts, DefaultReconnectAttempts); err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay, err = src.duration(opts.ReconnectDelay, "RECONNECT_DELAY", src.file.ReconnectDelay, DefaultReconnectDelay); err != nil {
		return nil, err
	}
	if cfg.BroadcastInterval, err = src.duration(opts.BroadcastInterval, "BROADCAST_INTERVAL", src.file.BroadcastInterval, DefaultBroadcastInterval); err != nil {
		return nil, err
	}

	switch {
	case len(opts.AllowedOrigins) > 0:
		cfg.AllowedOrigins = opts.AllowedOrigins
	default:
		if v, ok := src.env("ALLOWED_ORIGINS"); ok {
			cfg.AllowedOrigins = splitList(v)
		} else {
			cfg.AllowedOrigins = src.file.AllowedOrigins
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the session cannot run with.
func (c *Config) Validate() error {
	if c.Codec != "json" && c.Codec != "msgpack" {
		return fmt.Errorf("unknown codec %q (want json or msgpack)", c.Codec)
	}
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("reconnect attempts must be at least 1, got %d", c.ReconnectAttempts)
	}
	if c.BroadcastInterval <= 0 {
		return fmt.Errorf("broadcast interval must be positive, got %s", c.BroadcastInterval)
	}
	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return splitList(c.STUNServer)
}

// GetTURNServers returns TURN server URLs if configured. A bare host expands
// to the usual UDP, TCP and TLS endpoints.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.Contains(c.TURNServer, "?transport=") || strings.Contains(c.TURNServer, ",") {
		return splitList(c.TURNServer)
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func domainURL(domain string) string {
	return fmt.Sprintf("wss://%s/ws", domain)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
