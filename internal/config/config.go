// Package config loads settings for the relay and peer binaries from
// flags, WEBUNO_* environment variables, an optional config file and a
// .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/relay"
	"github.com/jason-s-yu/webuno/internal/roomcode"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. WEBUNO_LISTEN.
const EnvPrefix = "WEBUNO"

// DefaultSTUN is used when no STUN servers are configured.
var DefaultSTUN = []string{"stun:stun.l.google.com:19302"}

// Log holds the logging settings shared by both binaries.
type Log struct {
	Level  string
	Format string
}

// Relay configures cmd/relay.
type Relay struct {
	Listen         string
	PingInterval   time.Duration
	AllowedOrigins []string
	Log            Log
}

// Peer configures cmd/peer.
type Peer struct {
	RelayURL string
	Room     string
	Name     string
	Avatar   string
	Create   bool
	STUN     []string
	RedisURL string
	Autoplay bool
	Log      Log

	// Host-only game settings. StartWith starts a game once that many
	// players are present; zero leaves starting to someone else.
	Settings  engine.Settings
	StartWith int
}

// LoadDotEnv loads the given .env files into the environment without
// overriding variables already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func addCommon(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("config", "", "config file (yaml, json or toml)")
	f.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	f.String("log-format", "text", "log format (text or json)")
}

// AddRelayFlags registers the relay's flags on cmd.
func AddRelayFlags(cmd *cobra.Command) {
	addCommon(cmd)
	f := cmd.Flags()
	f.String("listen", ":8080", "address to listen on")
	f.Duration("ping-interval", relay.DefaultPingInterval, "WebSocket keepalive interval")
	f.StringSlice("allowed-origins", nil, "allowed browser origins (default any)")
}

// AddPeerFlags registers the peer's flags on cmd.
func AddPeerFlags(cmd *cobra.Command) {
	addCommon(cmd)
	f := cmd.Flags()
	def := engine.DefaultSettings()
	f.String("relay-url", "ws://localhost:8080/", "relay WebSocket URL")
	f.String("room", "", "room code to join")
	f.String("name", "", "display name")
	f.String("avatar", "", "avatar")
	f.Bool("create", false, "create a new room and host it")
	f.StringSlice("stun", DefaultSTUN, "STUN server URLs")
	f.String("redis-url", "", "redis URL for the action history (host only)")
	f.Bool("autoplay", false, "play automatically whenever it is our turn")
	f.Int("hand-size", def.StartingHandSize, "starting hand size (host only)")
	f.Int("score-limit", int(def.ScoreLimit), "points to win; 0 plays one round, -1 never ends (host only)")
	f.Bool("draw-to-match", def.HouseRules.DrawToMatch, "keep drawing until a playable card (host only)")
	f.Int("start-with", 0, "start a game once this many players are present (host only; 0 never)")
}

// bind returns a viper instance layering cmd's flags over the environment
// and the optional config file.
func bind(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v, nil
}

func logSettings(v *viper.Viper) Log {
	return Log{Level: v.GetString("log-level"), Format: v.GetString("log-format")}
}

// LoadRelay reads the relay configuration for cmd.
func LoadRelay(cmd *cobra.Command) (Relay, error) {
	v, err := bind(cmd)
	if err != nil {
		return Relay{}, err
	}
	cfg := Relay{
		Listen:         v.GetString("listen"),
		PingInterval:   v.GetDuration("ping-interval"),
		AllowedOrigins: v.GetStringSlice("allowed-origins"),
		Log:            logSettings(v),
	}
	if cfg.Listen == "" {
		return Relay{}, errors.New("listen address is required")
	}
	if cfg.PingInterval <= 0 {
		return Relay{}, fmt.Errorf("ping interval must be positive, got %s", cfg.PingInterval)
	}
	return cfg, nil
}

// LoadPeer reads the peer configuration for cmd. The room code is
// normalized; it may only be empty when creating a room.
func LoadPeer(cmd *cobra.Command) (Peer, error) {
	v, err := bind(cmd)
	if err != nil {
		return Peer{}, err
	}
	cfg := Peer{
		RelayURL: v.GetString("relay-url"),
		Room:     roomcode.Normalize(v.GetString("room")),
		Name:     strings.TrimSpace(v.GetString("name")),
		Avatar:   v.GetString("avatar"),
		Create:   v.GetBool("create"),
		STUN:     v.GetStringSlice("stun"),
		RedisURL: v.GetString("redis-url"),
		Autoplay: v.GetBool("autoplay"),
		Log:      logSettings(v),
		Settings: engine.Settings{
			StartingHandSize: v.GetInt("hand-size"),
			ScoreLimit:       engine.ScoreLimit(v.GetInt("score-limit")),
			HouseRules:       engine.HouseRules{DrawToMatch: v.GetBool("draw-to-match")},
		},
		StartWith: v.GetInt("start-with"),
	}
	switch {
	case cfg.RelayURL == "":
		return Peer{}, errors.New("relay URL is required")
	case cfg.Name == "":
		return Peer{}, errors.New("name is required")
	case cfg.Room == "" && !cfg.Create:
		return Peer{}, errors.New("room is required unless creating one")
	case cfg.Room != "" && !roomcode.Valid(cfg.Room):
		return Peer{}, fmt.Errorf("invalid room code %q", cfg.Room)
	case cfg.StartWith != 0 && (cfg.StartWith < engine.MinPlayers || cfg.StartWith > engine.MaxPlayers):
		return Peer{}, fmt.Errorf("start-with must be 0 or between %d and %d", engine.MinPlayers, engine.MaxPlayers)
	}
	return cfg, nil
}
