package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relayCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "relay"}
	AddRelayFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func peerCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "peer"}
	AddPeerFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestRelayDefaults(t *testing.T) {
	cfg, err := LoadRelay(relayCmd(t))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, Log{Level: "info", Format: "text"}, cfg.Log)
}

func TestFlagsBeatEnvironment(t *testing.T) {
	t.Setenv("WEBUNO_LISTEN", ":9000")
	t.Setenv("WEBUNO_LOG_LEVEL", "debug")
	t.Setenv("WEBUNO_PING_INTERVAL", "5s")

	cfg, err := LoadRelay(relayCmd(t, "--listen", ":7000"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen, "flag")
	assert.Equal(t, "debug", cfg.Log.Level, "env")
	assert.Equal(t, 5*time.Second, cfg.PingInterval, "env")
}

func TestRelayRejectsBadInterval(t *testing.T) {
	_, err := LoadRelay(relayCmd(t, "--ping-interval", "0s"))
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":6000\"\nlog-format: json\n"), 0o600))

	cfg, err := LoadRelay(relayCmd(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Listen)
	assert.Equal(t, "json", cfg.Log.Format)

	_, err = LoadRelay(relayCmd(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestLoadPeer(t *testing.T) {
	cfg, err := LoadPeer(peerCmd(t,
		"--name", " Alice ",
		"--room", "Brave Otter 42",
		"--score-limit", "-1",
		"--hand-size", "5",
		"--draw-to-match",
		"--stun", "stun:a:3478,stun:b:3478",
		"--start-with", "3",
	))
	require.NoError(t, err)
	assert.Equal(t, "Alice", cfg.Name)
	assert.Equal(t, "brave-otter-42", cfg.Room)
	assert.Equal(t, "ws://localhost:8080/", cfg.RelayURL)
	assert.False(t, cfg.Create)
	assert.Equal(t, []string{"stun:a:3478", "stun:b:3478"}, cfg.STUN)
	assert.Equal(t, 3, cfg.StartWith)
	assert.Equal(t, engine.Settings{
		StartingHandSize: 5,
		ScoreLimit:       engine.Endless,
		HouseRules:       engine.HouseRules{DrawToMatch: true},
	}, cfg.Settings)

	def, err := LoadPeer(peerCmd(t, "--name", "Bob", "--create"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSTUN, def.STUN)
	assert.Equal(t, engine.DefaultSettings(), def.Settings)
}

func TestLoadPeerValidation(t *testing.T) {
	for name, args := range map[string][]string{
		"no name":     {"--room", "brave-otter-42"},
		"no room":     {"--name", "Alice"},
		"bad room":    {"--name", "Alice", "--room", "lobby"},
		"empty relay": {"--name", "Alice", "--create", "--relay-url", ""},
		"start-with":  {"--name", "Alice", "--create", "--start-with", "1"},
	} {
		_, err := LoadPeer(peerCmd(t, args...))
		assert.Error(t, err, name)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("WEBUNO_NAME=Dora\nWEBUNO_ROOM=keen-lynx-17\n"), 0o600))
	t.Setenv("WEBUNO_ROOM", "calm-heron-33")
	t.Setenv("WEBUNO_NAME", "")
	require.NoError(t, os.Unsetenv("WEBUNO_NAME"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	cfg, err := LoadPeer(peerCmd(t))
	require.NoError(t, err)
	assert.Equal(t, "Dora", cfg.Name)
	assert.Equal(t, "calm-heron-33", cfg.Room, "existing variables win")
}
