package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.APIListenAddr)
	assert.Equal(t, ":8888", cfg.Server.WSListenAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  ws_listen_addr: ":9999"
logging:
  level: info
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.WSListenAddr)
	assert.Equal(t, ":8080", cfg.Server.APIListenAddr, "unset values keep defaults")
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
