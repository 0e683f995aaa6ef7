package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "ipnsName: injector\nrepoDir: /tmp/repo\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "injector", cfg.IPNSName)
	assert.Equal(t, "/tmp/repo", cfg.RepoDir)
	assert.Equal(t, "local", cfg.ObjectStore)
	assert.Equal(t, 64, cfg.MaxNodeSize)
	assert.Equal(t, 10*time.Minute, time.Duration(cfg.RepublishLifetime))
	assert.Equal(t, 5*time.Second, time.Duration(cfg.RefreshInterval))
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
ipnsName: injector
repoDir: /tmp/repo
objectStore: ipfs
ipfsApiAddr: localhost:5001
maxNodeSize: 8
republishLifetime: 1m
refreshInterval: 1s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ipfs", cfg.ObjectStore)
	assert.Equal(t, "localhost:5001", cfg.IPFSAPIAddr)
	assert.Equal(t, 8, cfg.MaxNodeSize)
	assert.Equal(t, time.Minute, time.Duration(cfg.RepublishLifetime))
	assert.Equal(t, time.Second, time.Duration(cfg.RefreshInterval))
}

func TestLoadRequiresIPNSNameAndRepoDir(t *testing.T) {
	path := writeConfig(t, "objectStore: local\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
