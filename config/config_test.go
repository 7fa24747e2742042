package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[fee_policy]
max_tip_gwei = 25.0
bump_factor = 1.3

[tracker]
timeout_seconds = 1800
rpc_throttle_millis = 250

[decryption]
timeout_seconds = 45
`

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.FeePolicy.MaxTipGwei)
	assert.Equal(t, 1.3, cfg.FeePolicy.BumpFactor)
	assert.Equal(t, 2.0, cfg.FeePolicy.CancelBumpFactor, "omitted fields keep their default")
	assert.Equal(t, 30*time.Minute, cfg.TrackerTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.RPCThrottle())
	assert.Equal(t, 45*time.Second, cfg.DecryptionTimeout())
	assert.Equal(t, 3*time.Second, cfg.DecryptionStaggerTimeout())
}

func TestMaxTipWeiConvertsGweiToWei(t *testing.T) {
	cfg := Default()
	cfg.FeePolicy.MaxTipGwei = 10
	assert.Equal(t, "10000000000", cfg.MaxTipWei().String())
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
