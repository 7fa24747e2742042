// This file is part of nucypher-sub003.
//
// nucypher-sub003 is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// nucypher-sub003 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with nucypher-sub003. If not, see <https://www.gnu.org/licenses/>.

// Package config loads the TOML configuration file that parameterizes
// the transaction tracker's fee policy and the decryption client's pool
// defaults.
package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nucypher/nucypher-sub003/txtracker"
)

// FeePolicyConfig is the on-disk shape of [fee_policy]. Tip values are
// expressed in gwei for readability; Go code converts to wei.
type FeePolicyConfig struct {
	MaxTipGwei       float64 `toml:"max_tip_gwei"`
	BumpFactor       float64 `toml:"bump_factor"`
	CancelBumpFactor float64 `toml:"cancel_bump_factor"`
}

// TrackerConfig is the on-disk shape of [tracker].
type TrackerConfig struct {
	TimeoutSeconds    int64  `toml:"timeout_seconds"`
	BlockInterval     int    `toml:"block_interval"`
	BlockSampleSize   uint64 `toml:"block_sample_size"`
	RPCThrottleMillis int64  `toml:"rpc_throttle_millis"`
	PersistPath       string `toml:"persist_path"`
}

// DecryptionConfig is the on-disk shape of [decryption].
type DecryptionConfig struct {
	TimeoutSeconds        int64 `toml:"timeout_seconds"`
	StaggerTimeoutSeconds int64 `toml:"stagger_timeout_seconds"`
}

// Config is the root document, loaded from a single TOML file.
type Config struct {
	FeePolicy  FeePolicyConfig  `toml:"fee_policy"`
	Tracker    TrackerConfig    `toml:"tracker"`
	Decryption DecryptionConfig `toml:"decryption"`
}

// Default returns the configuration matching the package-level defaults
// each of txtracker and decryption fall back to when unconfigured.
func Default() Config {
	return Config{
		FeePolicy: FeePolicyConfig{
			MaxTipGwei:       txtracker.DefaultMaxTipGwei,
			BumpFactor:       txtracker.DefaultBumpFactor,
			CancelBumpFactor: txtracker.DefaultCancelBumpFactor,
		},
		Tracker: TrackerConfig{
			TimeoutSeconds:    int64(txtracker.DefaultTimeout / time.Second),
			BlockInterval:     txtracker.DefaultBlockInterval,
			BlockSampleSize:   txtracker.DefaultBlockSampleSize,
			RPCThrottleMillis: int64(txtracker.DefaultRPCThrottle / time.Millisecond),
			PersistPath:       "txs-cache.json",
		},
		Decryption: DecryptionConfig{
			TimeoutSeconds:        30,
			StaggerTimeoutSeconds: 3,
		},
	}
}

// Load parses path as TOML into Config, starting from Default() so any
// section the file omits keeps its default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// MaxTipWei converts the configured gwei tip cap to wei, the unit every
// txtracker API expects.
func (c Config) MaxTipWei() *big.Int {
	wei := new(big.Float).Mul(big.NewFloat(c.FeePolicy.MaxTipGwei), big.NewFloat(1e9))
	out, _ := wei.Int(nil)
	return out
}

// TrackerTimeout returns the configured per-transaction abandon timeout.
func (c Config) TrackerTimeout() time.Duration {
	return time.Duration(c.Tracker.TimeoutSeconds) * time.Second
}

// RPCThrottle returns the configured inter-RPC-call delay within a tick.
func (c Config) RPCThrottle() time.Duration {
	return time.Duration(c.Tracker.RPCThrottleMillis) * time.Millisecond
}

// DecryptionTimeout returns the configured deadline for a decryption
// share gathering round.
func (c Config) DecryptionTimeout() time.Duration {
	return time.Duration(c.Decryption.TimeoutSeconds) * time.Second
}

// DecryptionStaggerTimeout returns the configured launch stagger between
// decryption request batches.
func (c Config) DecryptionStaggerTimeout() time.Duration {
	return time.Duration(c.Decryption.StaggerTimeoutSeconds) * time.Second
}
