package common

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig is the on-disk (TOML) representation of a cluster configuration.
// Durations are in milliseconds.
type FileConfig struct {
	Cluster            []Server `toml:"cluster"`
	HeartbeatInterval  int      `toml:"heartbeat_interval_ms"`
	ElectionTimeoutMin int      `toml:"election_timeout_min_ms"`
	ElectionTimeoutMax int      `toml:"election_timeout_max_ms"`
}

// LoadConfig reads a TOML cluster configuration from path.
func LoadConfig(path string) (ClusterConfig, error) {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return ClusterConfig{}, err
	}
	return fc.ClusterConfig(), nil
}

// WriteConfig writes the configuration as TOML to path.
func WriteConfig(path string, fc FileConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	encoder := toml.NewEncoder(f)
	encoder.Indent = "  "
	return encoder.Encode(fc)
}

func (fc FileConfig) ClusterConfig() ClusterConfig {
	return ClusterConfig{
		Cluster:            fc.Cluster,
		HeartbeatInterval:  time.Duration(fc.HeartbeatInterval) * time.Millisecond,
		ElectionTimeoutMin: time.Duration(fc.ElectionTimeoutMin) * time.Millisecond,
		ElectionTimeoutMax: time.Duration(fc.ElectionTimeoutMax) * time.Millisecond,
	}
}
