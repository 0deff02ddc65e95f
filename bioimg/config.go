/*
	This file holds process-level configuration loaded from a TOML file.
	Every knob has a usable default so a zero Config works for library use;
	the bioimg command loads and applies one at startup.
*/

package bioimg

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
)

const (
	// DefaultCacheMBytes is the default size of the in-memory chunk cache in MB.
	// The larger this number, the fewer chunk fetches hit the underlying source.
	DefaultCacheMBytes = 256

	// DefaultNumFetchers is the default number of goroutines servicing chunk
	// fetches during a single materialization.
	DefaultNumFetchers = 8

	// DefaultMaterializeBudgetMB caps the decoded size of a single materialize
	// request in MB.  Requests over budget fail fast before any I/O.
	DefaultMaterializeBudgetMB = 4096
)

// Config is the TOML-configurable process state.
type Config struct {
	Logging LogConfig

	// CacheMBytes is the chunk cache size in megabytes.
	CacheMBytes int `toml:"cache_mbytes"`

	// NumFetchers is the number of concurrent chunk fetch workers.
	NumFetchers int `toml:"num_fetchers"`

	// MaterializeBudgetMB bounds the decoded size of one materialize call.
	MaterializeBudgetMB int `toml:"materialize_budget_mb"`
}

// DefaultConfig returns a Config with all defaults filled in.
func DefaultConfig() Config {
	return Config{
		CacheMBytes:         DefaultCacheMBytes,
		NumFetchers:         DefaultNumFetchers,
		MaterializeBudgetMB: DefaultMaterializeBudgetMB,
	}
}

// LoadConfig reads a TOML configuration file, filling unset fields with defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	if _, err := os.Stat(path); err != nil {
		return c, fmt.Errorf("unable to read config file %q: %v", path, err)
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return c, fmt.Errorf("error parsing TOML config %q: %v", path, err)
	}
	if c.CacheMBytes <= 0 {
		c.CacheMBytes = DefaultCacheMBytes
	}
	if c.NumFetchers <= 0 {
		c.NumFetchers = DefaultNumFetchers
	}
	if c.MaterializeBudgetMB <= 0 {
		c.MaterializeBudgetMB = DefaultMaterializeBudgetMB
	}
	return c, nil
}

// Apply installs the configuration process-wide.
func (c Config) Apply() {
	c.Logging.SetLogger()
	Infof("Chunk cache set to %s, %d fetch workers, materialize budget %s\n",
		humanize.IBytes(uint64(c.CacheMBytes)<<20), c.NumFetchers,
		humanize.IBytes(uint64(c.MaterializeBudgetMB)<<20))
}
