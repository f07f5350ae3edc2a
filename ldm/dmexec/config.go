package dmexec

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mdbooth/libldm/ldmerr"
)

// Config tunes the executor's host-facing behavior: how hard to retry
// a busy-device removal, and how long to wait for a device node to
// settle. Exposed as a small TOML-loadable struct (SPEC_FULL.md §8) —
// the teacher depends on github.com/BurntSushi/toml but nothing else
// in this module's scope needed a config file until this retry/poll
// tuning did.
type Config struct {
	RemoveMaxRetries uint64        `toml:"remove_max_retries"`
	RemoveMaxElapsed time.Duration `toml:"remove_max_elapsed"`
	WaitMaxRetries   uint64        `toml:"wait_max_retries"`
}

// DefaultConfig matches the original's bespoke `for i := 0; i < 10;
// i++ { sleep 10ms }` busy-device retry loop in shape, not constant:
// bounded retries with exponential rather than fixed backoff (see
// remove.go).
func DefaultConfig() Config {
	return Config{
		RemoveMaxRetries: 10,
		RemoveMaxElapsed: 5 * time.Second,
		WaitMaxRetries:   20,
	}
}

// LoadConfig reads a Config from a TOML file, starting from
// DefaultConfig so an input file only needs to override what it
// cares about.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, ldmerr.Wrap(ldmerr.Io, err, "loading dmexec config from %s", path)
	}
	return cfg, nil
}
