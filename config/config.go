// Package config holds the runtime toggles spec.md §6.4 calls a
// "configuration header": knobs every package in this module reads to
// decide how aggressively to diagnose misuse versus how fast to run.
package config

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config is the set of toggles read by lfalloc. Default returns the
// production default: no back-traces, no sanitizer fallback,
// magic-number checks on, logic errors logged rather than fatal, and a
// 4 MiB big-slot cache. The zero value differs from it: magic-number
// checks are off and the big-slot cache limit is 0.
type Config struct {
	// CaptureBacktraces is loaded and stored like the other toggles, but
	// no package reads it: allocator headers carry no back-trace fields
	// and nothing calls internal/backtrace.
	CaptureBacktraces bool `yaml:"capture_backtraces"`

	// SanitizerFriendly routes gmem_allocate/gmem_deallocate through
	// the Go runtime allocator instead of the slab/big-slot machinery,
	// so tools like the race detector and ASan-style instrumentation
	// see ordinary heap memory.
	SanitizerFriendly bool `yaml:"sanitizer_friendly"`

	// MagicNumberChecks validates the allocation header's magic word
	// whenever lfalloc recovers a header from a user pointer (Deallocate,
	// MaxAllocatableSize). Disabling it trades corruption detection for a
	// few nanoseconds on the hot path.
	MagicNumberChecks bool `yaml:"magic_number_checks"`

	// LogicErrorTerminate escalates a detected double-free or
	// corruption from "log and return false" to a panic. Mirrors
	// spec.md's "strict debug flag".
	LogicErrorTerminate bool `yaml:"logic_error_terminate"`

	// BigSlotCacheLimitBytes bounds how many freed BIG-tagged slots the
	// big-slot retrieval manager keeps warm before it starts unmapping
	// them outright. Default: 4 MiB, per spec.md §4.2.
	BigSlotCacheLimitBytes int64 `yaml:"big_slot_cache_limit_bytes"`
}

// DefaultBigSlotCacheLimitBytes is spec.md's documented default.
const DefaultBigSlotCacheLimitBytes = 4 << 20

// Default returns the production-default configuration.
func Default() Config {
	return Config{
		MagicNumberChecks:      true,
		BigSlotCacheLimitBytes: DefaultBigSlotCacheLimitBytes,
	}
}

// Load reads a YAML document (as described by Config's struct tags)
// from path and overlays it onto Default(). A missing file is not an
// error; it simply yields the defaults, matching spec.md's "none
// required at runtime".
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

var active atomic.Pointer[Config]

func init() {
	d := Default()
	active.Store(&d)
}

// Set installs cfg as the process-wide configuration consulted by
// lfalloc's package-level gmem_* surface.
// Safe to call concurrently with Get from other goroutines' hot paths.
func Set(cfg Config) { active.Store(&cfg) }

// Get returns the process-wide configuration.
func Get() Config { return *active.Load() }
