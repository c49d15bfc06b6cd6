// Engine-wide tunables and their YAML configuration shape.
//
// Grounded in the teacher's config grouping style (sim/config.go groups
// related parameters into small structs such as BatchConfig/KVCacheConfig)
// and its strict-YAML loading idiom (sim/bundle.go's LoadPolicyBundle,
// cmd/default_config.go's GetDefaultSpecs) — both decode with
// decoder.KnownFields(true) so a typo'd key is a load error, not a silently
// ignored default.

package engine

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults from SPEC_FULL.md §6.
const (
	// MaxBatch is the maximum number of requests in a single dispatched
	// batch.
	MaxBatch = 16
	// KVMax is the GPU KV-cache budget in tokens.
	KVMax = 32768
	// WBaseMillis is the dispatcher's base (maximum) window in
	// milliseconds, reached when arrival entropy is zero.
	WBaseMillis = 10
	// WMinMillis is the floor the adaptive window is clamped to.
	WMinMillis = 1
	// Tau is the entropy decay constant in the window-shaping exponential.
	Tau = 5.0
	// AlphaDefault is the default aging coefficient, priority-units/second.
	AlphaDefault = 1.0
	// PrefillRateTokensPerSec is the modeled prefill throughput.
	PrefillRateTokensPerSec = 1024.0
	// DecodeBaseTokensPerSec is the modeled per-item decode rate at batch
	// size 1; see gpu.go for the full batch-size-dependent formula.
	DecodeBaseTokensPerSec = 128.0
)

// Config is the engine's own configuration shape, loadable from YAML. It
// covers the constants above plus a bootstrap tenant list so a
// demonstration ingress (see cmd/) can stand the engine up without a real
// tenant-configuration service, which SPEC_FULL.md §1 places out of scope.
type Config struct {
	Alpha         float64        `yaml:"alpha"`
	MaxBatch      int            `yaml:"max_batch"`
	KVMax         int            `yaml:"kv_max"`
	WBaseMillis   float64        `yaml:"w_base_ms"`
	Tau           float64        `yaml:"tau"`
	PrefillRate   float64        `yaml:"prefill_rate"`
	DecodeBase    float64        `yaml:"decode_base"`
	EntropyWindow int            `yaml:"entropy_window"`
	Tenants       []TenantConfig `yaml:"tenants"`
}

// TenantConfig bootstraps one TenantRegistry entry.
type TenantConfig struct {
	ID       string  `yaml:"id"`
	Rate     float64 `yaml:"rate"`
	BurstCap float64 `yaml:"burst_cap"`
}

// DefaultConfig returns the SPEC_FULL.md §6 defaults with no tenants
// registered.
func DefaultConfig() Config {
	return Config{
		Alpha:         AlphaDefault,
		MaxBatch:      MaxBatch,
		KVMax:         KVMax,
		WBaseMillis:   WBaseMillis,
		Tau:           Tau,
		PrefillRate:   PrefillRateTokensPerSec,
		DecodeBase:    DecodeBaseTokensPerSec,
		EntropyWindow: EntropyWindowSize,
	}
}

// LoadConfig reads and strictly parses a YAML engine configuration file,
// starting from DefaultConfig so any field the file omits keeps its
// specification default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading engine config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing engine config: %w", err)
	}
	return cfg, nil
}
