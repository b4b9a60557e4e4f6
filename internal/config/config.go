// Package config loads and merges the settings that govern collection
// defaults, accuracy presets, temporal indexing, batch memory discipline,
// background rebuilds, and the projection service, following the
// project/user layered YAML pattern used throughout this codebase.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is the on-disk config schema version, bumped whenever a
// breaking field change is made; MergeNewDefaults stamps it onto the
// configs it upgrades.
const Version = 1

// AccuracyPreset names one of the three search accuracy tiers. Each maps
// to an ef_search multiple of the HNSW M parameter.
type AccuracyPreset string

const (
	AccuracyFast     AccuracyPreset = "fast"
	AccuracyBalanced AccuracyPreset = "balanced"
	AccuracyHigh     AccuracyPreset = "high"
)

// IsKnown reports whether a is one of the three defined presets.
func (a AccuracyPreset) IsKnown() bool {
	switch a {
	case AccuracyFast, AccuracyBalanced, AccuracyHigh:
		return true
	}
	return false
}

// CollectionConfig holds the defaults applied when a new collection is
// created and the parameters that drive the path-quantized fallback and
// the HNSW ANN index.
type CollectionConfig struct {
	// DepthFactor is the number of 2-hex-char directory levels carved out
	// of the 32-hex quantized path. Buckets of 1-10 files are the design
	// target; tune per corpus size.
	DepthFactor int `yaml:"depth_factor"`

	// VectorSize is the embedding dimensionality collections default to
	// when not specified explicitly at creation time.
	VectorSize int `yaml:"vector_size"`

	// HNSWM is the HNSW graph degree parameter. ef_search for each
	// accuracy preset is derived from it: fast≈M, balanced≈2M, high≈4M.
	HNSWM int `yaml:"hnsw_m"`

	// HNSWEfConstruction controls build-time recall/speed tradeoff.
	HNSWEfConstruction int `yaml:"hnsw_ef_construction"`

	// FallbackHammingRadius maps each accuracy preset to the bit-flip
	// radius used when enumerating neighbor paths in the path-quantized
	// fallback search.
	FallbackHammingRadius map[AccuracyPreset]int `yaml:"fallback_hamming_radius"`

	// FallbackWorkers bounds the thread pool used to parallel-load vector
	// files under the enumerated fallback directories.
	FallbackWorkers int `yaml:"fallback_workers"`

	// OverfetchK is the over-fetch multiplier applied to limit before
	// temporal/metadata filtering trims the result set back down.
	OverfetchK int `yaml:"overfetch_k"`
}

// EfSearch returns the ef_search value for the given accuracy preset,
// derived from HNSWM (fast≈M, balanced≈2M, high≈4M).
func (c CollectionConfig) EfSearch(preset AccuracyPreset) int {
	switch preset {
	case AccuracyFast:
		return c.HNSWM
	case AccuracyHigh:
		return c.HNSWM * 4
	default:
		return c.HNSWM * 2
	}
}

// HammingRadius returns the fallback bit-flip radius for the given
// accuracy preset, falling back to the balanced value for unknown input.
func (c CollectionConfig) HammingRadius(preset AccuracyPreset) int {
	if r, ok := c.FallbackHammingRadius[preset]; ok {
		return r
	}
	return c.FallbackHammingRadius[AccuracyBalanced]
}

// TemporalConfig controls how the temporal git index ingests history.
type TemporalConfig struct {
	// Mode selects whether temporal indexing runs at all, and if so
	// whether it walks full history or only tracks HEAD.
	Mode string `yaml:"mode"` // "off", "head_only", "full_history"

	// BatchSize is the target number of blobs processed per batch.
	BatchSize int `yaml:"batch_size"`

	// BatchMemoryBudgetMB is the expected peak per-batch memory envelope
	// used to decide whether to halve the batch or refuse outright.
	BatchMemoryBudgetMB int `yaml:"batch_memory_budget_mb"`

	// HalveBelowMB: if available memory drops below this, halve the
	// next batch size before proceeding.
	HalveBelowMB int `yaml:"halve_below_mb"`

	// RefuseBelowMB: if available memory drops below this, refuse the
	// batch with InsufficientMemory instead of proceeding.
	RefuseBelowMB int `yaml:"refuse_below_mb"`

	// IndexedExtensions is the allow-list of file extensions (with
	// leading dot, lowercase) the temporal indexer will chunk and embed
	// blobs for. A tree entry whose extension isn't listed here still
	// gets its (commit, path, blob) row recorded — only the embedding
	// step is skipped — satisfying invariant 7's "excluded extension"
	// escape hatch for trees referencing blobs with no embedding set.
	IndexedExtensions []string `yaml:"indexed_extensions"`

	// LsTreeTimeout bounds a single `git ls-tree -r HEAD` batch-metadata
	// call; it must comfortably clear 500ms for a 100-file batch.
	LsTreeTimeout time.Duration `yaml:"ls_tree_timeout"`
}

// RebuildConfig controls the background HNSW rebuilder.
type RebuildConfig struct {
	// LockFileName is the advisory lock filename created inside a
	// collection's directory while a rebuild holds the exclusive lock.
	LockFileName string `yaml:"lock_file_name"`

	// WorkerPoolSize is a configured pool size for rebuild workers.
	// internal/rebuild does not read it: RebuildInBackground starts one
	// goroutine per call, and only the per-collection lock serializes
	// rebuilds of the same collection.
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// OrphanTmpMaxAge is a configured age for leftover .tmp artifacts.
	// internal/rebuild does not read it: CleanOrphanedTemps removes every
	// *.tmp file under the collection, whatever its age, while holding the
	// rebuild lock.
	OrphanTmpMaxAge time.Duration `yaml:"orphan_tmp_max_age"`
}

// ProjectionServiceConfig controls the resident localhost daemon that
// caches projection matrices and performs y = x · M.
type ProjectionServiceConfig struct {
	// CacheTTL is the per-entry idle TTL before an entry is evicted from
	// the matrix cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// EvictionScanInterval is how often the background scanner wakes to
	// evict expired cache entries and measure cumulative idle time.
	EvictionScanInterval time.Duration `yaml:"eviction_scan_interval"`

	// IdleShutdownAfter is the cumulative idle duration after which the
	// daemon shuts itself down.
	IdleShutdownAfter time.Duration `yaml:"idle_shutdown_after"`

	// HealthProbeTimeout bounds the client's /health probe before it
	// considers the daemon unresponsive and begins the backoff/spawn
	// sequence.
	HealthProbeTimeout time.Duration `yaml:"health_probe_timeout"`

	// StartupBackoff is the client-side retry schedule attempted after
	// spawning the daemon, in order. Total budget ≈5s, 6 attempts.
	StartupBackoff []time.Duration `yaml:"-"`

	// RequestTimeout bounds a single request to the daemon; exceeding it
	// triggers in-process fallback just like a failed health probe.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// CacheSize bounds the number of distinct collection matrices held
	// in the in-memory LRU alongside the TTL eviction.
	CacheSize int `yaml:"cache_size"`
}

// Config is the top-level, merged configuration for a collection
// workspace: collection/HNSW defaults, temporal indexing, background
// rebuild, and projection service settings.
type Config struct {
	Version    int                     `yaml:"version"`
	LogLevel   string                  `yaml:"log_level"`
	Accuracy   AccuracyPreset          `yaml:"accuracy"`
	Collection CollectionConfig        `yaml:"collection"`
	Temporal   TemporalConfig          `yaml:"temporal"`
	Rebuild    RebuildConfig           `yaml:"rebuild"`
	Projection ProjectionServiceConfig `yaml:"projection_service"`
}

// NewConfig returns a Config populated entirely with defaults.
func NewConfig() *Config {
	return &Config{
		Version:  Version,
		LogLevel: "info",
		Accuracy: AccuracyBalanced,
		Collection: CollectionConfig{
			DepthFactor:        4,
			VectorSize:         768,
			HNSWM:              16,
			HNSWEfConstruction: 200,
			FallbackHammingRadius: map[AccuracyPreset]int{
				AccuracyFast:     1,
				AccuracyBalanced: 2,
				AccuracyHigh:     3,
			},
			FallbackWorkers: 10,
			OverfetchK:      3,
		},
		Temporal: TemporalConfig{
			Mode:                "head_only",
			BatchSize:           500,
			BatchMemoryBudgetMB: 450,
			HalveBelowMB:        1024,
			RefuseBelowMB:       512,
			IndexedExtensions: []string{
				".py", ".go", ".ts", ".tsx", ".js", ".jsx", ".rs", ".java",
				".rb", ".c", ".h", ".cpp", ".hpp", ".md",
			},
			LsTreeTimeout: 500 * time.Millisecond,
		},
		Rebuild: RebuildConfig{
			LockFileName:    ".index_rebuild.lock",
			WorkerPoolSize:  1,
			OrphanTmpMaxAge: 10 * time.Minute,
		},
		Projection: ProjectionServiceConfig{
			CacheTTL:             60 * time.Minute,
			EvictionScanInterval: 5 * time.Minute,
			IdleShutdownAfter:    60 * time.Minute,
			HealthProbeTimeout:   1 * time.Second,
			StartupBackoff: []time.Duration{
				100 * time.Millisecond,
				200 * time.Millisecond,
				400 * time.Millisecond,
				800 * time.Millisecond,
				1600 * time.Millisecond,
				1900 * time.Millisecond,
			},
			RequestTimeout: 5 * time.Second,
			CacheSize:      64,
		},
	}
}

// Load builds a Config by layering user config, project config, and
// environment variable overrides on top of the defaults, then validates
// the result.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// GetUserConfigDir returns the directory holding the user-global config.
func GetUserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".code-indexer-matrix-service"), nil
}

// GetUserConfigPath returns the path to the user-global config file.
func GetUserConfigPath() (string, error) {
	dir, err := GetUserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// UserConfigExists reports whether a user-global config file is present.
func UserConfigExists() bool {
	path, err := GetUserConfigPath()
	if err != nil {
		return false
	}
	return fileExists(path)
}

func loadUserConfig() (*Config, error) {
	path, err := GetUserConfigPath()
	if err != nil || !fileExists(path) {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read user config %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse user config %s: %w", path, err)
	}
	return &parsed, nil
}

// loadFromFile attempts to load project-level config from
// .code-indexer.yaml or .code-indexer.yml inside dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".code-indexer.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".code-indexer.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c, field by field.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Accuracy != "" {
		c.Accuracy = other.Accuracy
	}
	if other.Collection.DepthFactor != 0 {
		c.Collection.DepthFactor = other.Collection.DepthFactor
	}
	if other.Collection.VectorSize != 0 {
		c.Collection.VectorSize = other.Collection.VectorSize
	}
	if other.Collection.HNSWM != 0 {
		c.Collection.HNSWM = other.Collection.HNSWM
	}
	if other.Collection.HNSWEfConstruction != 0 {
		c.Collection.HNSWEfConstruction = other.Collection.HNSWEfConstruction
	}
	if len(other.Collection.FallbackHammingRadius) > 0 {
		c.Collection.FallbackHammingRadius = other.Collection.FallbackHammingRadius
	}
	if other.Collection.FallbackWorkers != 0 {
		c.Collection.FallbackWorkers = other.Collection.FallbackWorkers
	}
	if other.Collection.OverfetchK != 0 {
		c.Collection.OverfetchK = other.Collection.OverfetchK
	}
	if other.Temporal.Mode != "" {
		c.Temporal.Mode = other.Temporal.Mode
	}
	if other.Temporal.BatchSize != 0 {
		c.Temporal.BatchSize = other.Temporal.BatchSize
	}
	if other.Temporal.BatchMemoryBudgetMB != 0 {
		c.Temporal.BatchMemoryBudgetMB = other.Temporal.BatchMemoryBudgetMB
	}
	if other.Temporal.HalveBelowMB != 0 {
		c.Temporal.HalveBelowMB = other.Temporal.HalveBelowMB
	}
	if other.Temporal.RefuseBelowMB != 0 {
		c.Temporal.RefuseBelowMB = other.Temporal.RefuseBelowMB
	}
	if other.Temporal.LsTreeTimeout != 0 {
		c.Temporal.LsTreeTimeout = other.Temporal.LsTreeTimeout
	}
	if len(other.Temporal.IndexedExtensions) > 0 {
		c.Temporal.IndexedExtensions = other.Temporal.IndexedExtensions
	}
	if other.Rebuild.LockFileName != "" {
		c.Rebuild.LockFileName = other.Rebuild.LockFileName
	}
	if other.Rebuild.WorkerPoolSize != 0 {
		c.Rebuild.WorkerPoolSize = other.Rebuild.WorkerPoolSize
	}
	if other.Rebuild.OrphanTmpMaxAge != 0 {
		c.Rebuild.OrphanTmpMaxAge = other.Rebuild.OrphanTmpMaxAge
	}
	if other.Projection.CacheTTL != 0 {
		c.Projection.CacheTTL = other.Projection.CacheTTL
	}
	if other.Projection.EvictionScanInterval != 0 {
		c.Projection.EvictionScanInterval = other.Projection.EvictionScanInterval
	}
	if other.Projection.IdleShutdownAfter != 0 {
		c.Projection.IdleShutdownAfter = other.Projection.IdleShutdownAfter
	}
	if other.Projection.HealthProbeTimeout != 0 {
		c.Projection.HealthProbeTimeout = other.Projection.HealthProbeTimeout
	}
	if other.Projection.RequestTimeout != 0 {
		c.Projection.RequestTimeout = other.Projection.RequestTimeout
	}
	if other.Projection.CacheSize != 0 {
		c.Projection.CacheSize = other.Projection.CacheSize
	}
}

// applyEnvOverrides applies the highest-precedence environment variable
// overrides, supporting explicit zero/empty values where meaningful.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODE_INDEXER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CODE_INDEXER_ACCURACY"); v != "" {
		preset := AccuracyPreset(strings.ToLower(v))
		if preset.IsKnown() {
			c.Accuracy = preset
		}
	}
	if v := os.Getenv("CODE_INDEXER_DEPTH_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Collection.DepthFactor = n
		}
	}
	if v := os.Getenv("CODE_INDEXER_HNSW_M"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Collection.HNSWM = n
		}
	}
	if v := os.Getenv("CODE_INDEXER_TEMPORAL_MODE"); v != "" {
		c.Temporal.Mode = v
	}
	if v := os.Getenv("CODE_INDEXER_TEMPORAL_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Temporal.BatchSize = n
		}
	}
	if v := os.Getenv("CODE_INDEXER_REBUILD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Rebuild.WorkerPoolSize = n
		}
	}
}

// Validate checks invariants that must hold for the engine to operate
// correctly; it never mutates the receiver.
func (c *Config) Validate() error {
	if c.Collection.DepthFactor <= 0 {
		return fmt.Errorf("collection.depth_factor must be > 0, got %d", c.Collection.DepthFactor)
	}
	if c.Collection.DepthFactor > 16 {
		return fmt.Errorf("collection.depth_factor must be <= 16 (32 hex chars total), got %d", c.Collection.DepthFactor)
	}
	if c.Collection.HNSWM <= 0 {
		return fmt.Errorf("collection.hnsw_m must be > 0, got %d", c.Collection.HNSWM)
	}
	if !c.Accuracy.IsKnown() {
		return fmt.Errorf("accuracy must be one of fast|balanced|high, got %q", c.Accuracy)
	}
	switch c.Temporal.Mode {
	case "off", "head_only", "full_history":
	default:
		return fmt.Errorf("temporal.mode must be one of off|head_only|full_history, got %q", c.Temporal.Mode)
	}
	if c.Temporal.RefuseBelowMB >= c.Temporal.HalveBelowMB {
		return fmt.Errorf("temporal.refuse_below_mb (%d) must be < halve_below_mb (%d)", c.Temporal.RefuseBelowMB, c.Temporal.HalveBelowMB)
	}
	if c.Rebuild.WorkerPoolSize <= 0 {
		return fmt.Errorf("rebuild.worker_pool_size must be > 0, got %d", c.Rebuild.WorkerPoolSize)
	}
	return nil
}

// WriteYAML serializes c and writes it to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// MergeNewDefaults fills in Collection.FallbackHammingRadius and
// Projection.StartupBackoff from the defaults when an older, on-disk
// config lacks them, and sets Version to the current schema version.
// Other zero-valued fields are left as they are.
func (c *Config) MergeNewDefaults() {
	fresh := NewConfig()
	if c.Collection.FallbackHammingRadius == nil {
		c.Collection.FallbackHammingRadius = fresh.Collection.FallbackHammingRadius
	}
	if len(c.Projection.StartupBackoff) == 0 {
		c.Projection.StartupBackoff = fresh.Projection.StartupBackoff
	}
	c.Version = Version
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
