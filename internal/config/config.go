// Package config loads and validates the HiveForge TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root HiveForge configuration, assembled from nested section
// structs the same way the upstream Cortex config does it.
type Config struct {
	General    General             `toml:"general"`
	Hives      map[string]Hive     `toml:"hives"`
	RateLimits RateLimits          `toml:"rate_limits"`
	Providers  map[string]Provider `toml:"providers"`
	Tiers      Tiers               `toml:"tiers"`
	Cadence    Cadence             `toml:"cadence"`
	Health     Health              `toml:"health"`
	API        API                 `toml:"api"`
	Scheduler  SchedulerConfig     `toml:"scheduler"`
	Sinks      Sinks               `toml:"sinks"`
}

// General holds process-wide settings: tick cadence, storage locations,
// logging, and fleet-wide concurrency caps.
type General struct {
	TickInterval        Duration `toml:"tick_interval"`
	MaxDispatchesPerTick int     `toml:"max_dispatches_per_tick"`
	LogLevel             string  `toml:"log_level"`
	VaultDir             string  `toml:"vault_dir"`
	LockFile             string  `toml:"lock_file"`
	SQLiteSidecarPath    string  `toml:"sqlite_sidecar_path"` // secondary metrics/health store, not the Akashic Record

	MaxConcurrentWorkers  int `toml:"max_concurrent_workers"`
	MaxConcurrentReviewers int `toml:"max_concurrent_reviewers"`
	MaxConcurrentTotal    int `toml:"max_concurrent_total"`

	SilenceThreshold Duration `toml:"silence_threshold"` // passed to the Silence Watchdog (C9)
}

// Cadence configures the cron expression the Conference Manager uses to
// schedule recurring all-hands sessions.
type Cadence struct {
	ConferenceCron string `toml:"conference_cron"` // robfig/cron expression, e.g. "0 9 * * MON"
	Timezone       string `toml:"timezone"`        // IANA timezone (default UTC)
}

// Hive configures one top-level Hive: its workspace, which Colonies it may
// spawn, and the policy/merge defaults inherited by Runs under it.
type Hive struct {
	Enabled     bool   `toml:"enabled"`
	Workspace   string `toml:"workspace"`
	Priority    int    `toml:"priority"`
	BaseBranch  string `toml:"base_branch"`  // default "main"
	MergeMethod string `toml:"merge_method"` // squash, merge, rebase (default squash)

	MaxConcurrentColonies int `toml:"max_concurrent_colonies"`

	RetryPolicy RetryPolicy `toml:"retry_policy"`
}

// RetryPolicy parameterises Task retry backoff and when a repeated failure
// escalates rather than retrying again.
type RetryPolicy struct {
	MaxRetries    int      `toml:"max_retries"`
	InitialDelay  Duration `toml:"initial_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
	MaxDelay      Duration `toml:"max_delay"`
	EscalateAfter int      `toml:"escalate_after"`
}

// RateLimits bounds total LLM provider spend across the fleet.
type RateLimits struct {
	Window5hCap       int            `toml:"window_5h_cap"`
	WeeklyCap         int            `toml:"weekly_cap"`
	WeeklyHeadroomPct int            `toml:"weekly_headroom_pct"`
	Budget            map[string]int `toml:"budget"` // hive name -> percentage allocation
}

// Provider describes one LLM backend the Rate Limiter and Scheduler can
// dispatch Agent Runner turns to.
type Provider struct {
	Tier              string  `toml:"tier"`
	Model             string  `toml:"model"`
	CLI               string  `toml:"cli"`
	CostInputPerMtok  float64 `toml:"cost_input_per_mtok"`
	CostOutputPerMtok float64 `toml:"cost_output_per_mtok"`
	RPS               float64 `toml:"rps"`         // token-bucket refill rate for golang.org/x/time/rate
	MaxConcurrent     int     `toml:"max_concurrent"` // semaphore weight for golang.org/x/sync/semaphore
}

// Tiers groups provider names by cost/capability tier so a Task's declared
// tier (fast/balanced/premium) resolves to a concrete provider set.
type Tiers struct {
	Fast     []string `toml:"fast"`
	Balanced []string `toml:"balanced"`
	Premium  []string `toml:"premium"`
}

// Health configures the Silence Watchdog's polling cadence, independent of
// the per-run threshold carried on General.
type Health struct {
	CheckInterval          Duration `toml:"check_interval"`
	ConcurrencyWarningPct  float64  `toml:"concurrency_warning_pct"`  // alert threshold (default 0.80)
	ConcurrencyCriticalPct float64  `toml:"concurrency_critical_pct"` // critical threshold (default 0.95)
}

// API configures the REST surface (SPEC_FULL.md §6).
type API struct {
	Bind     string      `toml:"bind"`
	Security APISecurity `toml:"security"`
}

type APISecurity struct {
	Enabled          bool     `toml:"enabled"`
	AllowedTokens    []string `toml:"allowed_tokens"`
	RequireLocalOnly bool     `toml:"require_local_only"`
	AuditLog         string   `toml:"audit_log"`
}

// SchedulerConfig parameterises C9's worker pool, emergency stop, and
// escalation behavior.
type SchedulerConfig struct {
	WorkerRestartBudget      int      `toml:"worker_restart_budget"`       // per-worker MaxRestarts
	FleetRestartBudget       int      `toml:"fleet_restart_budget"`        // fleet-wide sliding-window cap
	FleetRestartWindow       Duration `toml:"fleet_restart_window"`
	EscalationTimeout        Duration `toml:"escalation_timeout"`
	DispatchCooldown         Duration `toml:"dispatch_cooldown"`
	AgentTurnTimeoutFast     Duration `toml:"agent_turn_timeout_fast"`
	AgentTurnTimeoutBalanced Duration `toml:"agent_turn_timeout_balanced"`
	AgentTurnTimeoutPremium  Duration `toml:"agent_turn_timeout_premium"`
	TemporalTaskQueue        string   `toml:"temporal_task_queue"`
	TemporalHostPort         string   `toml:"temporal_host_port"`
}

// Sinks configures the Projection Sinks (C10).
type Sinks struct {
	GitHub GitHubSinkConfig `toml:"github"`
}

type GitHubSinkConfig struct {
	Enabled   bool   `toml:"enabled"`
	Repo      string `toml:"repo"`      // "owner/name"
	Workspace string `toml:"workspace"` // directory gh is invoked from
}

// Clone returns a deep copy of cfg so callers can safely mutate the result.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}

	cloned := *cfg
	cloned.Hives = cloneHives(cfg.Hives)
	cloned.RateLimits.Budget = cloneStringIntMap(cfg.RateLimits.Budget)
	cloned.Providers = cloneProviders(cfg.Providers)
	cloned.Tiers = Tiers{
		Fast:     cloneStringSlice(cfg.Tiers.Fast),
		Balanced: cloneStringSlice(cfg.Tiers.Balanced),
		Premium:  cloneStringSlice(cfg.Tiers.Premium),
	}
	cloned.API.Security.AllowedTokens = cloneStringSlice(cfg.API.Security.AllowedTokens)
	return &cloned
}

func cloneHives(in map[string]Hive) map[string]Hive {
	if in == nil {
		return nil
	}
	out := make(map[string]Hive, len(in))
	for key, hive := range in {
		out[key] = hive
	}
	return out
}

func cloneStringIntMap(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneProviders(in map[string]Provider) map[string]Provider {
	if in == nil {
		return nil
	}
	out := make(map[string]Provider, len(in))
	for key, provider := range in {
		out[key] = provider
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Load reads, defaults, and validates a HiveForge TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg, md)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validating: %w", err)
	}

	return &cfg, nil
}

// Reload reads and validates a HiveForge TOML configuration file. It mirrors
// Load but is named to reflect runtime refresh paths.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed
// thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config: path is required")
	}

	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config, md toml.MetaData) {
	if cfg.General.TickInterval.Duration == 0 {
		cfg.General.TickInterval.Duration = 10 * time.Second
	}
	if cfg.General.MaxDispatchesPerTick == 0 {
		cfg.General.MaxDispatchesPerTick = 5
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.VaultDir == "" {
		cfg.General.VaultDir = "./vault"
	}
	if cfg.General.SilenceThreshold.Duration == 0 {
		cfg.General.SilenceThreshold.Duration = 15 * time.Minute
	}
	if cfg.General.MaxConcurrentWorkers == 0 {
		cfg.General.MaxConcurrentWorkers = 25
	}
	if cfg.General.MaxConcurrentReviewers == 0 {
		cfg.General.MaxConcurrentReviewers = 10
	}
	if cfg.General.MaxConcurrentTotal == 0 {
		cfg.General.MaxConcurrentTotal = 40
	}

	if cfg.RateLimits.Window5hCap == 0 {
		cfg.RateLimits.Window5hCap = 20
	}
	if cfg.RateLimits.WeeklyCap == 0 {
		cfg.RateLimits.WeeklyCap = 200
	}
	if cfg.RateLimits.WeeklyHeadroomPct == 0 {
		cfg.RateLimits.WeeklyHeadroomPct = 80
	}

	if cfg.Cadence.ConferenceCron == "" {
		cfg.Cadence.ConferenceCron = "0 9 * * MON"
	}
	if cfg.Cadence.Timezone == "" {
		cfg.Cadence.Timezone = "UTC"
	}

	if cfg.Health.CheckInterval.Duration == 0 {
		cfg.Health.CheckInterval.Duration = time.Minute
	}
	if cfg.Health.ConcurrencyWarningPct == 0 {
		cfg.Health.ConcurrencyWarningPct = 0.80
	}
	if cfg.Health.ConcurrencyCriticalPct == 0 {
		cfg.Health.ConcurrencyCriticalPct = 0.95
	}

	if cfg.Scheduler.WorkerRestartBudget == 0 {
		cfg.Scheduler.WorkerRestartBudget = 3
	}
	if cfg.Scheduler.FleetRestartBudget == 0 {
		cfg.Scheduler.FleetRestartBudget = 10
	}
	if cfg.Scheduler.FleetRestartWindow.Duration == 0 {
		cfg.Scheduler.FleetRestartWindow.Duration = time.Hour
	}
	if cfg.Scheduler.EscalationTimeout.Duration == 0 {
		cfg.Scheduler.EscalationTimeout.Duration = 30 * time.Minute
	}
	if cfg.Scheduler.DispatchCooldown.Duration == 0 {
		cfg.Scheduler.DispatchCooldown.Duration = 5 * time.Second
	}
	if cfg.Scheduler.AgentTurnTimeoutFast.Duration == 0 {
		cfg.Scheduler.AgentTurnTimeoutFast.Duration = 15 * time.Minute
	}
	if cfg.Scheduler.AgentTurnTimeoutBalanced.Duration == 0 {
		cfg.Scheduler.AgentTurnTimeoutBalanced.Duration = 45 * time.Minute
	}
	if cfg.Scheduler.AgentTurnTimeoutPremium.Duration == 0 {
		cfg.Scheduler.AgentTurnTimeoutPremium.Duration = 120 * time.Minute
	}
	if cfg.Scheduler.TemporalTaskQueue == "" {
		cfg.Scheduler.TemporalTaskQueue = "hiveforge-tasks"
	}

	for name, hive := range cfg.Hives {
		if hive.BaseBranch == "" {
			hive.BaseBranch = "main"
		}
		if !md.IsDefined("hives", name, "merge_method") {
			hive.MergeMethod = "squash"
		}
		hive.MergeMethod = strings.ToLower(strings.TrimSpace(hive.MergeMethod))
		if hive.MaxConcurrentColonies == 0 {
			hive.MaxConcurrentColonies = 5
		}
		cfg.Hives[name] = hive
	}

	if !cfg.API.Security.Enabled && cfg.API.Bind != "" && !isLocalBind(cfg.API.Bind) {
		cfg.API.Security.RequireLocalOnly = true
	}
}

func normalizePaths(cfg *Config) {
	cfg.General.VaultDir = ExpandHome(cfg.General.VaultDir)
	cfg.General.LockFile = ExpandHome(cfg.General.LockFile)
	cfg.General.SQLiteSidecarPath = ExpandHome(cfg.General.SQLiteSidecarPath)
	for name, hive := range cfg.Hives {
		hive.Workspace = ExpandHome(hive.Workspace)
		cfg.Hives[name] = hive
	}
}

func isLocalBind(bind string) bool {
	host, _, ok := strings.Cut(bind, ":")
	if !ok {
		return false
	}
	switch host {
	case "", "127.0.0.1", "localhost", "::1":
		return true
	default:
		return false
	}
}

func validate(cfg *Config) error {
	allTierNames := make([]string, 0, len(cfg.Tiers.Fast)+len(cfg.Tiers.Balanced)+len(cfg.Tiers.Premium))
	allTierNames = append(allTierNames, cfg.Tiers.Fast...)
	allTierNames = append(allTierNames, cfg.Tiers.Balanced...)
	allTierNames = append(allTierNames, cfg.Tiers.Premium...)

	for _, name := range allTierNames {
		if _, ok := cfg.Providers[name]; !ok {
			return fmt.Errorf("tier references unknown provider %q", name)
		}
	}

	hasEnabled := false
	for hiveName, h := range cfg.Hives {
		if h.Enabled {
			hasEnabled = true
		}
		if err := validateRetryPolicy(fmt.Sprintf("hives.%s.retry_policy", hiveName), h.RetryPolicy); err != nil {
			return fmt.Errorf("hive %q retry policy: %w", hiveName, err)
		}
		if m := h.MergeMethod; m != "" && m != "squash" && m != "merge" && m != "rebase" {
			return fmt.Errorf("hive %q: unknown merge_method %q", hiveName, m)
		}
	}
	if len(cfg.Hives) > 0 && !hasEnabled {
		return fmt.Errorf("at least one hive must be enabled")
	}

	if err := validateCadenceConfig(cfg.Cadence); err != nil {
		return fmt.Errorf("cadence config: %w", err)
	}

	if cfg.General.VaultDir != "" {
		dir := filepath.Dir(cfg.General.VaultDir)
		if dir != "." {
			if info, err := os.Stat(dir); err == nil && !info.IsDir() {
				return fmt.Errorf("vault_dir parent path %q is not a directory", dir)
			}
		}
	}

	if cfg.RateLimits.Budget != nil && len(cfg.RateLimits.Budget) > 0 {
		total := 0
		for hive, percentage := range cfg.RateLimits.Budget {
			if percentage < 0 {
				return fmt.Errorf("budget for hive %q cannot be negative: %d", hive, percentage)
			}
			if percentage > 100 {
				return fmt.Errorf("budget for hive %q cannot exceed 100%%: %d", hive, percentage)
			}
			total += percentage
		}
		if total != 100 {
			return fmt.Errorf("rate limit budget percentages must sum to 100, got %d", total)
		}
	}

	if cfg.API.Security.Enabled {
		if len(cfg.API.Security.AllowedTokens) == 0 {
			return fmt.Errorf("api security enabled but no allowed_tokens configured")
		}
		for i, token := range cfg.API.Security.AllowedTokens {
			if len(token) < 16 {
				return fmt.Errorf("api security token %d is too short (minimum 16 characters)", i)
			}
		}
		if cfg.API.Security.AuditLog != "" {
			dir := ExpandHome(filepath.Dir(cfg.API.Security.AuditLog))
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("cannot create audit log directory %q: %w", dir, err)
			}
		}
	}

	if cfg.Sinks.GitHub.Enabled && cfg.Sinks.GitHub.Repo == "" {
		return fmt.Errorf("sinks.github enabled but no repo configured")
	}

	if cfg.Scheduler.WorkerRestartBudget < 0 {
		return fmt.Errorf("scheduler.worker_restart_budget cannot be negative")
	}
	if cfg.Scheduler.FleetRestartBudget < 0 {
		return fmt.Errorf("scheduler.fleet_restart_budget cannot be negative")
	}

	return nil
}

func validateRetryPolicy(fieldPath string, policy RetryPolicy) error {
	if policy.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries cannot be negative", fieldPath)
	}
	if policy.BackoffFactor < 0 {
		return fmt.Errorf("%s.backoff_factor cannot be negative", fieldPath)
	}
	if policy.EscalateAfter < 0 {
		return fmt.Errorf("%s.escalate_after cannot be negative", fieldPath)
	}
	return nil
}

func validateCadenceConfig(c Cadence) error {
	if _, err := c.LoadLocation(); err != nil {
		return err
	}
	return nil
}

// LoadLocation parses Cadence.Timezone as an IANA location.
func (c Cadence) LoadLocation() (*time.Location, error) {
	tz := c.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("cadence: invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// GetHiveBudget returns the configured spend-budget percentage for hive, or
// 0 if unconfigured.
func (rl *RateLimits) GetHiveBudget(hive string) int {
	if rl.Budget == nil {
		return 0
	}
	return rl.Budget[hive]
}

// ProviderForTier resolves a trust tier string ("fast"/"balanced"/"premium")
// to its configured provider names.
func (cfg *Config) ProviderForTier(tier string) []string {
	switch tier {
	case "fast":
		return cfg.Tiers.Fast
	case "balanced":
		return cfg.Tiers.Balanced
	case "premium":
		return cfg.Tiers.Premium
	default:
		return nil
	}
}

// AgentTurnTimeoutForTier returns the per-turn timeout budget for tier,
// falling back to the balanced timeout for an unrecognised tier.
func (cfg *Config) AgentTurnTimeoutForTier(tier string) time.Duration {
	switch tier {
	case "fast":
		return cfg.Scheduler.AgentTurnTimeoutFast.Duration
	case "premium":
		return cfg.Scheduler.AgentTurnTimeoutPremium.Duration
	default:
		return cfg.Scheduler.AgentTurnTimeoutBalanced.Duration
	}
}
