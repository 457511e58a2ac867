// Package validation implements the commit validation gate: a configurable
// rule engine that checks whether the entities and relationships required
// for a referenced task exist before a commit is allowed.
package validation

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"engram/internal/types"
)

// Requirement names, as they appear in config files and failure reports.
const (
	ReqTaskReference = "require_task_reference"
	ReqReasoning     = "require_reasoning_relationship"
	ReqContext       = "require_context_relationship"
	ReqFileScope     = "require_file_scope_match"
)

// relationForRequirement maps a relationship requirement to the edge type
// it checks for on the task.
var relationForRequirement = map[string]types.RelationType{
	ReqReasoning: types.RelReasoning,
	ReqContext:   types.RelContext,
	ReqFileScope: types.RelReferences,
}

// TaskIDPattern matches task references in commit messages. The first
// capture group is the extracted task id.
type TaskIDPattern struct {
	Pattern string `yaml:"pattern"`
	Name    string `yaml:"name"`
	Example string `yaml:"example"`
}

// Exemption waives some or all validation for matching commit messages.
// Exemptions are evaluated in order; the first match wins.
type Exemption struct {
	MessagePattern string   `yaml:"message_pattern"`
	SkipValidation bool     `yaml:"skip_validation"`
	SkipSpecific   []string `yaml:"skip_specific,omitempty"`
	Reason         string   `yaml:"reason,omitempty"`
}

// Performance tunes the validation cache and execution budget.
type Performance struct {
	CacheTTLSeconds          int  `yaml:"cache_ttl_seconds"`
	MaxCacheEntries          int  `yaml:"max_cache_entries"`
	EnableParallelValidation bool `yaml:"enable_parallel_validation"`
	ValidationTimeoutSeconds int  `yaml:"validation_timeout_seconds"`
}

// Config is the validation rule set. Loaded once per invocation and treated
// as immutable for the process lifetime.
type Config struct {
	Enabled                      bool            `yaml:"enabled"`
	RequireTaskReference         bool            `yaml:"require_task_reference"`
	RequireReasoningRelationship bool            `yaml:"require_reasoning_relationship"`
	RequireContextRelationship   bool            `yaml:"require_context_relationship"`
	RequireFileScopeMatch        bool            `yaml:"require_file_scope_match"`
	TaskIDPatterns               []TaskIDPattern `yaml:"task_id_patterns"`
	Exemptions                   []Exemption     `yaml:"exemptions"`
	Performance                  Performance     `yaml:"performance"`
}

// DefaultConfig returns the built-in rule set.
func DefaultConfig() Config {
	return Config{
		Enabled:                      true,
		RequireTaskReference:         true,
		RequireReasoningRelationship: true,
		RequireContextRelationship:   true,
		RequireFileScopeMatch:        true,
		TaskIDPatterns: []TaskIDPattern{
			{
				Pattern: `\[(\d{12}-[0-9a-f]{8})\]`,
				Name:    "Engram ID",
				Example: "[000000000042-1a2b3c4d]",
			},
			{
				Pattern: `\[([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})\]`,
				Name:    "UUID format",
				Example: "[69190cf0-243a-4979-b4c1-604ba48f72eb]",
			},
			{
				Pattern: `\[([A-Z]+-\d+)\]`,
				Name:    "Brackets format",
				Example: "[TASK-123]",
			},
			{
				Pattern: `\[task:([a-z0-9-]+)\]`,
				Name:    "Colon format",
				Example: "[task:auth-impl-001]",
			},
			{
				Pattern: `Refs:\s*#(\d+)`,
				Name:    "Refs format",
				Example: "Refs: #456",
			},
		},
		Exemptions: []Exemption{
			{MessagePattern: `^(chore|docs):`, SkipSpecific: []string{ReqTaskReference}},
			{MessagePattern: `^fixup!`, SkipValidation: true},
			{MessagePattern: `^amend!`, SkipValidation: true},
		},
		Performance: Performance{
			CacheTTLSeconds:          300,
			MaxCacheEntries:          1000,
			EnableParallelValidation: true,
			ValidationTimeoutSeconds: 30,
		},
	}
}

// configOverlay mirrors Config with pointer fields so a partial file only
// overrides what it sets.
type configOverlay struct {
	Enabled                      *bool           `yaml:"enabled"`
	RequireTaskReference         *bool           `yaml:"require_task_reference"`
	RequireReasoningRelationship *bool           `yaml:"require_reasoning_relationship"`
	RequireContextRelationship   *bool           `yaml:"require_context_relationship"`
	RequireFileScopeMatch        *bool           `yaml:"require_file_scope_match"`
	TaskIDPatterns               []TaskIDPattern `yaml:"task_id_patterns"`
	Exemptions                   []Exemption     `yaml:"exemptions"`
	Performance                  *struct {
		CacheTTLSeconds          *int  `yaml:"cache_ttl_seconds"`
		MaxCacheEntries          *int  `yaml:"max_cache_entries"`
		EnableParallelValidation *bool `yaml:"enable_parallel_validation"`
		ValidationTimeoutSeconds *int  `yaml:"validation_timeout_seconds"`
	} `yaml:"performance"`
}

func (c *Config) apply(o *configOverlay) {
	if o.Enabled != nil {
		c.Enabled = *o.Enabled
	}
	if o.RequireTaskReference != nil {
		c.RequireTaskReference = *o.RequireTaskReference
	}
	if o.RequireReasoningRelationship != nil {
		c.RequireReasoningRelationship = *o.RequireReasoningRelationship
	}
	if o.RequireContextRelationship != nil {
		c.RequireContextRelationship = *o.RequireContextRelationship
	}
	if o.RequireFileScopeMatch != nil {
		c.RequireFileScopeMatch = *o.RequireFileScopeMatch
	}
	if o.TaskIDPatterns != nil {
		c.TaskIDPatterns = o.TaskIDPatterns
	}
	if o.Exemptions != nil {
		c.Exemptions = o.Exemptions
	}
	if p := o.Performance; p != nil {
		if p.CacheTTLSeconds != nil {
			c.Performance.CacheTTLSeconds = *p.CacheTTLSeconds
		}
		if p.MaxCacheEntries != nil {
			c.Performance.MaxCacheEntries = *p.MaxCacheEntries
		}
		if p.EnableParallelValidation != nil {
			c.Performance.EnableParallelValidation = *p.EnableParallelValidation
		}
		if p.ValidationTimeoutSeconds != nil {
			c.Performance.ValidationTimeoutSeconds = *p.ValidationTimeoutSeconds
		}
	}
}

func overlayFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var o configOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrConfig, path, err)
	}
	c.apply(&o)
	return nil
}

// LoadConfig builds the effective rule set with strict priority:
// environment > project file (.engram/validation.yaml) > user file
// (~/.engram/validation.yaml) > built-in defaults.
func LoadConfig(workspace string) (Config, error) {
	cfg := DefaultConfig()

	if home, err := os.UserHomeDir(); err == nil {
		if err := overlayFile(&cfg, filepath.Join(home, ".engram", "validation.yaml")); err != nil {
			return cfg, err
		}
	}
	if err := overlayFile(&cfg, filepath.Join(workspace, ".engram", "validation.yaml")); err != nil {
		return cfg, err
	}

	// Environment overrides, highest priority.
	if v := os.Getenv("ENGRAM_VALIDATION_ENABLED"); v != "" {
		cfg.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("ENGRAM_VALIDATION_STRICT"); v == "1" || v == "true" {
		cfg.Exemptions = nil
	}
	if v := os.Getenv("ENGRAM_VALIDATION_CACHE_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Performance.CacheTTLSeconds = n
		}
	}
	if v := os.Getenv("ENGRAM_VALIDATION_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Performance.ValidationTimeoutSeconds = n
		}
	}

	return cfg, nil
}

// RuleSet is a compiled, versioned rule set. Compiling up front surfaces
// malformed patterns as ConfigError at load time instead of at validation
// time, and pins a version string into every cache key.
type RuleSet struct {
	Config Config

	taskPatterns   []*regexp.Regexp
	exemptPatterns []*regexp.Regexp
	version        string
}

// Compile validates and compiles the configuration.
func Compile(cfg Config) (*RuleSet, error) {
	if cfg.Performance.CacheTTLSeconds <= 0 {
		return nil, fmt.Errorf("%w: cache_ttl_seconds must be greater than 0", types.ErrConfig)
	}
	if cfg.Performance.MaxCacheEntries <= 0 {
		return nil, fmt.Errorf("%w: max_cache_entries must be greater than 0", types.ErrConfig)
	}
	if cfg.Performance.ValidationTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("%w: validation_timeout_seconds must be greater than 0", types.ErrConfig)
	}

	rs := &RuleSet{Config: cfg}
	for _, p := range cfg.TaskIDPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid task ID pattern %q: %v", types.ErrConfig, p.Name, err)
		}
		rs.taskPatterns = append(rs.taskPatterns, re)
	}
	for _, ex := range cfg.Exemptions {
		re, err := regexp.Compile(ex.MessagePattern)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid exemption pattern %q: %v", types.ErrConfig, ex.MessagePattern, err)
		}
		rs.exemptPatterns = append(rs.exemptPatterns, re)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint rule set: %w", err)
	}
	h := fnv.New64a()
	h.Write(raw)
	rs.version = fmt.Sprintf("%016x", h.Sum64())

	return rs, nil
}

// Version is the rule-set fingerprint used in cache keys.
func (rs *RuleSet) Version() string { return rs.version }

// ExtractTaskID returns the task reference from the first matching pattern,
// with the name of the pattern that matched, or ok=false.
func (rs *RuleSet) ExtractTaskID(message string) (id, patternName string, ok bool) {
	for i, re := range rs.taskPatterns {
		if m := re.FindStringSubmatch(message); len(m) > 1 {
			return m[1], rs.Config.TaskIDPatterns[i].Name, true
		}
	}
	return "", "", false
}

// MatchExemption evaluates the exemption list in order and returns the
// first matching exemption, or nil.
func (rs *RuleSet) MatchExemption(message string) *Exemption {
	for i, re := range rs.exemptPatterns {
		if re.MatchString(message) {
			return &rs.Config.Exemptions[i]
		}
	}
	return nil
}

// HelpExamples renders the supported task reference formats for error output.
func (rs *RuleSet) HelpExamples() string {
	out := "Supported task ID formats:\n"
	for _, p := range rs.Config.TaskIDPatterns {
		out += fmt.Sprintf("  - %s: %s\n", p.Name, p.Example)
	}
	return out
}
