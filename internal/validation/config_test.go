package validation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engram/internal/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.RequireTaskReference)
	assert.True(t, cfg.RequireReasoningRelationship)
	assert.True(t, cfg.RequireContextRelationship)
	assert.True(t, cfg.RequireFileScopeMatch)
	assert.Equal(t, 300, cfg.Performance.CacheTTLSeconds)
	assert.Equal(t, 1000, cfg.Performance.MaxCacheEntries)
	assert.Equal(t, 30, cfg.Performance.ValidationTimeoutSeconds)
	assert.True(t, cfg.Performance.EnableParallelValidation)
	assert.NotEmpty(t, cfg.TaskIDPatterns)
	assert.NotEmpty(t, cfg.Exemptions)
}

func TestExtractTaskID(t *testing.T) {
	rs, err := Compile(DefaultConfig())
	require.NoError(t, err)

	cases := []struct {
		message     string
		wantID      string
		wantPattern string
		wantOK      bool
	}{
		{"[TASK-123] implement parser", "TASK-123", "Brackets format", true},
		{"[000000000042-1a2b3c4d] implement parser", "000000000042-1a2b3c4d", "Engram ID", true},
		{"[69190cf0-243a-4979-b4c1-604ba48f72eb] fix", "69190cf0-243a-4979-b4c1-604ba48f72eb", "UUID format", true},
		{"[task:auth-impl-001] add login", "auth-impl-001", "Colon format", true},
		{"fix login\n\nRefs: #456", "456", "Refs format", true},
		{"no reference here", "", "", false},
		{"[lowercase-123] not a brackets match", "", "", false},
	}
	for _, c := range cases {
		id, pattern, ok := rs.ExtractTaskID(c.message)
		assert.Equal(t, c.wantOK, ok, c.message)
		assert.Equal(t, c.wantID, id, c.message)
		assert.Equal(t, c.wantPattern, pattern, c.message)
	}
}

func TestMatchExemptionFirstMatchWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exemptions = []Exemption{
		{MessagePattern: `^chore:`, SkipSpecific: []string{ReqTaskReference}},
		{MessagePattern: `^chore: release`, SkipValidation: true},
	}
	rs, err := Compile(cfg)
	require.NoError(t, err)

	// Both patterns match; the first listed takes effect.
	ex := rs.MatchExemption("chore: release 1.2.0")
	require.NotNil(t, ex)
	assert.False(t, ex.SkipValidation)
	assert.Equal(t, []string{ReqTaskReference}, ex.SkipSpecific)

	assert.Nil(t, rs.MatchExemption("feat: new thing"))
}

func TestCompileRejectsInvalidPatterns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TaskIDPatterns = append(cfg.TaskIDPatterns, TaskIDPattern{Pattern: `[unterminated`, Name: "broken"})
	_, err := Compile(cfg)
	assert.True(t, errors.Is(err, types.ErrConfig))

	cfg = DefaultConfig()
	cfg.Exemptions = append(cfg.Exemptions, Exemption{MessagePattern: `(?P<oops`})
	_, err = Compile(cfg)
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestCompileRejectsInvalidPerformance(t *testing.T) {
	for _, mutate := range []func(*Config){
		func(c *Config) { c.Performance.CacheTTLSeconds = 0 },
		func(c *Config) { c.Performance.MaxCacheEntries = -1 },
		func(c *Config) { c.Performance.ValidationTimeoutSeconds = 0 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		_, err := Compile(cfg)
		assert.True(t, errors.Is(err, types.ErrConfig))
	}
}

func TestRuleSetVersionTracksConfig(t *testing.T) {
	a, err := Compile(DefaultConfig())
	require.NoError(t, err)
	b, err := Compile(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Version(), b.Version())

	changed := DefaultConfig()
	changed.RequireFileScopeMatch = false
	c, err := Compile(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a.Version(), c.Version())
}

func TestLoadConfigProjectOverridesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workspace := t.TempDir()

	dir := filepath.Join(workspace, ".engram")
	require.NoError(t, os.MkdirAll(dir, 0755))
	project := `
require_file_scope_match: false
performance:
  cache_ttl_seconds: 60
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "validation.yaml"), []byte(project), 0644))

	cfg, err := LoadConfig(workspace)
	require.NoError(t, err)
	assert.False(t, cfg.RequireFileScopeMatch)
	assert.Equal(t, 60, cfg.Performance.CacheTTLSeconds)
	// Untouched fields keep their defaults.
	assert.True(t, cfg.RequireTaskReference)
	assert.Equal(t, 1000, cfg.Performance.MaxCacheEntries)
}

func TestLoadConfigUserFileBelowProjectFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	workspace := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(home, ".engram"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".engram", "validation.yaml"),
		[]byte("performance:\n  cache_ttl_seconds: 10\n"), 0644))

	require.NoError(t, os.MkdirAll(filepath.Join(workspace, ".engram"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, ".engram", "validation.yaml"),
		[]byte("performance:\n  cache_ttl_seconds: 20\n"), 0644))

	cfg, err := LoadConfig(workspace)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Performance.CacheTTLSeconds)
}

func TestLoadConfigEnvironmentWinsOverFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workspace := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(workspace, ".engram"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, ".engram", "validation.yaml"),
		[]byte("enabled: true\nperformance:\n  cache_ttl_seconds: 20\n"), 0644))

	t.Setenv("ENGRAM_VALIDATION_ENABLED", "false")
	t.Setenv("ENGRAM_VALIDATION_CACHE_TTL", "99")

	cfg, err := LoadConfig(workspace)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 99, cfg.Performance.CacheTTLSeconds)
}

func TestLoadConfigStrictModeDropsExemptions(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ENGRAM_VALIDATION_STRICT", "1")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Exemptions)
}

func TestLoadConfigMalformedFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workspace := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(workspace, ".engram"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, ".engram", "validation.yaml"),
		[]byte("enabled: [not a bool"), 0644))

	_, err := LoadConfig(workspace)
	assert.True(t, errors.Is(err, types.ErrConfig))
}
