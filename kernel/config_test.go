package kernel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), `kcore.toml`)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(0x4444_4444_0000), cfg.HeapStart)
	assert.Equal(t, uint64(256*1024), cfg.HeapSize)
	assert.Equal(t, logiface.LevelInformational, cfg.Level())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
heap_start = 0x1000_0000
heap_size = 65536
allocator = "bump"
tick_period = "2ms"
spawn_queue_capacity = 8
log_level = "debug"

[scancode_drop_log_rate]
"10s" = 3
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.HeapStart = 0x1000_0000
	want.HeapSize = 65536
	want.Allocator = AllocatorBump
	want.TickPeriod = Duration(2 * time.Millisecond)
	want.SpawnQueueCapacity = 8
	want.LogLevel = `debug`
	want.ScancodeDropLogRate = map[string]int{`10s`: 3}
	assert.Equal(t, want, cfg)

	rates, err := cfg.DropLogRate()
	require.NoError(t, err)
	assert.Equal(t, map[time.Duration]int{10 * time.Second: 3}, rates)
}

func TestLoadConfig_defaultsKept(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `allocator = "freelist"`))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_unknownKey(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "heap_size = 4096\nshell = true\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, `shell`, ce.Field)
}

func TestLoadConfig_errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), `missing.toml`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadConfig(writeConfig(t, `tick_period = "soon"`))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `allocator = "slab"`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{`zero heap start`, func(c *Config) { c.HeapStart = 0 }, `heap_start`},
		{`misaligned heap start`, func(c *Config) { c.HeapStart = 0x1008 }, `heap_start`},
		{`tiny heap`, func(c *Config) { c.HeapSize = 8 }, `heap_size`},
		{`wrapping heap`, func(c *Config) { c.HeapStart = ^uint64(0) &^ 0xf }, `heap_start`},
		{`allocator`, func(c *Config) { c.Allocator = `` }, `allocator`},
		{`zero tick`, func(c *Config) { c.TickPeriod = 0 }, `tick_period`},
		{`slow tick`, func(c *Config) { c.TickPeriod = Duration(time.Second) }, `tick_period`},
		{`spawn queue`, func(c *Config) { c.SpawnQueueCapacity = 0 }, `spawn_queue_capacity`},
		{`scancode queue`, func(c *Config) { c.ScancodeQueueCapacity = -1 }, `scancode_queue_capacity`},
		{`drop rate key`, func(c *Config) { c.ScancodeDropLogRate = map[string]int{`often`: 1} }, `scancode_drop_log_rate`},
		{`drop rate value`, func(c *Config) { c.ScancodeDropLogRate = map[string]int{`1s`: 0} }, `scancode_drop_log_rate`},
		{`log level`, func(c *Config) { c.LogLevel = `loud` }, `log_level`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.field, ce.Field)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestPITDivisor(t *testing.T) {
	for _, tc := range []struct {
		period time.Duration
		want   uint16
		ok     bool
	}{
		{time.Millisecond, 1193, true},
		{10 * time.Millisecond, 11931, true},
		{54 * time.Millisecond, 64431, true},
		{55 * time.Millisecond, 0, false},
		{time.Hour, 0, false},
		{time.Nanosecond, 0, false},
		{-time.Millisecond, 0, false},
	} {
		got, err := PITDivisor(tc.period)
		if !tc.ok {
			assert.Error(t, err, tc.period)
			continue
		}
		require.NoError(t, err, tc.period)
		assert.Equal(t, tc.want, got, tc.period)
	}
}

func TestParseLevel(t *testing.T) {
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		got, err := ParseLevel(level.String())
		require.NoError(t, err, level)
		assert.Equal(t, level, got)
	}
	got, err := ParseLevel(`WARN`)
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelWarning, got)
	_, err = ParseLevel(`verbose`)
	assert.Error(t, err)
}

func TestDuration_text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(`1m30s`)))
	assert.Equal(t, Duration(90*time.Second), d)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, `1m30s`, string(b))
	assert.Error(t, d.UnmarshalText([]byte(`90`)))
}
