package kernel

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/go-kcore/alloc"
	"github.com/joeycumines/logiface"
)

const (
	// DefaultHeapStart is the address the heap is mapped at.
	DefaultHeapStart = 0x4444_4444_0000

	// DefaultHeapSize is the size of the heap, in bytes.
	DefaultHeapSize = 256 * 1024

	// PITFrequency is the input frequency of the programmable interval
	// timer, in Hz.
	PITFrequency = 1193182

	// AllocatorFreeList selects the coalescing free-list heap.
	AllocatorFreeList = `freelist`

	// AllocatorBump selects the bump heap, which only reclaims memory once
	// every allocation has been freed.
	AllocatorBump = `bump`
)

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("kernel: invalid config")

// Config is the boot configuration.
type Config struct {
	// ScancodeDropLogRate limits reports of dropped scancodes, keyed by
	// window ("1s", "1m").
	ScancodeDropLogRate map[string]int `toml:"scancode_drop_log_rate"`

	Allocator string `toml:"allocator"`
	LogLevel  string `toml:"log_level"`

	HeapStart uint64 `toml:"heap_start"`
	HeapSize  uint64 `toml:"heap_size"`

	// TickPeriod is the interval between timer interrupts. The kernel clock
	// counts each tick as one millisecond.
	TickPeriod Duration `toml:"tick_period"`

	SpawnQueueCapacity    int `toml:"spawn_queue_capacity"`
	ScancodeQueueCapacity int `toml:"scancode_queue_capacity"`
}

// Duration is a time.Duration that is written in TOML as a string, such as
// "1ms".
type Duration time.Duration

// ConfigError describes an invalid Config field.
type ConfigError struct {
	Err   error
	Field string
}

// DefaultConfig returns the standard boot configuration.
func DefaultConfig() Config {
	return Config{
		ScancodeDropLogRate: map[string]int{
			`1s`: 1,
			`1m`: 10,
		},
		Allocator:             AllocatorFreeList,
		LogLevel:              logiface.LevelInformational.String(),
		HeapStart:             DefaultHeapStart,
		HeapSize:              DefaultHeapSize,
		TickPeriod:            Duration(time.Millisecond),
		SpawnQueueCapacity:    64,
		ScancodeQueueCapacity: 64,
	}
}

// LoadConfig reads a TOML file over DefaultConfig, then validates it. Keys
// that do not correspond to a Config field are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	// decoding merges into an existing map
	cfg.ScancodeDropLogRate = nil
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("kernel: load config: %w", err)
	}
	if !md.IsDefined(`scancode_drop_log_rate`) {
		cfg.ScancodeDropLogRate = DefaultConfig().ScancodeDropLogRate
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, &ConfigError{
			Field: strings.Join(keys, `, `),
			Err:   errors.New("unknown key"),
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field, returning the first problem as a
// *ConfigError.
func (c Config) Validate() error {
	if c.HeapStart == 0 || c.HeapStart%alloc.NodeSize != 0 {
		return &ConfigError{Field: `heap_start`, Err: fmt.Errorf("%#x must be a non-zero multiple of %d", c.HeapStart, alloc.NodeSize)}
	}
	if c.HeapSize < alloc.NodeSize || c.HeapSize > math.MaxInt32 {
		return &ConfigError{Field: `heap_size`, Err: fmt.Errorf("%d out of range", c.HeapSize)}
	}
	if end := c.HeapStart + c.HeapSize; end < c.HeapStart || uint64(uintptr(end)) != end {
		return &ConfigError{Field: `heap_start`, Err: errors.New("heap does not fit in the address space")}
	}
	switch c.Allocator {
	case AllocatorFreeList, AllocatorBump:
	default:
		return &ConfigError{Field: `allocator`, Err: fmt.Errorf("unknown allocator %q", c.Allocator)}
	}
	if _, err := PITDivisor(time.Duration(c.TickPeriod)); err != nil {
		return &ConfigError{Field: `tick_period`, Err: err}
	}
	if c.SpawnQueueCapacity <= 0 {
		return &ConfigError{Field: `spawn_queue_capacity`, Err: errors.New("must be positive")}
	}
	if c.ScancodeQueueCapacity <= 0 {
		return &ConfigError{Field: `scancode_queue_capacity`, Err: errors.New("must be positive")}
	}
	if _, err := c.DropLogRate(); err != nil {
		return &ConfigError{Field: `scancode_drop_log_rate`, Err: err}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return &ConfigError{Field: `log_level`, Err: err}
	}
	return nil
}

// DropLogRate parses ScancodeDropLogRate.
func (c Config) DropLogRate() (map[time.Duration]int, error) {
	rates := make(map[time.Duration]int, len(c.ScancodeDropLogRate))
	for k, v := range c.ScancodeDropLogRate {
		d, err := time.ParseDuration(k)
		if err != nil {
			return nil, err
		}
		if d <= 0 || v <= 0 {
			return nil, fmt.Errorf("rate %s = %d must be positive", k, v)
		}
		rates[d] = v
	}
	return rates, nil
}

// Level returns the parsed LogLevel.
func (c Config) Level() logiface.Level {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return logiface.LevelInformational
	}
	return level
}

// PITDivisor returns the reload value that makes the timer fire every
// period. It fails if the value does not fit the 16-bit counter.
func PITDivisor(period time.Duration) (uint16, error) {
	if period <= 0 {
		return 0, fmt.Errorf("tick period %s must be positive", period)
	}
	var divisor uint64
	if period <= time.Second {
		divisor = uint64(PITFrequency) * uint64(period) / uint64(time.Second)
	} else {
		divisor = math.MaxUint64
	}
	if divisor == 0 || divisor > math.MaxUint16 {
		return 0, fmt.Errorf("tick period %s needs a divisor of %d, outside [1, %d]", period, divisor, math.MaxUint16)
	}
	return uint16(divisor), nil
}

// ParseLevel parses the name of a logiface level, as written by
// logiface.Level.String.
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(s) {
	case `disabled`:
		return logiface.LevelDisabled, nil
	case `emerg`, `emergency`:
		return logiface.LevelEmergency, nil
	case `alert`:
		return logiface.LevelAlert, nil
	case `crit`, `critical`:
		return logiface.LevelCritical, nil
	case `err`, `error`:
		return logiface.LevelError, nil
	case `warning`, `warn`:
		return logiface.LevelWarning, nil
	case `notice`:
		return logiface.LevelNotice, nil
	case `info`, `informational`:
		return logiface.LevelInformational, nil
	case `debug`:
		return logiface.LevelDebug, nil
	case `trace`:
		return logiface.LevelTrace, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrInvalidConfig, e.Field, e.Err)
}

// Unwrap returns both ErrInvalidConfig and the underlying error.
func (e *ConfigError) Unwrap() []error {
	return []error{ErrInvalidConfig, e.Err}
}
