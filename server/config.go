package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RosterMode decides how actors come and go.
type RosterMode string

const (
	// RosterDynamic creates an actor per connection and removes it on leave.
	RosterDynamic RosterMode = "dynamic"
	// RosterFixed keeps two reserved paddles (ids 1 and 2) that connections claim.
	RosterFixed RosterMode = "fixed"
)

// OverflowPolicy decides what a broadcast does with a full outbound queue.
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDisconnect OverflowPolicy = "disconnect"
	OverflowBlock      OverflowPolicy = "block"
)

// Bounds is an optional play area. Positions are clamped into it.
type Bounds struct {
	MinX float64 `yaml:"min_x" json:"min_x"`
	MaxX float64 `yaml:"max_x" json:"max_x"`
	MinY float64 `yaml:"min_y" json:"min_y"`
	MaxY float64 `yaml:"max_y" json:"max_y"`
}

func (b Bounds) clamp(p Vec2) Vec2 {
	return Vec2{
		X: math.Min(math.Max(p.X, b.MinX), b.MaxX),
		Y: math.Min(math.Max(p.Y, b.MinY), b.MaxY),
	}
}

// SessionConfig holds the rules one session runs with.
type SessionConfig struct {
	Roster      RosterMode     `yaml:"roster" json:"roster"`
	Speed       float64        `yaml:"speed" json:"speed"`
	SpawnX      float64        `yaml:"spawn_x" json:"spawn_x"`
	SpawnY      float64        `yaml:"spawn_y" json:"spawn_y"`
	PaddleX     float64        `yaml:"paddle_x" json:"paddle_x"`
	QueueSize   int            `yaml:"queue_size" json:"queue_size"`
	Overflow    OverflowPolicy `yaml:"overflow" json:"overflow"`
	IdleTimeout time.Duration  `yaml:"idle_timeout" json:"idle_timeout"`
	ReapEvery   time.Duration  `yaml:"reap_every" json:"reap_every"`
	Bounds      *Bounds        `yaml:"bounds" json:"bounds,omitempty"`
}

// sessionConfigJSON is the HTTP view of SessionConfig: durations travel as
// strings like "30s", the same form ConfigPatch and the YAML file accept.
type sessionConfigJSON struct {
	sessionConfigFields
	IdleTimeout string `json:"idle_timeout"`
	ReapEvery   string `json:"reap_every"`
}

type sessionConfigFields SessionConfig

func (c SessionConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionConfigJSON{
		sessionConfigFields: sessionConfigFields(c),
		IdleTimeout:         c.IdleTimeout.String(),
		ReapEvery:           c.ReapEvery.String(),
	})
}

func (c *SessionConfig) UnmarshalJSON(b []byte) error {
	var v sessionConfigJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	next := SessionConfig(v.sessionConfigFields)
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"idle_timeout", v.IdleTimeout, &next.IdleTimeout},
		{"reap_every", v.ReapEvery, &next.ReapEvery},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	*c = next
	return nil
}

// JournalConfig enables the compressed event journal when Dir is set.
type JournalConfig struct {
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size"`
}

// IndexConfig enables the sqlite connection index when Path is set.
type IndexConfig struct {
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

// Config is the whole server configuration.
type Config struct {
	Addr           string        `yaml:"addr"`
	DefaultSession string        `yaml:"default_session"`
	MaxSessions    int           `yaml:"max_sessions"`
	Log            LogConfig     `yaml:"log"`
	Session        SessionConfig `yaml:"session"`
	Journal        JournalConfig `yaml:"journal"`
	Index          IndexConfig   `yaml:"index"`
}

// DefaultSessionConfig is the stock rule set: dynamic roster,
// 5 units per accepted input, spawn at the origin, no bounds.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Roster:    RosterDynamic,
		Speed:     5.0,
		PaddleX:   380,
		QueueSize: 32,
		Overflow:  OverflowDropOldest,
		ReapEvery: 5 * time.Second,
	}
}

// DefaultConfig returns a usable configuration without any file.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		DefaultSession: "main",
		MaxSessions:    64,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Session: DefaultSessionConfig(),
		Journal: JournalConfig{QueueSize: 4096},
		Index:   IndexConfig{QueueSize: 4096},
	}
}

// LoadConfig layers defaults, an optional .env file, an optional YAML file
// and ARENASYNC_* environment variables, then validates the result.
func LoadConfig(path, envFile string) (Config, error) {
	cfg := DefaultConfig()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("env file %s: %w", envFile, err)
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("ARENASYNC_ADDR", &c.Addr)
	str("ARENASYNC_DEFAULT_SESSION", &c.DefaultSession)
	str("ARENASYNC_LOG_FILE", &c.Log.File)
	str("ARENASYNC_LOG_LEVEL", &c.Log.Level)
	str("ARENASYNC_JOURNAL_DIR", &c.Journal.Dir)
	str("ARENASYNC_INDEX_PATH", &c.Index.Path)

	if v, ok := os.LookupEnv("ARENASYNC_ROSTER"); ok {
		c.Session.Roster = RosterMode(v)
	}
	if v, ok := os.LookupEnv("ARENASYNC_OVERFLOW"); ok {
		c.Session.Overflow = OverflowPolicy(v)
	}
	if v, ok := os.LookupEnv("ARENASYNC_SPEED"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ARENASYNC_SPEED: %w", err)
		}
		c.Session.Speed = f
	}
	if v, ok := os.LookupEnv("ARENASYNC_QUEUE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ARENASYNC_QUEUE_SIZE: %w", err)
		}
		c.Session.QueueSize = n
	}
	if v, ok := os.LookupEnv("ARENASYNC_IDLE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ARENASYNC_IDLE_TIMEOUT: %w", err)
		}
		c.Session.IdleTimeout = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr is empty")
	}
	if c.DefaultSession == "" {
		return errors.New("config: default_session is empty")
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("config: max_sessions must be >= 1, got %d", c.MaxSessions)
	}
	return c.Session.Validate()
}

// Validate checks the session rules.
func (c SessionConfig) Validate() error {
	switch c.Roster {
	case RosterDynamic, RosterFixed:
	default:
		return fmt.Errorf("config: unknown roster %q", c.Roster)
	}
	switch c.Overflow {
	case OverflowDropOldest, OverflowDisconnect, OverflowBlock:
	default:
		return fmt.Errorf("config: unknown overflow policy %q", c.Overflow)
	}
	if math.IsNaN(c.Speed) || math.IsInf(c.Speed, 0) || c.Speed <= 0 {
		return fmt.Errorf("config: speed must be a positive number, got %v", c.Speed)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("config: queue_size must be >= 1, got %d", c.QueueSize)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("config: idle_timeout must not be negative")
	}
	if c.IdleTimeout > 0 && c.ReapEvery <= 0 {
		return fmt.Errorf("config: reap_every must be positive when idle_timeout is set")
	}
	if b := c.Bounds; b != nil && (b.MinX >= b.MaxX || b.MinY >= b.MaxY) {
		return fmt.Errorf("config: bounds must have min < max on both axes")
	}
	return nil
}
