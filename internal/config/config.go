package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Tracker    TrackerConfig    `mapstructure:"tracker"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Action     ActionConfig     `mapstructure:"action"`
	Resource   ResourceConfig   `mapstructure:"resource"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Path      string        `mapstructure:"path"`      // Path to SQLite database file
	Retention time.Duration `mapstructure:"retention"` // Activity events older than this are pruned at startup; 0 keeps everything
}

// TrackerConfig holds tracking behavior configuration
type TrackerConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	MinPollInterval     time.Duration `mapstructure:"min_poll_interval"`
	MaxPollInterval     time.Duration `mapstructure:"max_poll_interval"`
	IdleThreshold       time.Duration `mapstructure:"idle_threshold"`        // Time before considering user idle
	MergeThreshold      time.Duration `mapstructure:"merge_threshold"`       // Max gap between observations of one event
	MinimumIdleDuration time.Duration `mapstructure:"minimum_idle_duration"` // Shortest idle stretch reported on resumption
	ScreenshotInterval  time.Duration `mapstructure:"screenshot_interval"`
}

// ScreenshotConfig holds periodic capture configuration
type ScreenshotConfig struct {
	Enabled                  bool          `mapstructure:"enabled"`
	Dir                      string        `mapstructure:"dir"`
	Quality                  int           `mapstructure:"quality"` // JPEG quality 1-100
	MaxDimension             int           `mapstructure:"max_dimension"`
	IdleSkipSeconds          float64       `mapstructure:"idle_skip_seconds"`
	ContextAwareThresholds   bool          `mapstructure:"context_aware_thresholds"`
	ThresholdIdentical       float64       `mapstructure:"threshold_identical"`
	ThresholdSameWindow      float64       `mapstructure:"threshold_identical_same_window"`
	ThresholdDifferentWindow float64       `mapstructure:"threshold_identical_different_window"`
	ThresholdSignificant     float64       `mapstructure:"threshold_significant"`
	ResaveWindow             time.Duration `mapstructure:"resave_window"` // Overwrite drifting content saved more recently than this
	QueueSize                int           `mapstructure:"queue_size"`
	DenyList                 []string      `mapstructure:"deny_list"` // Extra process names never captured
}

// ActionConfig holds action-triggered capture configuration
type ActionConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Dir               string        `mapstructure:"dir"`
	Quality           int           `mapstructure:"quality"`
	MaxDimension      int           `mapstructure:"max_dimension"`
	Throttle          time.Duration `mapstructure:"throttle"` // Minimum spacing between any two action captures
	FocusPollInterval time.Duration `mapstructure:"focus_poll_interval"`
	DragThreshold     int           `mapstructure:"drag_threshold"` // Pixels moved while held before a press becomes a drag
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	DenyList          []string      `mapstructure:"deny_list"`
}

// ResourceConfig holds host load thresholds. CPU figures are whole-system
// percentages.
type ResourceConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	ScreenshotCPUThreshold float64       `mapstructure:"screenshot_cpu_threshold"` // Skip periodic captures above this
	ThrottleCPUThreshold   float64       `mapstructure:"throttle_cpu_threshold"`   // Slow polling above this
	BatteryThreshold       float64       `mapstructure:"battery_threshold"`        // Skip captures on battery below this percentage
	ThrottledPollInterval  time.Duration `mapstructure:"throttled_poll_interval"`
	IdlePollAfter          time.Duration `mapstructure:"idle_poll_after"` // Idle time after which polling slows to IdlePollInterval
	IdlePollInterval       time.Duration `mapstructure:"idle_poll_interval"`
	MonitoringInterval     time.Duration `mapstructure:"monitoring_interval"` // Period of self usage sampling
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string `mapstructure:"pid_file"` // Path to PID file for daemon management
}

// TelemetryConfig holds metrics export configuration
type TelemetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"` // OTLP/gRPC collector address
	Insecure       bool          `mapstructure:"insecure"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Path  string `mapstructure:"path"`
	Debug bool   `mapstructure:"debug"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Database: DatabaseConfig{
			Path: "", // Empty means use default ~/.config/snaptrail/snaptrail.db
		},
		Tracker: TrackerConfig{
			PollInterval:        time.Second,
			MinPollInterval:     250 * time.Millisecond,
			MaxPollInterval:     60 * time.Second,
			IdleThreshold:       180 * time.Second,
			MergeThreshold:      2 * time.Second,
			MinimumIdleDuration: 180 * time.Second,
			ScreenshotInterval:  10 * time.Second,
		},
		Screenshot: ScreenshotConfig{
			Enabled:                  true,
			Dir:                      filepath.Join(dataDir, "screenshots", "periodic"),
			Quality:                  65,
			MaxDimension:             1920,
			IdleSkipSeconds:          30,
			ContextAwareThresholds:   true,
			ThresholdIdentical:       0.92,
			ThresholdSameWindow:      0.90,
			ThresholdDifferentWindow: 0.99,
			ThresholdSignificant:     0.70,
			ResaveWindow:             60 * time.Second,
			QueueSize:                16,
		},
		Action: ActionConfig{
			Enabled:           true,
			Dir:               filepath.Join(dataDir, "screenshots", "actions"),
			Quality:           65,
			MaxDimension:      1920,
			Throttle:          500 * time.Millisecond,
			FocusPollInterval: 500 * time.Millisecond,
			DragThreshold:     10,
			Workers:           2,
			QueueSize:         8,
		},
		Resource: ResourceConfig{
			Enabled:                true,
			ScreenshotCPUThreshold: 90,
			ThrottleCPUThreshold:   80,
			BatteryThreshold:       20,
			ThrottledPollInterval:  5 * time.Second,
			IdlePollAfter:          10 * time.Minute,
			IdlePollInterval:       10 * time.Second,
			MonitoringInterval:     60 * time.Second,
		},
		Daemon: DaemonConfig{
			PIDFile: fmt.Sprintf("/tmp/snaptrail-%d.pid", os.Getuid()),
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			Insecure:       true,
			ExportInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Path: fmt.Sprintf("/tmp/snaptrail-%d.log", os.Getuid()),
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "snaptrail")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "snaptrail")
	}
	return filepath.Join(home, ".local", "share", "snaptrail")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.checkUnits(); err != nil {
		return err
	}

	if c.Database.Retention < 0 {
		return errors.New("database retention cannot be negative")
	}

	t := c.Tracker
	if t.PollInterval < t.MinPollInterval {
		return errors.Errorf("poll interval (%v) cannot be less than minimum (%v)",
			t.PollInterval, t.MinPollInterval)
	}
	if t.PollInterval > t.MaxPollInterval {
		return errors.Errorf("poll interval (%v) cannot be greater than maximum (%v)",
			t.PollInterval, t.MaxPollInterval)
	}
	if t.IdleThreshold <= 0 {
		return errors.New("idle threshold must be positive")
	}
	if t.MergeThreshold < 0 {
		return errors.New("merge threshold cannot be negative")
	}
	if t.MinimumIdleDuration < 0 {
		return errors.New("minimum idle duration cannot be negative")
	}
	if t.ScreenshotInterval <= 0 {
		return errors.New("screenshot interval must be positive")
	}

	s := c.Screenshot
	for name, v := range map[string]float64{
		"threshold_identical":                  s.ThresholdIdentical,
		"threshold_identical_same_window":      s.ThresholdSameWindow,
		"threshold_identical_different_window": s.ThresholdDifferentWindow,
		"threshold_significant":                s.ThresholdSignificant,
	} {
		if v < 0 || v > 1 {
			return errors.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}
	if s.ThresholdSignificant > s.ThresholdSameWindow || s.ThresholdSameWindow > s.ThresholdDifferentWindow {
		return errors.Errorf("thresholds must satisfy significant (%v) <= same window (%v) <= different window (%v)",
			s.ThresholdSignificant, s.ThresholdSameWindow, s.ThresholdDifferentWindow)
	}
	if s.ThresholdSignificant > s.ThresholdIdentical {
		return errors.Errorf("threshold_significant (%v) cannot exceed threshold_identical (%v)",
			s.ThresholdSignificant, s.ThresholdIdentical)
	}
	if err := validateImage("screenshot", s.Quality, s.MaxDimension); err != nil {
		return err
	}
	if s.IdleSkipSeconds < 0 {
		return errors.New("idle skip seconds cannot be negative")
	}
	if s.QueueSize < 1 {
		return errors.Errorf("screenshot queue size must be at least 1, got %d", s.QueueSize)
	}
	if s.Enabled && s.Dir == "" {
		return errors.New("screenshot directory cannot be empty")
	}

	a := c.Action
	if err := validateImage("action", a.Quality, a.MaxDimension); err != nil {
		return err
	}
	if a.Throttle < 0 {
		return errors.New("action throttle cannot be negative")
	}
	if a.FocusPollInterval <= 0 {
		return errors.New("focus poll interval must be positive")
	}
	if a.DragThreshold < 1 {
		return errors.Errorf("drag threshold must be at least 1 pixel, got %d", a.DragThreshold)
	}
	if a.Workers < 2 {
		return errors.Errorf("action workers must be at least 2, got %d", a.Workers)
	}
	if a.QueueSize < 1 {
		return errors.Errorf("action queue size must be at least 1, got %d", a.QueueSize)
	}
	if a.Enabled && a.Dir == "" {
		return errors.New("action directory cannot be empty")
	}
	if a.Enabled && s.Enabled && filepath.Clean(a.Dir) == filepath.Clean(s.Dir) {
		return errors.New("action and screenshot directories must differ")
	}

	if r := c.Resource; r.Enabled {
		for name, v := range map[string]float64{
			"screenshot_cpu_threshold": r.ScreenshotCPUThreshold,
			"throttle_cpu_threshold":   r.ThrottleCPUThreshold,
			"battery_threshold":        r.BatteryThreshold,
		} {
			if v < 0 || v > 100 {
				return errors.Errorf("resource %s must be between 0 and 100, got %v", name, v)
			}
		}
		if r.ThrottledPollInterval <= 0 || r.IdlePollInterval <= 0 || r.MonitoringInterval <= 0 {
			return errors.New("resource poll and monitoring intervals must be positive")
		}
		if r.IdlePollAfter < 0 {
			return errors.New("resource idle_poll_after cannot be negative")
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint cannot be empty when telemetry is enabled")
	}

	// Validate daemon config
	if c.Daemon.PIDFile == "" {
		return errors.New("PID file path cannot be empty")
	}

	return nil
}

// checkUnits rejects durations that can only come from a number written
// without a unit, which decodes as nanoseconds.
func (c *Config) checkUnits() error {
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"database.retention", c.Database.Retention},
		{"tracker.poll_interval", c.Tracker.PollInterval},
		{"tracker.min_poll_interval", c.Tracker.MinPollInterval},
		{"tracker.max_poll_interval", c.Tracker.MaxPollInterval},
		{"tracker.idle_threshold", c.Tracker.IdleThreshold},
		{"tracker.merge_threshold", c.Tracker.MergeThreshold},
		{"tracker.minimum_idle_duration", c.Tracker.MinimumIdleDuration},
		{"tracker.screenshot_interval", c.Tracker.ScreenshotInterval},
		{"screenshot.resave_window", c.Screenshot.ResaveWindow},
		{"action.throttle", c.Action.Throttle},
		{"action.focus_poll_interval", c.Action.FocusPollInterval},
		{"resource.throttled_poll_interval", c.Resource.ThrottledPollInterval},
		{"resource.idle_poll_after", c.Resource.IdlePollAfter},
		{"resource.idle_poll_interval", c.Resource.IdlePollInterval},
		{"resource.monitoring_interval", c.Resource.MonitoringInterval},
		{"telemetry.export_interval", c.Telemetry.ExportInterval},
	} {
		if d.val > 0 && d.val < time.Millisecond {
			return errors.Errorf("%s is %v; write durations with a unit, e.g. 180s", d.key, d.val)
		}
	}
	return nil
}

func validateImage(section string, quality, maxDim int) error {
	if quality < 1 || quality > 100 {
		return errors.Errorf("%s quality must be between 1 and 100, got %d", section, quality)
	}
	if maxDim < 16 {
		return errors.Errorf("%s max dimension must be at least 16, got %d", section, maxDim)
	}
	return nil
}

// SetPollInterval sets the poll interval with validation
func (c *Config) SetPollInterval(interval time.Duration) error {
	if interval < c.Tracker.MinPollInterval {
		return errors.Errorf("poll interval cannot be less than %v", c.Tracker.MinPollInterval)
	}
	if interval > c.Tracker.MaxPollInterval {
		return errors.Errorf("poll interval cannot be greater than %v", c.Tracker.MaxPollInterval)
	}
	c.Tracker.PollInterval = interval
	return nil
}

// SetThrottle sets the action capture throttle with validation
func (c *Config) SetThrottle(d time.Duration) error {
	if d < 0 {
		return errors.New("throttle cannot be negative")
	}
	c.Action.Throttle = d
	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(`Configuration:
  Database:
    Path: %s
    Retention: %v
  Tracker:
    Poll Interval: %v
    Idle Threshold: %v
    Merge Threshold: %v
    Minimum Idle Duration: %v
    Screenshot Interval: %v
  Screenshot:
    Enabled: %v
    Dir: %s
    Quality: %d
    Max Dimension: %d
    Thresholds: identical=%.2f same=%.2f different=%.2f significant=%.2f (context aware: %v)
  Action:
    Enabled: %v
    Dir: %s
    Throttle: %v
  Resource:
    Enabled: %v
    CPU thresholds: screenshot=%.0f%% throttle=%.0f%%
    Battery threshold: %.0f%%
  Daemon:
    PID File: %s
  Telemetry:
    Enabled: %v
    Endpoint: %s`,
		c.Database.Path,
		c.Database.Retention,
		c.Tracker.PollInterval,
		c.Tracker.IdleThreshold,
		c.Tracker.MergeThreshold,
		c.Tracker.MinimumIdleDuration,
		c.Tracker.ScreenshotInterval,
		c.Screenshot.Enabled,
		c.Screenshot.Dir,
		c.Screenshot.Quality,
		c.Screenshot.MaxDimension,
		c.Screenshot.ThresholdIdentical,
		c.Screenshot.ThresholdSameWindow,
		c.Screenshot.ThresholdDifferentWindow,
		c.Screenshot.ThresholdSignificant,
		c.Screenshot.ContextAwareThresholds,
		c.Action.Enabled,
		c.Action.Dir,
		c.Action.Throttle,
		c.Resource.Enabled,
		c.Resource.ScreenshotCPUThreshold,
		c.Resource.ThrottleCPUThreshold,
		c.Resource.BatteryThreshold,
		c.Daemon.PIDFile,
		c.Telemetry.Enabled,
		c.Telemetry.Endpoint,
	)
}
