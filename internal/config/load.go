package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// SNAPTRAIL_TRACKER_POLL_INTERVAL=2s.
const EnvPrefix = "SNAPTRAIL"

// Load builds a Config from defaults, an optional YAML file and SNAPTRAIL_*
// environment variables, in increasing order of precedence. An empty path
// searches ~/.config/snaptrail/config.yaml and tolerates its absence.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "snaptrail"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only consults keys viper already knows about.
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.retention", cfg.Database.Retention)

	v.SetDefault("tracker.poll_interval", cfg.Tracker.PollInterval)
	v.SetDefault("tracker.min_poll_interval", cfg.Tracker.MinPollInterval)
	v.SetDefault("tracker.max_poll_interval", cfg.Tracker.MaxPollInterval)
	v.SetDefault("tracker.idle_threshold", cfg.Tracker.IdleThreshold)
	v.SetDefault("tracker.merge_threshold", cfg.Tracker.MergeThreshold)
	v.SetDefault("tracker.minimum_idle_duration", cfg.Tracker.MinimumIdleDuration)
	v.SetDefault("tracker.screenshot_interval", cfg.Tracker.ScreenshotInterval)

	v.SetDefault("screenshot.enabled", cfg.Screenshot.Enabled)
	v.SetDefault("screenshot.dir", cfg.Screenshot.Dir)
	v.SetDefault("screenshot.quality", cfg.Screenshot.Quality)
	v.SetDefault("screenshot.max_dimension", cfg.Screenshot.MaxDimension)
	v.SetDefault("screenshot.idle_skip_seconds", cfg.Screenshot.IdleSkipSeconds)
	v.SetDefault("screenshot.context_aware_thresholds", cfg.Screenshot.ContextAwareThresholds)
	v.SetDefault("screenshot.threshold_identical", cfg.Screenshot.ThresholdIdentical)
	v.SetDefault("screenshot.threshold_identical_same_window", cfg.Screenshot.ThresholdSameWindow)
	v.SetDefault("screenshot.threshold_identical_different_window", cfg.Screenshot.ThresholdDifferentWindow)
	v.SetDefault("screenshot.threshold_significant", cfg.Screenshot.ThresholdSignificant)
	v.SetDefault("screenshot.resave_window", cfg.Screenshot.ResaveWindow)
	v.SetDefault("screenshot.queue_size", cfg.Screenshot.QueueSize)
	v.SetDefault("screenshot.deny_list", cfg.Screenshot.DenyList)

	v.SetDefault("action.enabled", cfg.Action.Enabled)
	v.SetDefault("action.dir", cfg.Action.Dir)
	v.SetDefault("action.quality", cfg.Action.Quality)
	v.SetDefault("action.max_dimension", cfg.Action.MaxDimension)
	v.SetDefault("action.throttle", cfg.Action.Throttle)
	v.SetDefault("action.focus_poll_interval", cfg.Action.FocusPollInterval)
	v.SetDefault("action.drag_threshold", cfg.Action.DragThreshold)
	v.SetDefault("action.workers", cfg.Action.Workers)
	v.SetDefault("action.queue_size", cfg.Action.QueueSize)
	v.SetDefault("action.deny_list", cfg.Action.DenyList)

	v.SetDefault("resource.enabled", cfg.Resource.Enabled)
	v.SetDefault("resource.screenshot_cpu_threshold", cfg.Resource.ScreenshotCPUThreshold)
	v.SetDefault("resource.throttle_cpu_threshold", cfg.Resource.ThrottleCPUThreshold)
	v.SetDefault("resource.battery_threshold", cfg.Resource.BatteryThreshold)
	v.SetDefault("resource.throttled_poll_interval", cfg.Resource.ThrottledPollInterval)
	v.SetDefault("resource.idle_poll_after", cfg.Resource.IdlePollAfter)
	v.SetDefault("resource.idle_poll_interval", cfg.Resource.IdlePollInterval)
	v.SetDefault("resource.monitoring_interval", cfg.Resource.MonitoringInterval)

	v.SetDefault("daemon.pid_file", cfg.Daemon.PIDFile)

	v.SetDefault("telemetry.enabled", cfg.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", cfg.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", cfg.Telemetry.Insecure)
	v.SetDefault("telemetry.export_interval", cfg.Telemetry.ExportInterval)

	v.SetDefault("log.path", cfg.Log.Path)
	v.SetDefault("log.debug", cfg.Log.Debug)
}
