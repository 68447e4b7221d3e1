package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/snaptrail/snaptrail/internal/action"
	"github.com/snaptrail/snaptrail/internal/config"
	"github.com/snaptrail/snaptrail/internal/daemon"
	"github.com/snaptrail/snaptrail/internal/database"
	"github.com/snaptrail/snaptrail/internal/logging"
	"github.com/snaptrail/snaptrail/internal/resource"
	"github.com/snaptrail/snaptrail/internal/screenshot"
	"github.com/snaptrail/snaptrail/internal/telemetry"
	"github.com/snaptrail/snaptrail/internal/tracker"
	"github.com/snaptrail/snaptrail/pkg/detector"
	"github.com/snaptrail/snaptrail/pkg/integrations/hook"
	"github.com/snaptrail/snaptrail/version"
)

const shutdownTimeout = 5 * time.Second

// tuning holds per-run overrides of the loaded configuration.
type tuning struct {
	cmd          *cobra.Command
	pollInterval time.Duration
	throttle     time.Duration
}

func (t *tuning) bind(cmd *cobra.Command) {
	t.cmd = cmd
	cmd.Flags().DurationVar(&t.pollInterval, "poll-interval", 0, "override tracker.poll_interval, e.g. 2s")
	cmd.Flags().DurationVar(&t.throttle, "action-throttle", 0, "override action.throttle, e.g. 1s")
}

func (t *tuning) set(name string) bool {
	return t.cmd != nil && t.cmd.Flags().Changed(name)
}

func (t *tuning) apply(cfg *config.Config) error {
	if t.set("poll-interval") {
		if err := cfg.SetPollInterval(t.pollInterval); err != nil {
			return errors.Wrap(err, "invalid --poll-interval")
		}
	}
	if t.set("action-throttle") {
		if err := cfg.SetThrottle(t.throttle); err != nil {
			return errors.Wrap(err, "invalid --action-throttle")
		}
	}
	return nil
}

// args forwards the overrides to a spawned run.
func (t *tuning) args() []string {
	var args []string
	if t.set("poll-interval") {
		args = append(args, "--poll-interval", t.pollInterval.String())
	}
	if t.set("action-throttle") {
		args = append(args, "--action-throttle", t.throttle.String())
	}
	return args
}

func newStartCmd(opts *options) *cobra.Command {
	var tune tuning

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the capture daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := tune.apply(cfg); err != nil {
				return err
			}
			if err := ensureNotRunning(cfg); err != nil {
				return err
			}

			childArgs := []string{"run"}
			if opts.configFile != "" {
				childArgs = append(childArgs, "--config", opts.configFile)
			}
			if opts.debug {
				childArgs = append(childArgs, "--debug")
			}
			childArgs = append(childArgs, tune.args()...)
			pid, err := daemon.Spawn(childArgs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon started successfully (PID: %d)\n", pid)
			fmt.Fprintf(out, "Logs: %s\n", cfg.Log.Path)
			return nil
		},
	}
	tune.bind(cmd)
	return cmd
}

func newRunCmd(opts *options) *cobra.Command {
	var tune tuning

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the capture daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := tune.apply(cfg); err != nil {
				return err
			}
			if err := ensureNotRunning(cfg); err != nil {
				return err
			}

			var logger *zap.Logger
			if daemon.IsChild() {
				logger, err = logging.New(cfg.Log.Path, cfg.Log.Debug)
				if err != nil {
					return err
				}
			} else {
				logger = logging.NewConsole(cfg.Log.Debug)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, logger)
		},
	}
	tune.bind(cmd)
	return cmd
}

func ensureNotRunning(cfg *config.Config) error {
	running, pid, err := daemon.New(cfg.Daemon.PIDFile).IsRunning()
	if err != nil {
		return errors.Wrap(err, "failed to check daemon status")
	}
	if running {
		return errors.Errorf("daemon is already running (PID: %d)", pid)
	}
	return nil
}

// runDaemon wires the platform, the sinks and the three capture loops and
// blocks until ctx is cancelled or the tracker fails.
func runDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		return err
	}
	repo := database.NewRepository(db)
	pruneEvents(repo, cfg.Database.Retention, time.Now(), logger)

	platform, err := detector.New()
	if err != nil {
		return errors.Wrap(err, "failed to initialize window detector")
	}
	defer platform.Close()
	logger.Info("window detector initialized", zap.String("display_server", platform.GetDisplayServer()))

	metrics, err := telemetry.New(ctx, cfg.Telemetry, version.Version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to flush metrics", zap.Error(err))
		}
	}()

	dm := daemon.New(cfg.Daemon.PIDFile)
	if err := dm.WritePID(); err != nil {
		return err
	}
	defer dm.RemovePID()

	logger.Info("starting snaptrail daemon",
		zap.String("version", version.Version),
		zap.Int("pid", os.Getpid()))
	logger.Debug("configuration", zap.String("config", cfg.String()))

	trackerOpts := []tracker.Option{
		tracker.WithLogger(logger.Named("tracker")),
		tracker.WithTelemetry(metrics),
		tracker.WithResumptionSink(repo),
		tracker.WithInteractionProbe(platform),
	}

	shotOpts := []screenshot.Option{
		screenshot.WithLogger(logger.Named("screenshot")),
		screenshot.WithTelemetry(metrics),
	}

	var monitor *resource.Monitor
	if cfg.Resource.Enabled {
		monitor, err = resource.New(cfg.Resource, resource.WithLogger(logger.Named("resource")))
		if err != nil {
			logger.Warn("resource monitoring unavailable", zap.Error(err))
		} else {
			trackerOpts = append(trackerOpts, tracker.WithPollAdvisor(monitor))
			shotOpts = append(shotOpts, screenshot.WithSkipCheck(monitor))
		}
	}

	var shots *screenshot.Worker
	if cfg.Screenshot.Enabled {
		shots = screenshot.New(cfg.Screenshot, platform, repo, shotOpts...)
		trackerOpts = append(trackerOpts, tracker.WithScreenshots(shots))
	}
	loop := tracker.New(cfg.Tracker, platform, platform, trackerOpts...)

	g, gctx := errgroup.WithContext(ctx)

	if monitor != nil {
		g.Go(func() error { return monitor.Run(gctx) })
	}

	if cfg.Action.Enabled {
		actions := action.New(cfg.Action, platform, platform, hook.NewSource(), repo,
			action.WithLogger(logger.Named("action")),
			action.WithTelemetry(metrics))
		if err := actions.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			if !actions.Shutdown(true, shutdownTimeout) {
				logger.Warn("action captures still pending at shutdown")
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		loop.Stop()
		return nil
	})
	g.Go(func() error {
		if err := loop.Run(gctx, repo); err != nil {
			if logErr := repo.CreateErrorLog("tracker", err); logErr != nil {
				logger.Error("failed to record tracker error", zap.Error(logErr))
			}
			return errors.Wrap(err, "tracker stopped")
		}
		return nil
	})

	err = g.Wait()

	if shots != nil && !shots.Shutdown(true, shutdownTimeout) {
		logger.Warn("screenshot requests still pending at shutdown")
	}

	st := loop.Stats()
	logger.Info("daemon stopped",
		zap.Uint64("ticks", st.Ticks),
		zap.Uint64("events", st.EventsEmitted),
		zap.Uint64("screenshot_requests", st.ScreenshotRequests))
	return err
}

// pruneEvents drops activity events older than retention. A zero retention
// keeps everything.
func pruneEvents(repo *database.Repository, retention time.Duration, now time.Time, logger *zap.Logger) {
	if retention <= 0 {
		return
	}
	n, err := repo.DeleteOldEvents(now.Add(-retention))
	if err != nil {
		logger.Warn("failed to prune old activity events", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("pruned old activity events", zap.Int64("count", n), zap.Duration("retention", retention))
	}
}
