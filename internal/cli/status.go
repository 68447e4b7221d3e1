package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/snaptrail/snaptrail/internal/config"
	"github.com/snaptrail/snaptrail/internal/daemon"
	"github.com/snaptrail/snaptrail/internal/database"
	"github.com/snaptrail/snaptrail/pkg/detector"
	"github.com/snaptrail/snaptrail/pkg/utils"
)

// recentEvents is how many of today's events status lists.
const recentEvents = 5

func newStatusCmd(opts *options) *cobra.Command {
	var noWindow bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, today's activity and the focused window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			running, pid, err := daemon.New(cfg.Daemon.PIDFile).IsRunning()
			if err != nil {
				return errors.Wrap(err, "failed to check daemon status")
			}
			if running {
				fmt.Fprintf(out, "Status: Running (PID: %d)\n", pid)
				fmt.Fprintf(out, "Poll Interval: %v\n", cfg.Tracker.PollInterval)
			} else {
				fmt.Fprintln(out, "Status: Not running")
			}

			if err := printToday(out, cfg, time.Now()); err != nil {
				fmt.Fprintf(out, "\nCould not read activity: %v\n", err)
			}
			if !noWindow {
				printCurrentWindow(out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWindow, "no-window", false, "skip probing the current window")
	return cmd
}

func printToday(out io.Writer, cfg *config.Config, now time.Time) error {
	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		return err
	}
	repo := database.NewRepository(db)

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	apps, err := repo.GetAppSummarySince(midnight)
	if err != nil {
		return err
	}
	periodic, actions, err := repo.CountScreenshotsSince(midnight)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nToday:\n")
	if len(apps) == 0 {
		fmt.Fprintln(out, "  No activity recorded")
	}
	for _, a := range apps {
		d := time.Duration(a.TotalSeconds * float64(time.Second))
		fmt.Fprintf(out, "  %-24s %8s  (%d events)\n", a.AppName, utils.FormatDuration(d), a.EventCount)
	}
	fmt.Fprintf(out, "  Screenshots: %d periodic, %d actions\n", periodic, actions)

	latest, err := repo.GetLatestScreenshot()
	if err != nil {
		return err
	}
	if latest != nil {
		fmt.Fprintf(out, "  Latest: %s\n", latest.FilePath)
	}

	events, err := repo.GetEventsSince(midnight)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Fprintf(out, "\nRecent:\n")
	}
	for _, ev := range events[max(0, len(events)-recentEvents):] {
		d := time.Duration(ev.DurationSeconds * float64(time.Second))
		fmt.Fprintf(out, "  %s  %-8s %8s  %s  %s\n",
			ev.StartTime.Local().Format("15:04:05"), ev.State, utils.FormatDuration(d), ev.AppName, ev.WindowTitle)
	}
	return nil
}

func printCurrentWindow(out io.Writer) {
	platform, err := detector.New()
	if err != nil {
		fmt.Fprintf(out, "\nCould not detect current window: %v\n", err)
		return
	}
	defer platform.Close()

	h, err := platform.Foreground()
	if err == nil {
		if info, err := platform.Describe(h); err == nil {
			fmt.Fprintf(out, "\nCurrent Window:\n")
			fmt.Fprintf(out, "  App: %s\n", info.AppName)
			fmt.Fprintf(out, "  Title: %s\n", info.WindowTitle)
			fmt.Fprintf(out, "  Display: %s\n", platform.GetDisplayServer())
		}
	}

	if idle, err := platform.IdleSeconds(); err == nil {
		fmt.Fprintf(out, "\nIdle Time: %.0fs\n", idle)
	}
}
