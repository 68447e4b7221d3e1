// Package cli implements the snaptrail command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/snaptrail/snaptrail/internal/config"
)

type options struct {
	configFile string
	debug      bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "snaptrail",
		Short: "Passive activity and screenshot capture",
		Long: `snaptrail records which window has focus, whether the user is idle,
and deduplicated screenshots of what was on screen.

Configuration is read from ~/.config/snaptrail/config.yaml (or --config)
and SNAPTRAIL_* environment variables, e.g. SNAPTRAIL_TRACKER_POLL_INTERVAL=2s.
Durations need a unit (500ms, 180s, 3m, 720h); a bare number is rejected.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ~/.config/snaptrail/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newStartCmd(opts),
		newRunCmd(opts),
		newStopCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.debug {
		cfg.Log.Debug = true
	}
	return cfg, nil
}
