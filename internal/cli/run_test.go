package cli

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snaptrail/snaptrail/internal/config"
	"github.com/snaptrail/snaptrail/internal/database"
	"github.com/snaptrail/snaptrail/internal/models"
)

func TestTuning(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		wantPoll time.Duration
		wantThr  time.Duration
		wantArgs []string
	}{
		{
			name:     "No overrides",
			wantPoll: time.Second,
			wantThr:  500 * time.Millisecond,
		},
		{
			name:     "Both overrides",
			args:     []string{"--poll-interval", "2s", "--action-throttle", "0s"},
			wantPoll: 2 * time.Second,
			wantThr:  0,
			wantArgs: []string{"--poll-interval", "2s", "--action-throttle", "0s"},
		},
		{
			name:    "Poll below minimum",
			args:    []string{"--poll-interval", "10ms"},
			wantErr: true,
		},
		{
			name:    "Negative throttle",
			args:    []string{"--action-throttle", "-1s"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tune tuning
			cmd := &cobra.Command{Use: "run"}
			tune.bind(cmd)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatal(err)
			}

			cfg := config.Default()
			err := tune.apply(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("apply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg.Tracker.PollInterval != tt.wantPoll {
				t.Errorf("PollInterval = %v, want %v", cfg.Tracker.PollInterval, tt.wantPoll)
			}
			if cfg.Action.Throttle != tt.wantThr {
				t.Errorf("Throttle = %v, want %v", cfg.Action.Throttle, tt.wantThr)
			}
			if got := tune.args(); !reflect.DeepEqual(got, tt.wantArgs) {
				t.Errorf("args() = %v, want %v", got, tt.wantArgs)
			}
		})
	}
}

func TestStartRejectsBadPollInterval(t *testing.T) {
	e := newEnv(t)
	_, err := execute(t, "start", "--config", e.config, "--poll-interval", "2m")
	if err == nil || !strings.Contains(err.Error(), "poll-interval") {
		t.Errorf("start = %v, want a --poll-interval error", err)
	}
}

func TestPruneEvents(t *testing.T) {
	tests := []struct {
		name      string
		retention time.Duration
		want      int
	}{
		{"Keep forever", 0, 2},
		{"One day", 24 * time.Hour, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			db, err := database.Connect(e.dbPath)
			if err != nil {
				t.Fatal(err)
			}
			defer db.Close()
			if err := db.Initialize(); err != nil {
				t.Fatal(err)
			}
			repo := database.NewRepository(db)

			now := time.Now()
			for _, start := range []time.Time{now.Add(-48 * time.Hour), now.Add(-time.Hour)} {
				ev := models.ActivityEvent{StartTime: start, AppName: "code", WindowTitle: "main.go", State: models.StateActive}
				ev.Close(start.Add(time.Minute))
				if err := repo.SaveEvent(context.Background(), ev); err != nil {
					t.Fatal(err)
				}
			}

			pruneEvents(repo, tt.retention, now, zap.NewNop())

			events, err := repo.GetEventsSince(time.Time{})
			if err != nil {
				t.Fatal(err)
			}
			if len(events) != tt.want {
				t.Errorf("%d events left, want %d", len(events), tt.want)
			}
		})
	}
}

func TestHelpDocumentsDurationUnits(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "180s") || !strings.Contains(out, "bare number") {
		t.Errorf("help does not explain duration units:\n%s", out)
	}
}
