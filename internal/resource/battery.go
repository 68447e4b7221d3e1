package resource

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const powerSupplyDir = "/sys/class/power_supply"

// Battery is the charge state of the first system battery.
type Battery struct {
	Percent     float64
	Discharging bool
}

// readBattery reads the first BAT* entry under dir. It returns nil, nil on
// machines without a battery.
func readBattery(dir string) (*Battery, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "BAT*"))
	if err != nil || len(matches) == 0 {
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(matches[0], "capacity"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read battery capacity")
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed battery capacity %q", raw)
	}

	b := &Battery{Percent: pct}
	if status, err := os.ReadFile(filepath.Join(matches[0], "status")); err == nil {
		b.Discharging = strings.TrimSpace(string(status)) == "Discharging"
	}
	return b, nil
}
