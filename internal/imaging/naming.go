package imaging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

const maxLabelRunes = 20

// SanitizeLabel turns an application name into a file-name fragment:
// ".exe" is stripped, dots become underscores, characters outside letters,
// digits, '-' and '_' are dropped and the result is capped at 20 runes.
func SanitizeLabel(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(strings.ToLower(name), ".exe") {
		name = name[:len(name)-len(".exe")]
	}

	var b strings.Builder
	n := 0
	for _, r := range name {
		if n == maxLabelRunes {
			break
		}
		switch {
		case r == '.' || r == ' ':
			r = '_'
		case r == '-' || r == '_':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
		default:
			continue
		}
		b.WriteRune(r)
		n++
	}

	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// zoneLabel returns the zone abbreviation with characters that are unsafe
// in file names replaced, e.g. "+05:30" becomes "p05-30".
func zoneLabel(t time.Time) string {
	return strings.NewReplacer(":", "-", "+", "p").Replace(t.Format("MST"))
}

// FileName returns YYYY-MM-DD_HH-MM-SS_TZ_label.jpg for t.
func FileName(t time.Time, label string) string {
	return fmt.Sprintf("%s_%s_%s.jpg", t.Format("2006-01-02_15-04-05"), zoneLabel(t), SanitizeLabel(label))
}

// PathFor reserves a fresh path under dir/YYYY-MM-DD/ for a capture taken
// at t. Same-second collisions get a _2, _3, ... suffix. The returned file
// exists and is empty so concurrent callers never receive the same path.
func PathFor(dir string, t time.Time, label string) (string, error) {
	dayDir := filepath.Join(dir, t.Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create date directory")
	}

	name := FileName(t, label)
	base := strings.TrimSuffix(name, ".jpg")
	for i := 1; i < 10000; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d.jpg", base, i)
		}
		path := filepath.Join(dayDir, candidate)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return path, nil
		}
		if !os.IsExist(err) {
			return "", errors.Wrap(err, "failed to reserve screenshot path")
		}
	}
	return "", errors.Errorf("no free file name for %s", name)
}
