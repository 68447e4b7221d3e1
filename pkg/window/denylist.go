package window

import (
	"path/filepath"
	"strings"
)

// lockers are lock-screen and screensaver processes that must never be
// captured.
var lockers = []string{
	"gnome-screensaver-dialog",
	"kscreenlocker_greet",
	"i3lock",
	"slock",
	"xscreensaver",
	"xsecurelock",
	"light-locker",
	"lockapp.exe",
	"screensaver.scr",
	"logonui.exe",
}

// DenyList matches owning process names that are silently skipped.
type DenyList struct {
	names map[string]struct{}
}

// NewDenyList returns the built-in lock/screensaver list plus extra names.
func NewDenyList(extra ...string) *DenyList {
	d := &DenyList{names: make(map[string]struct{}, len(lockers)+len(extra))}
	for _, n := range lockers {
		d.names[n] = struct{}{}
	}
	for _, n := range extra {
		if n = strings.TrimSpace(n); n != "" {
			d.names[strings.ToLower(n)] = struct{}{}
		}
	}
	return d
}

// Contains reports whether app is deny-listed. Matching is case-insensitive
// on the base name.
func (d *DenyList) Contains(app string) bool {
	if d == nil || app == "" {
		return false
	}
	_, ok := d.names[strings.ToLower(filepath.Base(app))]
	return ok
}
