package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/errors"
)

func TestPIDFileRoundTrip(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "snaptrail.pid"))

	if pid, err := d.ReadPID(); err != nil || pid != 0 {
		t.Fatalf("ReadPID without file = %d, %v; want 0, nil", pid, err)
	}
	if err := d.WritePID(); err != nil {
		t.Fatal(err)
	}
	pid, err := d.ReadPID()
	if err != nil || pid != os.Getpid() {
		t.Fatalf("ReadPID = %d, %v; want %d", pid, err, os.Getpid())
	}

	running, got, err := d.IsRunning()
	if err != nil || !running || got != os.Getpid() {
		t.Errorf("IsRunning = %v, %d, %v; want this process", running, got, err)
	}

	if err := d.RemovePID(); err != nil {
		t.Fatal(err)
	}
	if err := d.RemovePID(); err != nil {
		t.Errorf("second RemovePID = %v, want nil", err)
	}
}

func TestInvalidPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snaptrail.pid")
	os.WriteFile(path, []byte("not-a-pid"), 0644)

	if _, err := New(path).ReadPID(); err == nil {
		t.Error("ReadPID accepted garbage")
	}
}

func TestStalePIDFileRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snaptrail.pid")
	// PID max on Linux is bounded well below this.
	os.WriteFile(path, []byte(strconv.Itoa(1<<30)), 0644)
	d := New(path)

	running, _, err := d.IsRunning()
	if err != nil || running {
		t.Fatalf("IsRunning = %v, %v; want false, nil", running, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale PID file was kept")
	}
}

func TestStopNotRunning(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "snaptrail.pid"))
	if err := d.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop = %v, want ErrNotRunning", err)
	}
}

func TestIsChild(t *testing.T) {
	t.Setenv(ChildEnv, "")
	if IsChild() {
		t.Error("IsChild true without marker")
	}
	t.Setenv(ChildEnv, "1")
	if !IsChild() {
		t.Error("IsChild false with marker")
	}
}
