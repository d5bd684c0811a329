package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// ---------------------------------------------------------------------------
// pid file
// ---------------------------------------------------------------------------

func TestAcquireAndReleasePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harpoon.pid")

	pf, err := acquirePIDFile(path)
	if err != nil {
		t.Fatalf("acquirePIDFile: %v", err)
	}

	pid, ok := readPID(path)
	if !ok {
		t.Fatal("pid file unreadable")
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	pf.release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pid file not removed on release")
	}
}

func TestAcquireRefusesLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harpoon.pid")
	// Our own pid is as live as it gets.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := acquirePIDFile(path); err == nil {
		t.Fatal("claim over a live holder accepted")
	}
}

func TestAcquireReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harpoon.pid")
	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pf, err := acquirePIDFile(path)
	if err != nil {
		t.Fatalf("stale pid file not replaced: %v", err)
	}
	defer pf.release()

	if pid, ok := readPID(path); !ok || pid != os.Getpid() {
		t.Errorf("pid = %d after stale replacement", pid)
	}
}

func TestAcquireReplacesGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harpoon.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pf, err := acquirePIDFile(path)
	if err != nil {
		t.Fatalf("garbage pid file not replaced: %v", err)
	}
	pf.release()
}

// ---------------------------------------------------------------------------
// reload
// ---------------------------------------------------------------------------

func writeDaemonConfig(t *testing.T, path, level string) {
	t.Helper()
	yaml := "harpoon:\n  log:\n    level: " + level + "\n  network:\n    interface: lo\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReloadPicksUpLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harpoon.yaml")
	writeDaemonConfig(t, path, "info")

	d, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.cfg.Log.Level != "info" {
		t.Fatalf("level = %q", d.cfg.Log.Level)
	}

	writeDaemonConfig(t, path, "debug")
	if err := d.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if d.cfg.Log.Level != "debug" {
		t.Errorf("level = %q after reload", d.cfg.Log.Level)
	}
}

func TestReloadKeepsOldConfigOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harpoon.yaml")
	writeDaemonConfig(t, path, "info")

	d, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := os.WriteFile(path, []byte("harpoon:\n  log:\n    level: bogus\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.Reload(); err == nil {
		t.Fatal("invalid reload accepted")
	}
	if d.cfg.Log.Level != "info" {
		t.Errorf("level = %q, old config not kept", d.cfg.Log.Level)
	}
}
