package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/arbiter"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbiter.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() of missing file = %v, want nil error", err)
	}
	if f != nil {
		t.Errorf("Load() of missing file = %v, want nil", f)
	}
}

func TestLoadAndApply(t *testing.T) {
	path := writeFile(t, `
[defaults]
sync = true
latch = 0.5
semaphore = 4
priority = 2.5
`)

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if f == nil {
		t.Fatal("Load() returned nil file")
	}

	base := arbiter.DefaultOptions()
	got := f.Apply(base)

	if !got.Sync {
		t.Error("Sync not applied")
	}
	if got.Latch != 0.5 {
		t.Errorf("Latch = %v, want 0.5", got.Latch)
	}
	if got.Semaphore != 4 {
		t.Errorf("Semaphore = %d, want 4", got.Semaphore)
	}
	if got.Priority != 2.5 {
		t.Errorf("Priority = %v, want 2.5", got.Priority)
	}
	// Unset fields keep their defaults.
	if got.Persist {
		t.Error("Persist flipped without being set")
	}
	if got.SettlementLatch {
		t.Error("SettlementLatch flipped without being set")
	}
}

func TestApplyNilFile(t *testing.T) {
	base := arbiter.DefaultOptions()
	var f *File
	if got := f.Apply(base); got != base {
		t.Errorf("nil file Apply() = %+v, want %+v", got, base)
	}
}

func TestParseError(t *testing.T) {
	path := writeFile(t, "not [valid toml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() of malformed file succeeded")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Errorf("Load() error = %T, want *ParseError", err)
	}
}

func TestApplyTo(t *testing.T) {
	path := writeFile(t, `
[defaults]
settlement_latch = true
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	b := arbiter.New()
	f.ApplyTo(b)
	if !b.Defaults().SettlementLatch {
		t.Error("ApplyTo() did not mutate the broker defaults")
	}
}
