package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoader_ReloadLogsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goblin.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	core, logs := observer.New(zap.WarnLevel)
	l.SetLogger(zap.New(core))

	if err := os.WriteFile(path, []byte("server: [unclosed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l.reload()

	if n := logs.FilterMessage("config reload failed; keeping previous settings").Len(); n == 0 {
		t.Error("a broken config edit was not logged")
	}
	if got := l.Get().Server.Addr; got != ":9000" {
		t.Errorf("got addr %q, want previous value :9000", got)
	}
}

func TestLoader_ReloadAppliesChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goblin.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan string, 4)
	l.OnChange(func(_, new Config) { changed <- new.Server.Addr })

	if err := os.WriteFile(path, []byte("server:\n  addr: \":9100\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l.reload()

	if got := l.Get().Server.Addr; got != ":9100" {
		t.Errorf("got addr %q, want :9100", got)
	}
	select {
	case got := <-changed:
		if got != ":9100" {
			t.Errorf("callback got addr %q", got)
		}
	default:
		t.Error("OnChange callback was not called")
	}
}
