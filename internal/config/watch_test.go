package config

import (
	"os"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_Reload(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "default_shell: /bin/sh\n")
	initial, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, initial, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	reloaded := make(chan *Config, 4)
	w.OnReload(func(c *Config) { reloaded <- c })

	if err := os.WriteFile(path, []byte("default_shell: /bin/zsh\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.DefaultShell != "/bin/zsh" {
			t.Errorf("reloaded DefaultShell = %q, want /bin/zsh", cfg.DefaultShell)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after writing the config file")
	}
	if got := w.Current().DefaultShell; got != "/bin/zsh" {
		t.Errorf("Current().DefaultShell = %q, want /bin/zsh", got)
	}
}

func TestWatcher_KeepsPreviousOnError(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "default_shell: /bin/sh\n")
	initial, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, initial, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("keys: [broken"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * reloadDelay)
	if w.Current() != initial {
		t.Error("a broken config replaced the current one")
	}

	// A later valid write is still picked up.
	if err := os.WriteFile(path, []byte("ssh_command: mosh\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { return w.Current().SSHCommand == "mosh" }) {
		t.Error("valid config was not reloaded after a broken one")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := writeConfig(t, "")
	w, err := NewWatcher(path, Default(), nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
