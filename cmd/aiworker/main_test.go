package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aiworker/internal/app"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"serve", "broadcast", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %q, got %v (%v)", name, cmd, err)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "aiworker "+app.Version {
		t.Errorf("Unexpected version output %q", got)
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"http": {"host": "10.0.0.1", "port": 9000}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		opts     serveOptions
		wantHost string
		wantPort int
	}{
		{"defaults", serveOptions{port: -1}, "0.0.0.0", 8000},
		{"file", serveOptions{configPath: path, port: -1}, "10.0.0.1", 9000},
		{"flags win over file", serveOptions{configPath: path, host: "127.0.0.1", port: 0}, "127.0.0.1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(&tt.opts)
			if err != nil {
				t.Fatalf("loadConfig failed: %v", err)
			}
			if cfg.HTTP.Host != tt.wantHost || cfg.HTTP.Port != tt.wantPort {
				t.Errorf("Expected %s:%d, got %s:%d", tt.wantHost, tt.wantPort, cfg.HTTP.Host, cfg.HTTP.Port)
			}
		})
	}
}

func TestLoadConfig_InvalidPortFlag(t *testing.T) {
	if _, err := loadConfig(&serveOptions{port: 70000}); err == nil {
		t.Error("Expected an out of range port to be rejected")
	}
}

func TestBroadcastCmd_Validation(t *testing.T) {
	t.Setenv("AIWORKER_REDIS_URL", "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing payload", []string{"broadcast"}, "accepts 1 arg"},
		{"invalid json", []string{"broadcast", "{oops"}, "valid JSON"},
		{"no redis", []string{"broadcast", `{"type":"notice"}`}, "no redis url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)

			err := root.Execute()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
