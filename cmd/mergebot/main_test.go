package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/mergebot/internal/auth"
	"github.com/nerrad567/mergebot/internal/infrastructure/config"
	"github.com/nerrad567/mergebot/internal/infrastructure/logging"
	"github.com/nerrad567/mergebot/internal/layout"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// writeConfig writes a minimal valid config and points MERGEBOT_CONFIG at it.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
device:
  package: com.example.rumble
database:
  path: ` + filepath.Join(dir, "mergebot.db") + `
results:
  path: ` + filepath.Join(dir, "results.jsonl") + `
logging:
  level: error
  output: stderr
` + extra
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("MERGEBOT_CONFIG", path)
	return dir
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("MERGEBOT_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("MERGEBOT_CONFIG", "/etc/mergebot/config.yaml")
	if got := getConfigPath(); got != "/etc/mergebot/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("MERGEBOT_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingLayout(t *testing.T) {
	writeConfig(t, "layout:\n  path: /nonexistent/layout.yaml\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading layout") {
		t.Errorf("run() error = %v, want a layout error", err)
	}
}

func TestRunToken(t *testing.T) {
	writeConfig(t, "security:\n  jwt:\n    secret: "+testSecret+"\n")

	var out bytes.Buffer
	if err := runToken([]string{"-subject", "alice", "-role", "viewer", "-ttl", "5m"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "alice" || claims.Role != auth.RoleViewer {
		t.Errorf("claims = %s/%s, want alice/viewer", claims.Subject, claims.Role)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > 5*time.Minute || ttl < 4*time.Minute {
		t.Errorf("token expires in %v, want about 5m", ttl)
	}
}

func TestRunToken_Errors(t *testing.T) {
	tests := []struct {
		name   string
		extra  string
		args   []string
		wantIn string
	}{
		{"no secret", "", nil, "secret is not set"},
		{"bad role", "security:\n  jwt:\n    secret: " + testSecret + "\n", []string{"-role", "admin"}, "invalid role"},
		{"bad flag", "", []string{"-nope"}, "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, tt.extra)
			var out bytes.Buffer
			err := runToken(tt.args, &out)
			if err == nil || !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("runToken() error = %v, want it to contain %q", err, tt.wantIn)
			}
			if out.Len() != 0 {
				t.Errorf("runToken() wrote %q on error", out.String())
			}
		})
	}
}

func TestRequiredRegions_ShippedLayout(t *testing.T) {
	l, err := layout.Load(filepath.Join("..", "..", "configs", "layout.yaml"))
	if err != nil {
		t.Fatalf("layout.Load() error = %v", err)
	}
	if err := l.Require(requiredRegions(config.Default())...); err != nil {
		t.Errorf("shipped layout is missing regions: %v", err)
	}
}

func TestApplication_CloseOrder(t *testing.T) {
	app := &application{log: logging.Default()}
	var closed []string
	for _, name := range []string{"database", "device", "api"} {
		app.onClose(name, func() error {
			closed = append(closed, name)
			return errors.New("ignored")
		})
	}

	app.Close()

	if want := []string{"api", "device", "database"}; !reflect.DeepEqual(closed, want) {
		t.Errorf("close order = %v, want %v", closed, want)
	}
}
