package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunOfflineCreateAndValidate(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	handled, err := runOffline(&out, options{cmd: "create", dir: dir, name: "add tracking index"})
	if err != nil || !handled {
		t.Fatalf("create: handled=%v err=%v", handled, err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "*_add_tracking_index.sql"))
	if len(files) != 1 {
		t.Fatalf("expected one migration file, got %v", files)
	}

	out.Reset()
	handled, err = runOffline(&out, options{cmd: "validate", dir: dir})
	if err != nil || !handled {
		t.Fatalf("validate: handled=%v err=%v", handled, err)
	}
	if !strings.Contains(out.String(), "validation passed") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunOfflineRejectsBadInput(t *testing.T) {
	if _, err := runOffline(&bytes.Buffer{}, options{cmd: "create", dir: t.TempDir()}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := runOffline(&bytes.Buffer{}, options{cmd: "validate", dir: dir}); err == nil {
		t.Fatal("expected invalid filename to fail validation")
	}
}

func TestRunOfflineLeavesDatabaseCommands(t *testing.T) {
	handled, err := runOffline(&bytes.Buffer{}, options{cmd: "up"})
	if handled || err != nil {
		t.Fatalf("up must be handled online, handled=%v err=%v", handled, err)
	}
}

func TestRunOnlineUsageErrors(t *testing.T) {
	ctx := context.Background()
	if err := runOnline(ctx, nil, options{cmd: "version"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error for missing version, got %v", err)
	}
	if err := runOnline(ctx, nil, options{cmd: "bogus"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error for unknown command, got %v", err)
	}
}
