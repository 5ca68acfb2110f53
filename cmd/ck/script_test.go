package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

// TestMain lets the test binary stand in for the real ck executable: the
// script harness symlinks it onto PATH and sets CK_SCRIPT_MODE, so the
// re-exec'd copy runs main instead of the test runner.
func TestMain(m *testing.M) {
	if os.Getenv("CK_SCRIPT_MODE") == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestScripts(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("scripts assume a unix shell environment")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	binDir := t.TempDir()
	if err := os.Symlink(exe, filepath.Join(binDir, "ck")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	engine := &script.Engine{
		Conds: scripttest.DefaultConds(),
		Cmds:  scripttest.DefaultCmds(),
		Quiet: !testing.Verbose(),
	}
	env := []string{
		"PATH=" + binDir + string(os.PathListSeparator) + os.Getenv("PATH"),
		"HOME=" + t.TempDir(),
		"CK_SCRIPT_MODE=1",
		"NO_COLOR=1",
		"CK_NO_EMOJI=1",
		"TERM=dumb",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	t.Cleanup(cancel)
	scripttest.Test(t, ctx, engine, env, "testdata/script/*.txt")
}
