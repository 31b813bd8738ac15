package deps_test

import (
	"os"
	"path/filepath"
	"testing"

	"ogreclient/internal/config"
	"ogreclient/internal/deps"
)

func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(path, script, 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCheckBinariesAvailable(t *testing.T) {
	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "calibre", Command: fakeBinary(t)},
	})
	if len(statuses) != 1 || !statuses[0].Available {
		t.Fatalf("statuses = %+v", statuses)
	}
}

func TestCheckBinariesMissing(t *testing.T) {
	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "calibre", Command: "definitely-not-a-real-binary"},
		{Name: "dedrm", Command: "", Optional: true},
	})
	if statuses[0].Available {
		t.Error("missing binary reported available")
	}
	if statuses[1].Detail != "command not configured" {
		t.Errorf("detail = %q", statuses[1].Detail)
	}

	missing := deps.MissingRequired(statuses)
	if len(missing) != 1 || missing[0] != "calibre" {
		t.Errorf("missing = %v", missing)
	}
}

func TestRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Calibre.EbookMetaBin = "/opt/calibre/ebook-meta"
	cfg.DeDRM.Enabled = false

	reqs := deps.Requirements(&cfg)
	if reqs[0].Command != "/opt/calibre/ebook-meta" || reqs[0].Optional {
		t.Errorf("calibre requirement = %+v", reqs[0])
	}
	if !reqs[1].Optional {
		t.Error("dedrm should be optional when disabled")
	}
}
