package engine

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

const modulePath = "github.com/talgya/contagion"

// TestCoreHasNoTransport keeps the simulation core free of network transport
// and of the hosting layers built on top of it.
func TestCoreHasNoTransport(t *testing.T) {
	core := []string{
		modulePath + "/internal/agents",
		modulePath + "/internal/engine",
		modulePath + "/internal/world",
	}
	forbidden := []string{
		"net/http",
		"github.com/gorilla/websocket",
		modulePath + "/internal/api",
		modulePath + "/internal/client",
		modulePath + "/internal/session",
		modulePath + "/internal/persistence",
		modulePath + "/internal/archive",
		modulePath + "/internal/metrics",
		modulePath + "/internal/render",
		modulePath + "/internal/runner",
		modulePath + "/internal/config",
		modulePath + "/internal/llm",
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, core...)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if len(pkgs) != len(core) {
		t.Fatalf("loaded %d packages, want %d", len(pkgs), len(core))
	}

	var violations []string
	for _, pkg := range pkgs {
		for _, e := range pkg.Errors {
			t.Errorf("%s: %v", pkg.PkgPath, e)
		}
		for importPath := range pkg.Imports {
			for _, f := range forbidden {
				if importPath == f || strings.HasPrefix(importPath, f+"/") {
					violations = append(violations, pkg.PkgPath+": "+importPath)
				}
			}
		}
	}

	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("forbidden import in core package: %s", v)
	}
}
