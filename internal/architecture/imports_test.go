package architecture_test

import (
	"bufio"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Dependencies point inward: platform <- ledger <- engine <- httpapi <- app.
// Tests may import fakes from any layer, so only production sources are checked.
func TestImportBoundaries(t *testing.T) {
	root := moduleRoot(t)
	modulePath, err := readModulePath(filepath.Join(root, "go.mod"))
	if err != nil {
		t.Fatalf("read module path: %v", err)
	}

	fset := token.NewFileSet()
	var violations []string

	walkErr := filepath.WalkDir(filepath.Join(root, "internal"), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !productionSource(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		disallowed := disallowedImports(modulePath, layerFor(rel))
		if len(disallowed) == 0 {
			return nil
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, spec := range f.Imports {
			imp, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				continue
			}
			for _, bad := range disallowed {
				if imp == bad || strings.HasPrefix(imp, bad+"/") {
					violations = append(violations, fmt.Sprintf("- %s imports %q (disallowed: %q)", rel, imp, bad))
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		t.Fatalf("walk internal/: %v", walkErr)
	}
	if len(violations) > 0 {
		t.Fatalf("import boundary violations:\n%s", strings.Join(violations, "\n"))
	}
}

func TestLayerFor(t *testing.T) {
	cases := map[string]string{
		"internal/platform/logger/logger.go":       "platform",
		"internal/holders/ledger/ledger.go":        "ledger",
		"internal/holders/ledger/evmrpc/client.go": "ledger",
		"internal/holders/engine/engine.go":        "engine",
		"internal/holders/httpapi/server.go":       "httpapi",
		"internal/holders/app/app.go":              "",
	}
	for rel, want := range cases {
		if got := layerFor(rel); got != want {
			t.Errorf("layerFor(%q)=%q want %q", rel, got, want)
		}
	}
}

func TestProductionSource(t *testing.T) {
	cases := map[string]bool{
		"internal/holders/httpapi/server.go":      true,
		"internal/holders/httpapi/server_test.go": false,
		"internal/holders/ledger/mock/README.md":  false,
	}
	for path, want := range cases {
		if got := productionSource(path); got != want {
			t.Errorf("productionSource(%q)=%v want %v", path, got, want)
		}
	}
}

func productionSource(path string) bool {
	return strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go")
}

func layerFor(rel string) string {
	switch {
	case strings.HasPrefix(rel, "internal/platform/"):
		return "platform"
	case strings.HasPrefix(rel, "internal/holders/ledger/"):
		return "ledger"
	case strings.HasPrefix(rel, "internal/holders/engine/"):
		return "engine"
	case strings.HasPrefix(rel, "internal/holders/httpapi/"):
		return "httpapi"
	default:
		return ""
	}
}

func disallowedImports(modulePath, layer string) []string {
	holders := modulePath + "/internal/holders"
	switch layer {
	case "platform":
		return []string{holders}
	case "ledger":
		return []string{holders + "/engine", holders + "/httpapi", holders + "/app"}
	case "engine":
		return []string{holders + "/httpapi", holders + "/app", holders + "/ledger/evmrpc"}
	case "httpapi":
		return []string{holders + "/app", holders + "/ledger/evmrpc", holders + "/ledger/mock"}
	default:
		return nil
	}
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("go.mod not found")
		}
		dir = parent
	}
}

func readModulePath(goModPath string) (string, error) {
	f, err := os.Open(goModPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "module ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "module ")), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("module directive not found in %s", goModPath)
}
