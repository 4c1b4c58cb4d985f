package deliverysync_test

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestModuleDependencies_RestyPresent(t *testing.T) {
	testModulePresence(t, "github.com/go-resty/resty/v2")
}

func TestModuleDependencies_WebsocketPresent(t *testing.T) {
	testModulePresence(t, "github.com/gorilla/websocket")
}

func TestModuleDependencies_DebouncePresent(t *testing.T) {
	testModulePresence(t, "github.com/romdo/go-debounce")
}

func TestModuleDependencies_RetryPresent(t *testing.T) {
	testModulePresence(t, "github.com/sethvargo/go-retry")
}

func TestModuleDependencies_JWTPresent(t *testing.T) {
	testModulePresence(t, "github.com/golang-jwt/jwt/v5")
}

func TestModuleDependencies_KoanfPresent(t *testing.T) {
	testModulePresence(t, "github.com/knadh/koanf/v2")
}

func TestRestyAPI_NoLegacySetHostURL(t *testing.T) {
	t.Run("happy_repo_has_no_legacy_symbol", func(t *testing.T) {
		matches, err := findLegacySetHostURLUsages(".")
		if err != nil {
			t.Fatalf("scan repository: %v", err)
		}
		if len(matches) != 0 {
			t.Fatalf("expected no SetHostURL usages, found in: %v", matches)
		}
	})

	t.Run("error_fixture_with_legacy_symbol_is_detected", func(t *testing.T) {
		fixture := `package remote
func setup() { client.SetHostURL("http://example.com") }`
		if !hasLegacySetHostURL(fixture) {
			t.Fatal("expected legacy symbol to be detected in fixture")
		}
	})
}

func testModulePresence(t *testing.T, module string) {
	t.Helper()

	t.Run("happy_present_in_real_go_mod", func(t *testing.T) {
		goMod, err := os.ReadFile("go.mod")
		if err != nil {
			t.Fatalf("read go.mod: %v", err)
		}
		if !moduleRequired(string(goMod), module) {
			t.Fatalf("expected module %q to be present in go.mod", module)
		}
	})

	t.Run("error_missing_module_in_fixture", func(t *testing.T) {
		fixture := `module example.com/demo

go 1.25.0

require (
	github.com/gin-gonic/gin v1.11.0
)`
		if moduleRequired(fixture, module) {
			t.Fatalf("expected fixture to not contain module %q", module)
		}
	})
}

func moduleRequired(goModContent, module string) bool {
	re := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(module) + `\s+v\S+`)
	return re.MatchString(goModContent)
}

func findLegacySetHostURLUsages(root string) ([]string, error) {
	matches := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "vendor" || strings.HasPrefix(name, "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		b, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		if hasLegacySetHostURL(string(b)) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func hasLegacySetHostURL(content string) bool {
	re := regexp.MustCompile(`\.SetHostURL\s*\(`)
	return re.MatchString(content)
}
