package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario and compares its rendering against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check assertions. Test failure
// (via goldie) occurs if the rendering doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the rendering of an existing result against a
// golden file without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(result.Render()))
}

// GoldenMismatchError is reported when a scenario's rendering differs from
// its golden file.
type GoldenMismatchError struct {
	Scenario   string
	GoldenPath string
}

// Error implements the error interface.
func (e *GoldenMismatchError) Error() string {
	return fmt.Sprintf("scenario %q does not match golden file %s", e.Scenario, e.GoldenPath)
}

// CheckGolden compares the rendering of r with dir/{name}.golden.
func CheckGolden(dir, name string, r *Result) error {
	path := filepath.Join(dir, name+".golden")
	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(want, []byte(r.Render())) {
		return &GoldenMismatchError{Scenario: name, GoldenPath: path}
	}
	return nil
}

// WriteGolden stores the rendering of r as dir/{name}.golden, creating dir
// when needed.
func WriteGolden(dir, name string, r *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create golden dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".golden"), []byte(r.Render()), 0o644); err != nil {
		return fmt.Errorf("write golden file: %w", err)
	}
	return nil
}
