package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testConfig writes a config with small media under a temp dir and returns
// its path and the directory.
func testConfig(t *testing.T, external bool) (string, string) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
internal:
  image: %s
  size: 65536
  layout:
    boot:   {table: 1, data: 1}
    system: {table: 1, data: 1}
    user:   {table: 1, data: 2}
`, filepath.Join(dir, "int.bin"))
	if external {
		body += fmt.Sprintf(`
external:
  chip: W25Q16
  image: %s
`, filepath.Join(dir, "ext.bin"))
	}
	path := filepath.Join(dir, "paramctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, dir
}

// run executes paramctl with args after resetting every flag.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verbose, quiet, jsonOut = false, false, false
	cfgPath, mediumName = "", "internal"
	setHex, setFile, setCreate = false, "", false
	getRaw, getString, formatYes = false, false, false

	rootCmd.SetArgs(args)
	return captureOutput(t, rootCmd.Execute)
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	return buf.String(), fnErr
}
