package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestInit_Disabled(t *testing.T) {
	var out bytes.Buffer
	c, err := Init(Options{Stderr: &out})
	require.NoError(t, err)
	defer c.Close()

	Error("dropped")
	require.Zero(t, out.Len())
}

func TestInit_JSONLevel(t *testing.T) {
	var out bytes.Buffer
	c, err := Init(Options{Enabled: true, Level: slog.LevelWarn, JSON: true, Stderr: &out})
	require.NoError(t, err)
	defer c.Close()

	Info("below level")
	Warn("save failed", "medium", "internal", "code", 20)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	require.Equal(t, "save failed", rec["msg"])
	require.Equal(t, "WARN", rec["level"])
	require.Equal(t, "internal", rec["medium"])
}

func TestInit_Dir(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, logPrefix+time.Now().AddDate(0, 0, -retentionDays-2).Format("2006-01-02")+logSuffix)
	keep := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(old, nil, 0o644))
	require.NoError(t, os.WriteFile(keep, nil, 0o644))

	c, err := Init(Options{Enabled: true, Dir: dir})
	require.NoError(t, err)
	Info("mounted", "medium", "internal")
	require.NoError(t, c.Close())

	require.NoFileExists(t, old)
	require.FileExists(t, keep)

	today := filepath.Join(dir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)
	data, err := os.ReadFile(today)
	require.NoError(t, err)
	require.Contains(t, string(data), "msg=mounted")
	require.Contains(t, string(data), "medium=internal")

	L = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}
