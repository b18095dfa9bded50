package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-apnea/internal/api"
)

const nightRequest = `{
  "session_id": "cli",
  "rows": [
    {"event": "Obstructive", "date_time": "2024-05-01T22:00:00Z", "data": 20},
    {"event": "Obstructive", "date_time": "2024-05-01T22:00:40Z", "data": 20},
    {"event": "Clear Airway", "date_time": "2024-05-01T22:01:20Z", "data": 20},
    {"event": "Mixed", "date_time": "2024-05-01T23:00:00Z", "data": 10}
  ]
}`

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MIRADOR_APNEA_CONFIG", "")
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file", ""))
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyzeWritesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "night.json")
	require.NoError(t, os.WriteFile(path, []byte(nightRequest), 0o644))

	out, err := runCLI(t, "", "analyze", "--input", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "index,start,end,durationSec,count,severity", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,2024-05-01T22:00:00.000Z,2024-05-01T22:01:40.000Z,100,3,"))
}

func TestAnalyzeWritesJSONFromStdin(t *testing.T) {
	out, err := runCLI(t, nightRequest, "analyze", "--format", "json", "--input", "-")
	require.NoError(t, err)

	var dto api.AnalysisResultDTO
	require.NoError(t, json.Unmarshal([]byte(out), &dto))
	assert.Equal(t, "cli", dto.SessionID)
	assert.Equal(t, 2, dto.Summary.RawClusterCount)
	assert.Equal(t, 1, dto.Summary.ClusterCount)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	_, err := runCLI(t, nightRequest, "analyze", "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")

	_, err = runCLI(t, `{"algorithm": "dbscan"}`, "analyze")
	assert.Error(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["analyze"])
}
