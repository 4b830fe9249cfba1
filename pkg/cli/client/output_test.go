package client

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"id", "state"}, [][]string{{"r1", "APPROVED"}, {"r2", "BLOCKED"}})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

	require.Len(t, lines, 3)
	assert.Equal(t, "ID  STATE", lines[0])
	assert.Equal(t, "r1  APPROVED", lines[1])
	assert.Equal(t, "r2  BLOCKED", lines[2])

	buf.Reset()
	PrintTable(&buf, nil, [][]string{{"a"}})
	assert.Empty(t, buf.String())

	buf.Reset()
	PrintTable(&buf, []string{"id"}, nil)
	assert.Equal(t, "ID\n", buf.String())
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]string{"hello": "world"}))
	var parsed map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "world", parsed["hello"])
	assert.Contains(t, buf.String(), "\n  ")

	buf.Reset()
	require.NoError(t, PrintJSON(&buf, nil))
	assert.Equal(t, "null\n", buf.String())
}

func TestPrintDetail(t *testing.T) {
	var buf bytes.Buffer
	PrintDetail(&buf, map[string]any{
		"state":    "BLOCKED",
		"approval": nil,
		"export":   map[string]any{"status": "none"},
		"reasons":  []any{"legal hold active"},
	})
	assert.Equal(t, "approval: \n"+
		`export: {"status":"none"}`+"\n"+
		`reasons: ["legal hold active"]`+"\n"+
		"state: BLOCKED\n", buf.String())
}

func TestExtractField(t *testing.T) {
	data := map[string]any{"n": float64(3), "tags": []any{"a", "b"}}
	assert.Equal(t, "3", ExtractField(data, "n"))
	assert.JSONEq(t, `["a","b"]`, ExtractField(data, "tags"))
	assert.Empty(t, ExtractField(data, "missing"))
}
