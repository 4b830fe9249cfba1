package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommands(t *testing.T) {
	isolateConfig(t)

	_, err := runCLI(t, "config", "set-profile", "--name", "default", "--host", "http://localhost:8080", "--api-key", "ops-key-abcd")
	require.NoError(t, err)
	_, err = runCLI(t, "config", "set-profile", "--name", "prod", "--host", "https://guardian.example.com", "--output", "json")
	require.NoError(t, err)

	out, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"PROFILE", "ACTIVE", "HOST", "API-KEY", "TOKEN", "OUTPUT"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"default", "*", "http://localhost:8080", "****abcd"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"prod", "https://guardian.example.com", "json"}, strings.Fields(lines[2]))

	out, err = runCLI(t, "config", "show", "--reveal")
	require.NoError(t, err)
	assert.Contains(t, out, "ops-key-abcd")

	_, err = runCLI(t, "config", "use-profile", "prod")
	require.NoError(t, err)

	// prod's output default now applies.
	out, err = runCLI(t, "config", "show")
	require.NoError(t, err)
	var shown UserConfig
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "prod", shown.CurrentProfile)
	assert.Equal(t, "****abcd", shown.Profiles["default"].APIKey)
}

func TestConfigSetProfile_UpdatesOnlyGivenFields(t *testing.T) {
	isolateConfig(t)

	_, err := runCLI(t, "config", "set-profile", "--name", "ci", "--host", "http://ci:8080", "--token", "tok")
	require.NoError(t, err)
	_, err = runCLI(t, "config", "set-profile", "--name", "ci", "--api-key", "ci-key")
	require.NoError(t, err)

	cfg, err := loadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, Profile{Host: "http://ci:8080", APIKey: "ci-key", Token: "tok"}, cfg.Profiles["ci"])
	assert.Equal(t, defaultProfile, cfg.CurrentProfile)
}

func TestConfigCommandErrors(t *testing.T) {
	isolateConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "name required", args: []string{"config", "set-profile", "--host", "http://x:1"}, wantErr: `"name" not set`},
		{name: "bad output", args: []string{"config", "set-profile", "--name", "a", "--output", "xml"}, wantErr: "unsupported output format"},
		{name: "bad host", args: []string{"config", "set-profile", "--name", "a", "--host", "ftp://x"}, wantErr: "scheme must be http or https"},
		{name: "unknown profile", args: []string{"config", "use-profile", "ghost"}, wantErr: `profile "ghost" not found`},
		{name: "set-profile takes no args", args: []string{"config", "set-profile", "extra"}, wantErr: `unknown command "extra"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
