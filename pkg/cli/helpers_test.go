package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolateConfig points the CLI at a fresh config file and clears GUARDIAN_*
// overrides from the environment.
func isolateConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(configEnv, path)
	for _, k := range []string{"GUARDIAN_HOST", "GUARDIAN_API_KEY", "GUARDIAN_TOKEN", "GUARDIAN_OUTPUT"} {
		t.Setenv(k, "")
	}
	return path
}

// runCLI executes the root command with args, returning what it printed to
// stdout. Commands write to os.Stdout, so this swaps it for a temp file.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "stdout")
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	orig := os.Stdout
	os.Stdout = f
	root := newRootCmd()
	root.SetArgs(args)
	runErr := root.Execute()
	os.Stdout = orig

	out, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return string(out), runErr
}
