// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/internal/observability"
)

const quietConfig = `
logger:
  level: fatal
  log_file: ""
recording:
  sinks: [log]
`

// resetForTest clears package level state shared between command runs.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
}

// writeConfig drops a config file that keeps tests from writing log files.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(quietConfig+body), 0o600))
	return path
}

// execute runs a fresh root command and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetForTest(t)
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(bytes.NewReader(nil))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func findCommand(t *testing.T, root *cobra.Command, path ...string) *cobra.Command {
	t.Helper()
	cmd, _, err := root.Find(path)
	require.NoError(t, err)
	return cmd
}
