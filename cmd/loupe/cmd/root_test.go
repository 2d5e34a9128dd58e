package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loupehq/loupe/internal/config"
)

// writeTestConfig builds a config pointing at a temp data root with the
// deterministic static embedder, and returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	cfg.Embedding.Endpoint = "static"
	cfg.Embedding.Dim = 64
	cfg.AI.Speech.Endpoint = ""
	cfg.AI.Image.Endpoint = ""

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.WriteYAML(path))
	return path
}

// runCmd executes the CLI with args and returns combined output.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	root := NewRootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeDocs(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}
