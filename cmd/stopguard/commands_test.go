package main

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"

	"stopguard/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker:\n  api_url: http://bridge:8088/api\nmarket:\n  vix:\n    url: http://vix.local/latest\n"), 0o644))

	out, err := execute(t, "check-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "校验通过")
	assert.Contains(t, out, "http://bridge:8088/api")
}

func TestCheckConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("market:\n  candle_source: bloomberg\n"), 0o644))
	_, err := execute(t, "check-config", "-c", path)
	assert.Error(t, err)
}

func TestSetupLogOutput(t *testing.T) {
	f, err := setupLogOutput("")
	require.NoError(t, err)
	assert.Nil(t, f)

	path := filepath.Join(t.TempDir(), "logs", "stopguard.log")
	f, err = setupLogOutput(path)
	require.NoError(t, err)
	require.NotNil(t, f)
	t.Cleanup(func() {
		logger.SetOutput(os.Stdout)
		log.SetOutput(os.Stderr)
		_ = f.Close()
	})
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
