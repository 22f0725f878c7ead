package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapsucode/stealthfleet/api/schemas"
	"github.com/tapsucode/stealthfleet/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := runCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestFingerprintCommand_Random(t *testing.T) {
	out, err := runCommand(t, "fingerprint")
	require.NoError(t, err)

	var fp schemas.Fingerprint
	require.NoError(t, json.Unmarshal([]byte(out), &fp))
	assert.NotEmpty(t, fp.UserAgent)
	assert.NotEmpty(t, fp.Platform)
	assert.Positive(t, fp.ScreenWidth)
	assert.Positive(t, fp.ScreenHeight)
}

func TestFingerprintCommand_CustomFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"user_agent": "Custom UA",
		"timezone": "Asia/Ho_Chi_Minh",
		"webrtc": "custom",
		"webrtc_custom_ip": "not-an-ip"
	}`), 0o600))

	out, err := runCommand(t, "fingerprint", "--custom", path)
	require.NoError(t, err)

	var fp schemas.Fingerprint
	require.NoError(t, json.Unmarshal([]byte(out), &fp))
	assert.Equal(t, "Custom UA", fp.UserAgent)
	assert.Equal(t, "Asia/Ho_Chi_Minh", fp.Timezone)
	// Unparseable custom IPs silently fall back to proxy mode.
	assert.Equal(t, schemas.WebRTCProxy, fp.WebRTC)
	assert.Empty(t, fp.WebRTCCustomIP)
}

func TestFingerprintCommand_MissingCustomFile(t *testing.T) {
	_, err := runCommand(t, "fingerprint", "--custom", "/does/not/exist.json")
	require.Error(t, err)
}

func TestRunCommand_RequiresWorkflow(t *testing.T) {
	_, err := runCommand(t, "run", "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--workflow")
}

func TestLaunchCommand_RequiresProfilesOrGroup(t *testing.T) {
	_, err := runCommand(t, "launch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--group")
}
