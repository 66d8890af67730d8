package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSub = `{"outbounds":[
	{"type":"trojan","tag":"香港 01","server":"hk.example.com","server_port":443,"password":"a"},
	{"type":"trojan","tag":"日本 01","server":"jp.example.com","server_port":443,"password":"b"}
]}`

func newSubServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sub", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testSub))
	})
	mux.HandleFunc("/denied", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_WritesDocumentToStdout(t *testing.T) {
	ts := newSubServer(t)

	code, stdout, stderr := runCLI(t, "--sub", ts.URL+"/sub", "--log-level", "error")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Empty(t, stderr)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	for _, key := range []string{"log", "dns", "ntp", "inbounds", "outbounds", "route", "experimental"} {
		assert.Contains(t, doc, key)
	}
	assert.True(t, strings.HasSuffix(stdout, "\n"))
}

func TestRun_SubFromEnvironment(t *testing.T) {
	ts := newSubServer(t)
	t.Setenv("SUB", ts.URL+"/sub")
	t.Setenv("SINGBOX_GEN_ROUTING_MARK", "0")

	code, stdout, stderr := runCLI(t, "--log-level", "error")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.NotContains(t, stdout, "routing_mark")
}

func TestRun_OutputFile(t *testing.T) {
	ts := newSubServer(t)
	path := filepath.Join(t.TempDir(), "config.json")

	code, stdout, stderr := runCLI(t, "--sub", ts.URL+"/sub", "--output", path)
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "config written")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(b))
}

func TestRun_NoSubscriptions(t *testing.T) {
	t.Setenv("SUB", "")

	code, stdout, stderr := runCLI(t)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "INVALID_ARGUMENT")
}

func TestRun_FetchFailureDiagnostic(t *testing.T) {
	ts := newSubServer(t)

	code, stdout, stderr := runCLI(t, "--sub", ts.URL+"/sub", "--sub", ts.URL+"/denied?token=secret")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout, "no partial document")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stderr)), &entry), "stderr: %s", stderr)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "FETCH_FAILED", entry["code"])
	assert.Equal(t, "fetch_sub", entry["stage"])
	assert.Equal(t, ts.URL+"/denied?...", entry["url"])
	assert.NotContains(t, stderr, "secret")
}

func TestRun_TransportFailureHidesToken(t *testing.T) {
	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := closed.URL
	closed.Close()

	code, stdout, stderr := runCLI(t, "--sub", base+"/sub?token=SECRET123")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.NotContains(t, stderr, "SECRET123")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stderr)), &entry), "stderr: %s", stderr)
	assert.Equal(t, "FETCH_FAILED", entry["code"])
	assert.Equal(t, base+"/sub?...", entry["url"])
	assert.Contains(t, entry["error"], "/sub?...")
}

func TestRun_UnknownFlag(t *testing.T) {
	code, stdout, stderr := runCLI(t, "--nope")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "unknown flag")
}

func TestRun_BadProfile(t *testing.T) {
	ts := newSubServer(t)
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 2\n"), 0o600))

	code, _, stderr := runCLI(t, "--sub", ts.URL+"/sub", "--profile", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "PROFILE_VALIDATE_ERROR")
}
