package sub

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSIP008_PortStringToInt(t *testing.T) {
	nodes, err := ParseSIP008("https://example.com/sub?ss=1",
		`[{"remarks":"n1","server":"1.2.3.4","server_port":"8388","method":"aes-256-gcm","password":"pw"}]`)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	n := nodes[0]
	assert.Equal(t, "n1", n.Tag)
	assert.Equal(t, "shadowsocks", n.Type)
	assert.Equal(t, "1.2.3.4", n.Server)
	assert.Equal(t, 8388, n.ServerPort)
	assert.Equal(t, "aes-256-gcm", n.Fields["method"])
	assert.Equal(t, "pw", n.Fields["password"])
	assert.NotContains(t, n.Fields, "plugin")
	assert.NotContains(t, n.Fields, "plugin_opts")
}

func TestParseSIP008_PluginCarriedThrough(t *testing.T) {
	nodes, err := ParseSIP008("https://example.com/sub?ss=1",
		`[{"remarks":"n1","server":"h","server_port":"443","method":"m","password":"p","plugin":"obfs-local","plugin_opts":"obfs=http"}]`)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "obfs-local", nodes[0].Fields["plugin"])
	assert.Equal(t, "obfs=http", nodes[0].Fields["plugin_opts"])
}

func TestParseSIP008_PluginOptsWithoutPluginDropped(t *testing.T) {
	nodes, err := ParseSIP008("https://example.com/sub?ss=1",
		`[{"remarks":"n1","server":"h","server_port":"443","method":"m","password":"p","plugin_opts":"obfs=http"}]`)
	require.NoError(t, err)
	assert.NotContains(t, nodes[0].Fields, "plugin_opts")
}

func TestParseSIP008_Envelope(t *testing.T) {
	nodes, err := ParseSIP008("https://example.com/sub?ss=1",
		`{"version":1,"servers":[{"id":"x","remarks":"n1","server":"h","server_port":8388,"method":"m","password":"p"}]}`)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, 8388, nodes[0].ServerPort)
}

func TestParseSIP008_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "  "},
		{"malformed", `[{"remarks":`},
		{"missing remarks", `[{"server":"h","server_port":"1","method":"m","password":"p"}]`},
		{"missing server", `[{"remarks":"n","server_port":"1","method":"m","password":"p"}]`},
		{"bad port", `[{"remarks":"n","server":"h","server_port":"abc","method":"m","password":"p"}]`},
		{"port out of range", `[{"remarks":"n","server":"h","server_port":"70000","method":"m","password":"p"}]`},
		{"missing method", `[{"remarks":"n","server":"h","server_port":"1","password":"p"}]`},
		{"envelope without servers", `{"version":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSIP008("https://example.com/sub?ss=1", tt.content)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "expected *ParseError, got %T: %v", err, err)
			assert.Equal(t, "SUB_PARSE_ERROR", pe.AppError.Code)
			assert.Equal(t, "parse_sub", pe.AppError.Stage)
			assert.Equal(t, "https://example.com/sub?ss=1", pe.AppError.URL)
		})
	}
}

func TestParseSIP008_LongCJKRemarksSnippetStaysUTF8(t *testing.T) {
	// 67 three-byte runes put byte 200 inside a rune.
	remarks := "a" + strings.Repeat("香", 67)
	content := `[{"remarks":"` + remarks + `","server":"h","server_port":"abc","method":"m","password":"p"}]`

	_, err := ParseSIP008("https://example.com/sub?ss=1", content)
	var pe *ParseError
	require.True(t, errors.As(err, &pe), "expected *ParseError, got %T: %v", err, err)
	assert.True(t, utf8.ValidString(pe.AppError.Snippet), "snippet=%q", pe.AppError.Snippet)
	assert.LessOrEqual(t, len(pe.AppError.Snippet), 200)
	assert.Equal(t, "a"+strings.Repeat("香", 66), pe.AppError.Snippet)
}
