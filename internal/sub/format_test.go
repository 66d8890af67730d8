package sub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		ref     string
		want    Format
		wantURL string
	}{
		{"https://a.example/sub?token=x", FormatSingBox, "https://a.example/sub?token=x"},
		{"https://a.example/sub?token=x&ss=1", FormatSIP008, "https://a.example/sub?token=x&ss=1"},
		{"https://a.example/sub?ss=0", FormatSingBox, "https://a.example/sub?ss=0"},
		{"sip008+https://a.example/sub", FormatSIP008, "https://a.example/sub"},
		{"ss+https://a.example/list", FormatSS, "https://a.example/list"},
		{"singbox+https://a.example/sub?ss=1", FormatSingBox, "https://a.example/sub?ss=1"},
		{"  https://a.example/x  ", FormatSingBox, "https://a.example/x"},
		{"https://a.example/a+b", FormatSingBox, "https://a.example/a+b"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, u := DetectFormat(tt.ref)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantURL, u)
		})
	}
}

func TestFormatUserAgent(t *testing.T) {
	assert.Equal(t, "sing-box", FormatSingBox.UserAgent())
	assert.Equal(t, "Shadowsocks", FormatSIP008.UserAgent())
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse(Format("clash"), "https://a.example", "x")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "SUB_UNSUPPORTED_FORMAT", pe.AppError.Code)
}
