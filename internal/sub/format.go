package sub

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/John-Robertt/singbox-gen/internal/model"
)

// Format is the wire format of a subscription payload.
type Format string

const (
	FormatSingBox Format = "singbox" // sing-box JSON export: {"outbounds": [...]}
	FormatSIP008  Format = "sip008"  // SIP008 online configuration delivery
	FormatSS      Format = "ss"      // SIP002 ss:// list, raw or base64
)

// UserAgent returns the User-Agent providers expect for the format. Most
// panels choose what to export from this header alone.
func (f Format) UserAgent() string {
	switch f {
	case FormatSingBox:
		return "sing-box"
	case FormatSIP008:
		return "Shadowsocks"
	default:
		return "singbox-gen"
	}
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "singbox", "sing-box":
		return FormatSingBox, nil
	case "sip008", "shadowsocks":
		return FormatSIP008, nil
	case "ss", "sip002":
		return FormatSS, nil
	default:
		return "", fmt.Errorf("unknown subscription format %q", s)
	}
}

// DetectFormat resolves the format of a subscription reference.
//
// An explicit "<format>+" prefix (e.g. "sip008+https://...") wins and is
// stripped from the returned URL. Otherwise a "ss=1" query parameter selects
// SIP008 and everything else is treated as a sing-box export.
func DetectFormat(ref string) (Format, string) {
	ref = strings.TrimSpace(ref)
	if prefix, rest, ok := strings.Cut(ref, "+"); ok && !strings.Contains(prefix, "://") {
		if f, err := ParseFormat(prefix); err == nil {
			return f, rest
		}
	}
	if u, err := url.Parse(ref); err == nil && u.Query().Get("ss") == "1" {
		return FormatSIP008, ref
	}
	return FormatSingBox, ref
}

// Parse converts a payload of the given format into nodes.
func Parse(format Format, sourceURL string, content string) ([]*model.Node, error) {
	switch format {
	case FormatSingBox:
		return ParseSingBox(sourceURL, content)
	case FormatSIP008:
		return ParseSIP008(sourceURL, content)
	case FormatSS:
		return ParseSS(sourceURL, content)
	default:
		return nil, newParseError(sourceURL, 0, "", "SUB_UNSUPPORTED_FORMAT", fmt.Sprintf("不支持的订阅格式：%s", format), "expected: singbox/sip008/ss", nil)
	}
}
