package sub

import (
	"encoding/base64"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/singbox-gen/internal/model"
)

// ParseSS parses a SIP002 ss:// subscription, either a plain list of links or
// the same list base64 encoded.
func ParseSS(sourceURL string, content string) ([]*model.Node, error) {
	s := strings.TrimSpace(stripUTF8BOM(content))
	if s != "" && !strings.Contains(s, "ss://") {
		decoded, err := decodeBase64(strings.Join(strings.Fields(s), ""))
		if err != nil {
			return nil, newParseError(sourceURL, 0, model.TruncateSnippet(s, 200), "SUB_BASE64_DECODE_ERROR", "订阅 base64 解码失败", "", err)
		}
		s = strings.TrimSpace(stripUTF8BOM(decoded))
	}
	if s == "" {
		return nil, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "订阅内容为空", "", nil)
	}

	var out []*model.Node
	for i, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "ss://") {
			return nil, newParseError(sourceURL, i+1, model.TruncateSnippet(line, 200), "SUB_UNSUPPORTED_SCHEME", "仅支持 ss:// 协议", "expected: ss://...", nil)
		}
		n, msg, err := parseSSLink(line)
		if msg != "" {
			return nil, newParseError(sourceURL, i+1, model.TruncateSnippet(line, 200), "SUB_PARSE_ERROR", msg, "", err)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "订阅中没有任何可用节点", "", nil)
	}
	return out, nil
}

// parseSSLink accepts both SIP002 shapes:
//
//	ss://<base64(method:password)>@host:port[/][?plugin=...][#name]
//	ss://<base64(method:password@host:port)>[#name]
//
// A non-empty message means the link was rejected.
func parseSSLink(link string) (*model.Node, string, error) {
	rest, frag, _ := strings.Cut(strings.TrimPrefix(link, "ss://"), "#")
	name, err := url.PathUnescape(frag)
	if err != nil {
		return nil, "节点名称 URL 解码失败", err
	}
	name = strings.TrimSpace(name)

	rest, query, _ := strings.Cut(rest, "?")
	plugin, pluginOpts, msg := parsePluginQuery(query)
	if msg != "" {
		return nil, msg, nil
	}

	var creds, hostPort string
	if userinfo, host, ok := strings.Cut(rest, "@"); ok {
		host = strings.TrimSuffix(host, "/")
		if strings.Contains(host, "/") {
			return nil, "ss uri path 不支持（仅允许空或 /）", nil
		}
		if creds, err = decodeBase64(userinfo); err != nil {
			return nil, "ss userinfo base64 解码失败", err
		}
		hostPort = host
	} else {
		decoded, err := decodeBase64(rest)
		if err != nil {
			return nil, "ss base64 解码失败", err
		}
		at := strings.LastIndex(decoded, "@")
		if at < 0 {
			return nil, "ss base64 解码结果缺少 @ 分隔符", nil
		}
		creds, hostPort = decoded[:at], decoded[at+1:]
	}

	method, password, ok := strings.Cut(creds, ":")
	method, password = strings.TrimSpace(method), strings.TrimSpace(password)
	if !ok || method == "" || password == "" || !utf8.ValidString(creds) {
		return nil, "cipher 或 password 不合法", nil
	}
	if strings.ContainsAny(name+method+password, "\r\n\x00") {
		return nil, "节点字段包含非法控制字符", nil
	}

	server, port, err := splitHostPort(hostPort)
	if err != nil {
		return nil, "服务器地址或端口不合法", err
	}
	if name == "" {
		name = net.JoinHostPort(server, strconv.Itoa(port))
	}

	fields := map[string]any{
		"method":   strings.ToLower(method),
		"password": password,
	}
	if plugin != "" {
		fields["plugin"] = plugin
		if pluginOpts != "" {
			fields["plugin_opts"] = pluginOpts
		}
	}
	return &model.Node{
		Tag:        name,
		Type:       "shadowsocks",
		Server:     server,
		ServerPort: port,
		Fields:     fields,
	}, "", nil
}

// parsePluginQuery reads the only query parameter SIP002 defines. The plugin
// value is "name;opt=v;opt=v" with literal semicolons, which url.ParseQuery
// would reject, so pairs are split on "&" by hand.
func parsePluginQuery(query string) (plugin, opts, msg string) {
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if k != "plugin" {
			return "", "", "出现未知 query 参数（仅支持 plugin）"
		}
		v, err := url.PathUnescape(v)
		if err != nil {
			return "", "", "query 参数解码失败"
		}
		name, rest, _ := strings.Cut(v, ";")
		if plugin = strings.TrimSpace(name); plugin == "" {
			return "", "", "plugin 名称不能为空"
		}
		var kept []string
		for _, o := range strings.Split(rest, ";") {
			if o != "" {
				kept = append(kept, o)
			}
		}
		opts = strings.Join(kept, ";")
	}
	return plugin, opts, ""
}

func splitHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, errors.New("empty host")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	if port < 1 || port > 65535 {
		return "", 0, errors.New("port out of range")
	}
	return host, port, nil
}

// decodeBase64 accepts the padded and unpadded forms of both alphabets;
// providers use all four.
func decodeBase64(s string) (string, error) {
	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return string(b), nil
		}
		lastErr = err
	}
	return "", lastErr
}
