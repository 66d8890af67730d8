package sub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/singbox-gen/internal/model"
)

// sip008Server is one entry of a SIP008 document. server_port is a string in
// the wild even though the format documents a number; both are accepted.
type sip008Server struct {
	ID         string          `json:"id"`
	Remarks    string          `json:"remarks"`
	Server     string          `json:"server"`
	ServerPort json.RawMessage `json:"server_port"`
	Password   string          `json:"password"`
	Method     string          `json:"method"`
	Plugin     string          `json:"plugin"`
	PluginOpts string          `json:"plugin_opts"`
}

// ParseSIP008 reads either a bare JSON array of servers or the SIP008
// envelope {"version": 1, "servers": [...]} and maps every server to a
// shadowsocks node tagged with its remarks.
func ParseSIP008(sourceURL string, content string) ([]*model.Node, error) {
	s := strings.TrimSpace(stripUTF8BOM(content))
	if s == "" {
		return nil, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "订阅内容为空", "", nil)
	}

	var servers []sip008Server
	if strings.HasPrefix(s, "{") {
		var env struct {
			Version int            `json:"version"`
			Servers []sip008Server `json:"servers"`
		}
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			return nil, newParseError(sourceURL, 0, model.TruncateSnippet(s, 200), "SUB_PARSE_ERROR", "SIP008 订阅 JSON 解析失败", "", err)
		}
		if env.Servers == nil {
			return nil, newParseError(sourceURL, 0, model.TruncateSnippet(s, 200), "SUB_PARSE_ERROR", "SIP008 订阅缺少 servers 字段", "", nil)
		}
		servers = env.Servers
	} else {
		if err := json.Unmarshal([]byte(s), &servers); err != nil {
			return nil, newParseError(sourceURL, 0, model.TruncateSnippet(s, 200), "SUB_PARSE_ERROR", "SIP008 订阅 JSON 解析失败", "expected: [{remarks, server, server_port, method, password}]", err)
		}
	}

	out := make([]*model.Node, 0, len(servers))
	for i, srv := range servers {
		n, err := sip008Node(srv)
		if err != nil {
			return nil, newParseError(sourceURL, 0, model.TruncateSnippet(srv.Remarks, 200), "SUB_PARSE_ERROR", fmt.Sprintf("SIP008 servers[%d] 字段不合法", i), "", err)
		}
		out = append(out, n)
	}
	return out, nil
}

func sip008Node(srv sip008Server) (*model.Node, error) {
	tag := strings.TrimSpace(srv.Remarks)
	if tag == "" {
		return nil, errors.New("empty remarks")
	}
	server := strings.TrimSpace(srv.Server)
	if server == "" {
		return nil, errors.New("empty server")
	}
	port, err := parseSIP008Port(srv.ServerPort)
	if err != nil {
		return nil, err
	}
	if srv.Method == "" {
		return nil, errors.New("empty method")
	}
	if srv.Password == "" {
		return nil, errors.New("empty password")
	}

	fields := map[string]any{
		"method":   srv.Method,
		"password": srv.Password,
	}
	// plugin_opts is meaningless without a plugin.
	if srv.Plugin != "" {
		fields["plugin"] = srv.Plugin
		if srv.PluginOpts != "" {
			fields["plugin_opts"] = srv.PluginOpts
		}
	}
	return &model.Node{
		Tag:        tag,
		Type:       "shadowsocks",
		Server:     server,
		ServerPort: port,
		Fields:     fields,
	}, nil
}

func parseSIP008Port(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing server_port")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return 0, fmt.Errorf("server_port: %w", err)
		}
		s = n.String()
	}
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("server_port: %w", err)
	}
	if port < 1 || port > 65535 {
		return 0, errors.New("server_port out of range")
	}
	return port, nil
}
