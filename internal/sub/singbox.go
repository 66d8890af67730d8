package sub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/John-Robertt/singbox-gen/internal/model"
)

// ParseSingBox reads a sing-box configuration export and keeps the outbounds
// that carry a server address. Selectors, direct, block and dns outbounds of
// the provider are dropped.
func ParseSingBox(sourceURL string, content string) ([]*model.Node, error) {
	s := strings.TrimSpace(stripUTF8BOM(content))
	if s == "" {
		return nil, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", "订阅内容为空", "", nil)
	}

	var doc struct {
		Outbounds []map[string]any `json:"outbounds"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, newParseError(sourceURL, 0, model.TruncateSnippet(s, 200), "SUB_PARSE_ERROR", "sing-box 订阅 JSON 解析失败", `expected: {"outbounds": [...]}`, err)
	}
	if doc.Outbounds == nil {
		return nil, newParseError(sourceURL, 0, model.TruncateSnippet(s, 200), "SUB_PARSE_ERROR", "sing-box 订阅缺少 outbounds 字段", `expected: {"outbounds": [...]}`, nil)
	}

	out := make([]*model.Node, 0, len(doc.Outbounds))
	for i, ob := range doc.Outbounds {
		if ob == nil {
			return nil, newParseError(sourceURL, 0, "", "SUB_PARSE_ERROR", fmt.Sprintf("outbounds[%d] 不是对象", i), "", nil)
		}
		if !hasServer(ob) {
			continue
		}
		n, err := model.NodeFromMap(ob)
		if err != nil {
			return nil, newParseError(sourceURL, 0, outboundSnippet(ob), "SUB_PARSE_ERROR", fmt.Sprintf("outbounds[%d] 字段不合法", i), "", err)
		}
		if n.ServerPort < 0 || n.ServerPort > 65535 {
			return nil, newParseError(sourceURL, 0, outboundSnippet(ob), "SUB_PARSE_ERROR", fmt.Sprintf("outbounds[%d] 端口超出范围", i), "", nil)
		}
		out = append(out, n)
	}
	return out, nil
}

// hasServer mirrors the provider contract: any outbound that declares a
// server is a node. Its value is validated by model.NodeFromMap.
func hasServer(ob map[string]any) bool {
	_, ok := ob["server"]
	return ok
}

func outboundSnippet(ob map[string]any) string {
	if tag, ok := ob["tag"].(string); ok {
		return model.TruncateSnippet(tag, 200)
	}
	return ""
}
