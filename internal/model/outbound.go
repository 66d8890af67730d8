package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeDirect   = "direct"
	TypeSelector = "selector"
)

// Outbound is one entry of the "outbounds" array: a Direct, a Selector or a Node.
type Outbound interface {
	OutboundTag() string
	OutboundType() string
}

type Direct struct {
	Tag         string `json:"tag"`
	Type        string `json:"type"`
	RoutingMark int    `json:"routing_mark,omitempty"`
}

func NewDirect(tag string, routingMark int) *Direct {
	return &Direct{Tag: tag, Type: TypeDirect, RoutingMark: routingMark}
}

func (d *Direct) OutboundTag() string  { return d.Tag }
func (d *Direct) OutboundType() string { return TypeDirect }

// SelectorKind says which stage produced a selector. It never reaches the
// output document.
type SelectorKind int

const (
	KindRegion SelectorKind = iota
	KindOther
	KindSite
	KindProxy
	KindFinal
)

func (k SelectorKind) String() string {
	switch k {
	case KindRegion:
		return "region"
	case KindOther:
		return "other"
	case KindSite:
		return "site"
	case KindProxy:
		return "proxy"
	case KindFinal:
		return "final"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Selector references other outbounds by tag. Default, when set, must be one
// of Outbounds.
type Selector struct {
	Kind SelectorKind `json:"-"`

	Tag       string   `json:"tag"`
	Type      string   `json:"type"`
	Outbounds []string `json:"outbounds"`
	Default   string   `json:"default,omitempty"`
}

func NewSelector(kind SelectorKind, tag string, members []string, def string) *Selector {
	return &Selector{Kind: kind, Tag: tag, Type: TypeSelector, Outbounds: members, Default: def}
}

func (s *Selector) OutboundTag() string  { return s.Tag }
func (s *Selector) OutboundType() string { return TypeSelector }

// HasMember reports whether tag is one of the selector's members.
func (s *Selector) HasMember(tag string) bool {
	for _, m := range s.Outbounds {
		if m == tag {
			return true
		}
	}
	return false
}

// Node is a remote egress endpoint. Fields holds every attribute besides the
// ones promoted to struct fields, exactly as the subscription provided it.
type Node struct {
	Tag         string
	Type        string
	Server      string
	ServerPort  int
	RoutingMark int

	Fields map[string]any
}

func (n *Node) OutboundTag() string  { return n.Tag }
func (n *Node) OutboundType() string { return n.Type }

var promotedNodeKeys = []string{"tag", "type", "server", "server_port", "routing_mark"}

// MarshalJSON flattens the node into a single object. Map keys are emitted in
// sorted order by encoding/json, which keeps the output stable.
func (n *Node) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(n.Fields)+len(promotedNodeKeys))
	for k, v := range n.Fields {
		m[k] = v
	}
	for _, k := range promotedNodeKeys {
		delete(m, k)
	}
	m["tag"] = n.Tag
	m["type"] = n.Type
	m["server"] = n.Server
	if n.ServerPort != 0 {
		m["server_port"] = n.ServerPort
	}
	if n.RoutingMark != 0 {
		m["routing_mark"] = n.RoutingMark
	}
	// Passwords and plugin options stay verbatim, "&" included, only when the
	// outer encoder also has SetEscapeHTML(false); json.Marshal re-escapes.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// NodeFromMap builds a Node from a generic outbound object. The map must carry
// string "tag", "type" and "server" values.
func NodeFromMap(m map[string]any) (*Node, error) {
	tag, ok := m["tag"].(string)
	if !ok || tag == "" {
		return nil, errors.New("missing tag")
	}
	typ, ok := m["type"].(string)
	if !ok || typ == "" {
		return nil, errors.New("missing type")
	}
	server, ok := m["server"].(string)
	if !ok || server == "" {
		return nil, errors.New("missing server")
	}
	n := &Node{Tag: tag, Type: typ, Server: server, Fields: make(map[string]any, len(m))}

	if v, ok := m["server_port"]; ok {
		port, err := intValue(v)
		if err != nil {
			return nil, fmt.Errorf("server_port: %w", err)
		}
		n.ServerPort = port
	}
	if v, ok := m["routing_mark"]; ok {
		mark, err := intValue(v)
		if err != nil {
			return nil, fmt.Errorf("routing_mark: %w", err)
		}
		n.RoutingMark = mark
	}
	for k, v := range m {
		n.Fields[k] = v
	}
	for _, k := range promotedNodeKeys {
		delete(n.Fields, k)
	}
	return n, nil
}

func intValue(v any) (int, error) {
	switch x := v.(type) {
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, err
		}
		return int(i), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("not an integer: %v", x)
		}
		return int(x), nil
	case int:
		return x, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
