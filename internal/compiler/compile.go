package compiler

import (
	"encoding/json"
	"fmt"

	"github.com/John-Robertt/singbox-gen/internal/model"
	"github.com/John-Robertt/singbox-gen/internal/profile"
)

// Tags holds the well-known outbound tags the assembler wires together.
type Tags struct {
	Direct string
	Proxy  string
	Final  string
	Other  string
}

func TagsFromProfile(t profile.Tags) Tags {
	return Tags{Direct: t.Direct, Proxy: t.Proxy, Final: t.Final, Other: t.Other}
}

type ConfigError struct {
	AppError model.AppError
	Cause    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func configError(code, message, snippet, hint string) *ConfigError {
	return &ConfigError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "compile",
			Snippet: snippet,
			Hint:    hint,
		},
	}
}

type Result struct {
	Outbounds []model.Outbound

	Nodes   []*model.Node
	Regions []*model.Selector
	Sites   []*model.Selector
}

// Compile turns the joined subscription nodes into the ordered outbound list
// for prof.
func Compile(nodes []*model.Node, prof *profile.Spec) (*Result, error) {
	if prof == nil {
		return nil, configError("PROFILE_VALIDATE_ERROR", "profile 不能为空", "", "")
	}
	tags := TagsFromProfile(prof.Tags)

	nodes, err := NormalizeNodes(nodes)
	if err != nil {
		return nil, err
	}

	regions := GroupByRegion(nodes, prof.Regions, tags)
	candidates := SiteCandidates(regions, tags)
	sites, err := GroupBySite(prof.Sites, candidates)
	if err != nil {
		return nil, err
	}

	outbounds, err := Assemble(AssembleInput{
		Nodes:       nodes,
		Regions:     regions,
		Sites:       sites,
		RegionSpecs: prof.Regions,
		Tags:        tags,
		RoutingMark: prof.RoutingMark,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Outbounds: outbounds, Nodes: nodes, Regions: regions, Sites: sites}, nil
}

// NormalizeNodes collapses nodes that are exact duplicates (the same node
// served by two mirrors), keeping the first occurrence in join order. Two
// different nodes sharing a tag are a ConfigError, as is an empty result.
func NormalizeNodes(in []*model.Node) ([]*model.Node, error) {
	if len(in) == 0 {
		return nil, configError("CONFIG_NO_NODES", "订阅中没有可用节点", "", "check that every subscription returns at least one outbound with a server")
	}

	byTag := make(map[string]string, len(in))
	out := make([]*model.Node, 0, len(in))
	for _, n := range in {
		key, err := dedupKey(n)
		if err != nil {
			return nil, &ConfigError{
				AppError: model.AppError{
					Code:    "CONFIG_INVALID_NODE",
					Message: "节点无法序列化",
					Stage:   "compile",
					Snippet: n.Tag,
				},
				Cause: err,
			}
		}
		if prev, ok := byTag[n.Tag]; ok {
			if prev == key {
				continue
			}
			return nil, configError("CONFIG_DUPLICATE_TAG", fmt.Sprintf("重复的节点 tag：%s", n.Tag), n.Tag, "rename the node in one of the subscriptions")
		}
		byTag[n.Tag] = key
		out = append(out, n)
	}
	return out, nil
}

// dedupKey is the node's canonical JSON. Node objects marshal with sorted keys.
func dedupKey(n *model.Node) (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
