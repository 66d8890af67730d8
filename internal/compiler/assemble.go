package compiler

import (
	"fmt"

	"github.com/John-Robertt/singbox-gen/internal/model"
	"github.com/John-Robertt/singbox-gen/internal/profile"
)

type AssembleInput struct {
	Nodes   []*model.Node
	Regions []*model.Selector // region selectors, catch-all last
	Sites   []*model.Selector

	// RegionSpecs decides the proxy selector's default: the first spec's
	// tag, or the first emitted region when that spec matched nothing.
	RegionSpecs []profile.RegionSpec

	Tags        Tags
	RoutingMark int // stamped on direct and every node when > 0
}

// Assemble returns the outbound list in its fixed order: direct, proxy,
// final, site selectors, region selectors, nodes.
//
// Empty selectors are dropped and site selectors lose members that pointed
// at them. The result never contains duplicate tags, members that are not
// emitted, or a default outside its selector's members.
func Assemble(in AssembleInput) ([]model.Outbound, error) {
	if len(in.Nodes) == 0 {
		return nil, configError("CONFIG_NO_NODES", "订阅中没有可用节点", "", "")
	}

	nodes := make([]*model.Node, 0, len(in.Nodes))
	for _, n := range in.Nodes {
		if in.RoutingMark > 0 {
			stamped := *n
			stamped.RoutingMark = in.RoutingMark
			n = &stamped
		}
		nodes = append(nodes, n)
	}

	dropped := make(map[string]struct{})
	regions := nonEmpty(in.Regions, dropped)

	regionTags := make([]string, 0, len(regions))
	for _, r := range regions {
		regionTags = append(regionTags, r.Tag)
	}
	proxy := model.NewSelector(model.KindProxy, in.Tags.Proxy, regionTags, proxyDefault(in.RegionSpecs, regions))
	if len(regionTags) == 0 {
		// No region survived: proxy is not emitted, so nothing may point at it.
		dropped[in.Tags.Proxy] = struct{}{}
	}
	final := model.NewSelector(model.KindFinal, in.Tags.Final, withoutTags([]string{in.Tags.Proxy, in.Tags.Direct}, dropped), "")

	sites := make([]*model.Selector, 0, len(in.Sites))
	for _, s := range in.Sites {
		site := *s
		site.Outbounds = withoutTags(s.Outbounds, dropped)
		sites = append(sites, &site)
	}
	sites = nonEmpty(sites, dropped)

	out := make([]model.Outbound, 0, 3+len(sites)+len(regions)+len(nodes))
	out = append(out, model.NewDirect(in.Tags.Direct, in.RoutingMark))
	if len(proxy.Outbounds) > 0 {
		out = append(out, proxy)
	}
	out = append(out, final)
	for _, s := range sites {
		out = append(out, s)
	}
	for _, r := range regions {
		out = append(out, r)
	}
	for _, n := range nodes {
		out = append(out, n)
	}

	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks the reference graph of an outbound list: unique tags,
// every selector member emitted, every default a member.
func Validate(outbounds []model.Outbound) error {
	emitted := make(map[string]struct{}, len(outbounds))
	for _, o := range outbounds {
		tag := o.OutboundTag()
		if _, ok := emitted[tag]; ok {
			return configError("CONFIG_DUPLICATE_TAG", fmt.Sprintf("重复的 outbound tag：%s", tag), tag, "region, site and node tags share one namespace")
		}
		emitted[tag] = struct{}{}
	}
	for _, o := range outbounds {
		s, ok := o.(*model.Selector)
		if !ok {
			continue
		}
		for _, m := range s.Outbounds {
			if _, ok := emitted[m]; !ok {
				return configError("CONFIG_REFERENCE_NOT_FOUND", fmt.Sprintf("%s selector %s 引用不存在的 outbound：%s", s.Kind, s.Tag, m), fmt.Sprintf("%v", s.Outbounds), "")
			}
		}
		if s.Default != "" && !s.HasMember(s.Default) {
			return configError("CONFIG_DEFAULT_NOT_MEMBER", fmt.Sprintf("%s selector %s 的 default %s 不是其成员", s.Kind, s.Tag, s.Default), fmt.Sprintf("%v", s.Outbounds), "")
		}
	}
	return nil
}

func proxyDefault(specs []profile.RegionSpec, regions []*model.Selector) string {
	if len(regions) == 0 {
		return ""
	}
	if len(specs) > 0 {
		for _, r := range regions {
			if r.Tag == specs[0].Tag {
				return r.Tag
			}
		}
	}
	return regions[0].Tag
}

func nonEmpty(in []*model.Selector, dropped map[string]struct{}) []*model.Selector {
	out := make([]*model.Selector, 0, len(in))
	for _, s := range in {
		if len(s.Outbounds) == 0 {
			dropped[s.Tag] = struct{}{}
			continue
		}
		out = append(out, s)
	}
	return out
}

func withoutTags(members []string, drop map[string]struct{}) []string {
	if len(drop) == 0 {
		return members
	}
	out := members[:0:0]
	for _, m := range members {
		if _, ok := drop[m]; !ok {
			out = append(out, m)
		}
	}
	return out
}
