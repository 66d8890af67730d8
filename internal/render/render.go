// Package render merges the compiled outbounds with the profile's static
// sections into one sing-box document and serializes it.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/John-Robertt/singbox-gen/internal/model"
	"github.com/John-Robertt/singbox-gen/internal/profile"
	"github.com/John-Robertt/singbox-gen/internal/rules"
)

type RenderError struct {
	AppError model.AppError
	Cause    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

// Build assembles the document. ruleSets is the already pruned catalog.
// Every outbound tag the static sections point at (rule outbounds, DNS and
// NTP detours, download detours, route.final) must be among outbounds.
func Build(prof *profile.Spec, outbounds []model.Outbound, ruleSets []model.RuleSetRef) (*model.Document, error) {
	if prof == nil {
		return nil, &RenderError{
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "render input 不能为空",
				Stage:   "render",
			},
		}
	}
	if ruleSets == nil {
		ruleSets = []model.RuleSetRef{}
	}

	d := prof.DNS
	doc := &model.Document{
		Log:       prof.Log,
		NTP:       prof.NTP,
		Inbounds:  Inbounds(prof),
		Outbounds: outbounds,
		DNS: &model.DNS{
			Servers:          d.Servers,
			Rules:            DNSRules(prof),
			Final:            d.Final,
			Strategy:         d.Strategy,
			DisableCache:     d.DisableCache,
			DisableExpire:    d.DisableExpire,
			IndependentCache: d.IndependentCache,
			CacheCapacity:    d.CacheCapacity,
			ReverseMapping:   d.ReverseMapping,
			FakeIP:           d.FakeIP,
		},
		Route: &model.Route{
			Rules:               RouteRules(prof),
			RuleSet:             ruleSets,
			Final:               prof.Route.Final,
			AutoDetectInterface: prof.Route.AutoDetectInterface,
			DefaultMark:         prof.Route.DefaultMark,
		},
		Experimental: prof.Experimental,
	}
	if err := checkOutboundRefs(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Encode writes doc as two-space indented JSON with a trailing newline.
// HTML characters are not escaped.
func Encode(w io.Writer, doc *model.Document) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return &RenderError{
			AppError: model.AppError{
				Code:    "RENDER_ENCODE_ERROR",
				Message: "配置序列化失败",
				Stage:   "render",
			},
			Cause: err,
		}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return &RenderError{
			AppError: model.AppError{
				Code:    "RENDER_WRITE_ERROR",
				Message: "写出配置失败",
				Stage:   "render",
			},
			Cause: err,
		}
	}
	return nil
}

// Inbounds returns the enabled listeners in profile order.
func Inbounds(prof *profile.Spec) []model.Inbound {
	out := make([]model.Inbound, 0, len(prof.Inbounds))
	for _, ib := range prof.Inbounds {
		if ib.IsEnabled() {
			out = append(out, ib.Inbound)
		}
	}
	return out
}

// RouteRules is the route table: the profile's prior rules, one rule per site
// sending its rule-sets to the site selector, then the profile's after rules.
func RouteRules(prof *profile.Spec) []model.Rule {
	out := make([]model.Rule, 0, len(prof.Route.PriorRules)+len(prof.Sites)+len(prof.Route.AfterRules))
	out = append(out, prof.Route.PriorRules...)
	for _, s := range prof.Sites {
		out = append(out, model.Rule{
			RuleSet:  model.Listable(append([]string(nil), s.RuleSets...)),
			Action:   "route",
			Outbound: s.Tag,
		})
	}
	return append(out, prof.Route.AfterRules...)
}

// DNSRules is the DNS table: prior rules, the site fake-ip rule when
// configured, after rules.
func DNSRules(prof *profile.Spec) []model.Rule {
	out := make([]model.Rule, 0, len(prof.DNS.PriorRules)+1+len(prof.DNS.AfterRules))
	out = append(out, prof.DNS.PriorRules...)
	if r, ok := SiteFakeIPRule(prof); ok {
		out = append(out, r)
	}
	return append(out, prof.DNS.AfterRules...)
}

// SiteFakeIPRule answers queries for site domains from the fake-ip server.
// It matches the non-IP rule-sets of every site plus the configured extras,
// minus the exclusion rule-set.
func SiteFakeIPRule(prof *profile.Spec) (model.Rule, bool) {
	cfg := prof.DNS.SiteFakeIP
	if cfg == nil {
		return model.Rule{}, false
	}

	seen := make(map[string]struct{})
	var tags model.Listable
	addTag := func(tag string) {
		if _, ok := seen[tag]; ok || rules.IsIPRuleSet(tag) {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	for _, s := range prof.Sites {
		for _, tag := range s.RuleSets {
			addTag(tag)
		}
	}
	for _, tag := range cfg.ExtraRuleSets {
		addTag(tag)
	}
	if len(tags) == 0 {
		return model.Rule{}, false
	}

	if cfg.ExcludeRuleSet == "" {
		return model.Rule{RuleSet: tags, Action: "route", Server: cfg.Server}, true
	}
	return model.Rule{
		Type: "logical",
		Mode: "and",
		Rules: []model.Rule{
			{RuleSet: tags},
			{RuleSet: model.Listable{cfg.ExcludeRuleSet}, Invert: true},
		},
		Action: "route",
		Server: cfg.Server,
	}, true
}

func checkOutboundRefs(doc *model.Document) error {
	emitted := make(map[string]struct{}, len(doc.Outbounds))
	for _, o := range doc.Outbounds {
		emitted[o.OutboundTag()] = struct{}{}
	}
	check := func(where, tag string) error {
		if tag == "" {
			return nil
		}
		if _, ok := emitted[tag]; ok {
			return nil
		}
		return &RenderError{
			AppError: model.AppError{
				Code:    "RENDER_REFERENCE_NOT_FOUND",
				Message: fmt.Sprintf("%s 引用不存在的 outbound：%s", where, tag),
				Stage:   "render",
				Snippet: tag,
			},
		}
	}

	if err := check("route.final", doc.Route.Final); err != nil {
		return err
	}
	for _, r := range doc.Route.Rules {
		if err := check("route rule", r.Outbound); err != nil {
			return err
		}
	}
	for _, rs := range doc.Route.RuleSet {
		if err := check("rule-set "+rs.Tag+" download_detour", rs.DownloadDetour); err != nil {
			return err
		}
	}
	for _, s := range doc.DNS.Servers {
		if err := check("dns server "+s.Tag+" detour", s.Detour); err != nil {
			return err
		}
	}
	if doc.NTP != nil {
		if err := check("ntp.detour", doc.NTP.Detour); err != nil {
			return err
		}
	}
	if doc.Experimental != nil && doc.Experimental.ClashAPI != nil {
		if err := check("clash_api.external_ui_download_detour", doc.Experimental.ClashAPI.ExternalUIDownloadDetour); err != nil {
			return err
		}
	}
	return nil
}
