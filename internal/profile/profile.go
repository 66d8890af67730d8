// Package profile holds the static policy tables the generator merges with
// subscription nodes: region and site selectors, DNS servers and rules, route
// rules, the rule-set catalog and the fixed document sections.
//
// A default profile is compiled into the binary. A different one can be
// loaded from a local file or an http(s) URL; it must be a complete profile,
// nothing is merged with the default.
package profile

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/John-Robertt/singbox-gen/internal/fetch"
	"github.com/John-Robertt/singbox-gen/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML string

// DefaultSource is the URL reported in diagnostics for the embedded profile.
const DefaultSource = "embedded:default.yaml"

type Spec struct {
	Version int

	Tags        Tags
	RoutingMark int

	Regions []RegionSpec
	Sites   []SiteSpec

	Log          *model.Log
	NTP          *model.NTP
	Experimental *model.Experimental
	Inbounds     []InboundSpec

	DNS      DNSSpec
	Route    RouteSpec
	RuleSets RuleSetsSpec
}

// Tags names the outbounds every generated document contains.
type Tags struct {
	Direct string `yaml:"direct"`
	Proxy  string `yaml:"proxy"`
	Final  string `yaml:"final"`
	Other  string `yaml:"other"`
}

func DefaultTags() Tags {
	return Tags{Direct: "direct", Proxy: "proxy", Final: "final", Other: "其他节点"}
}

type RegionSpec struct {
	Tag   string
	Regex *regexp.Regexp
}

type SiteSpec struct {
	Tag      string
	RuleSets []string
	Default  string
}

// InboundSpec is a listener plus an on/off switch. A missing switch means on.
type InboundSpec struct {
	Enabled       *bool `yaml:"enabled,omitempty"`
	model.Inbound `yaml:",inline"`
}

func (i InboundSpec) IsEnabled() bool { return i.Enabled == nil || *i.Enabled }

// SiteFakeIP describes the generated DNS rule that answers site domains with
// fake addresses. IP rule-sets of sites are never part of it.
type SiteFakeIP struct {
	Server         string   `yaml:"server"`
	ExtraRuleSets  []string `yaml:"extra_rule_sets,omitempty"`
	ExcludeRuleSet string   `yaml:"exclude_rule_set,omitempty"`
}

type DNSSpec struct {
	Servers    []model.DNSServer `yaml:"servers"`
	PriorRules []model.Rule      `yaml:"prior_rules"`
	SiteFakeIP *SiteFakeIP       `yaml:"site_fakeip,omitempty"`
	AfterRules []model.Rule      `yaml:"after_rules"`

	Final            string        `yaml:"final"`
	Strategy         string        `yaml:"strategy,omitempty"`
	DisableCache     bool          `yaml:"disable_cache"`
	DisableExpire    bool          `yaml:"disable_expire"`
	IndependentCache bool          `yaml:"independent_cache"`
	CacheCapacity    int           `yaml:"cache_capacity,omitempty"`
	ReverseMapping   bool          `yaml:"reverse_mapping"`
	FakeIP           *model.FakeIP `yaml:"fakeip,omitempty"`
}

// RouteSpec surrounds the generated per-site route rules with fixed rules.
type RouteSpec struct {
	PriorRules          []model.Rule `yaml:"prior_rules"`
	AfterRules          []model.Rule `yaml:"after_rules"`
	Final               string       `yaml:"final"`
	AutoDetectInterface bool         `yaml:"auto_detect_interface"`
	DefaultMark         int          `yaml:"default_mark,omitempty"`
}

// RuleSetsSpec is the rule-set catalog. Tags use the S/M/W shorthand expanded
// by the rules package.
type RuleSetsSpec struct {
	DownloadDetour string   `yaml:"download_detour"`
	UpdateInterval string   `yaml:"update_interval"`
	Tags           []string `yaml:"tags"`
}

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

type rawRegion struct {
	Tag   string `yaml:"tag"`
	Regex string `yaml:"regex"`
}

type rawSite struct {
	Tag      string   `yaml:"tag"`
	RuleSets []string `yaml:"rule_sets"`
	Default  string   `yaml:"default"`
}

type rawProfile struct {
	Version     int         `yaml:"version"`
	Tags        Tags        `yaml:"tags"`
	RoutingMark int         `yaml:"routing_mark"`
	Regions     []rawRegion `yaml:"regions"`
	Sites       []rawSite   `yaml:"sites"`

	Log          *model.Log          `yaml:"log"`
	NTP          *model.NTP          `yaml:"ntp"`
	Experimental *model.Experimental `yaml:"experimental"`
	Inbounds     []InboundSpec       `yaml:"inbounds"`

	DNS      DNSSpec      `yaml:"dns"`
	Route    RouteSpec    `yaml:"route"`
	RuleSets RuleSetsSpec `yaml:"rule_sets"`
}

// Default returns the profile compiled into the binary.
func Default() (*Spec, error) {
	return ParseProfileYAML(DefaultSource, defaultYAML)
}

// Load reads a profile from ref: the embedded default when ref is empty, a
// remote document when ref is an http(s) URL, a local file otherwise.
func Load(ctx context.Context, ref string, timeout time.Duration) (*Spec, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return Default()
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		text, err := fetch.FetchTextWithOptions(ctx, fetch.KindProfile, ref, fetch.Options{Timeout: timeout})
		if err != nil {
			return nil, err
		}
		return ParseProfileYAML(ref, text)
	default:
		b, err := os.ReadFile(ref)
		if err != nil {
			return nil, &ParseError{
				AppError: model.AppError{
					Code:    "PROFILE_READ_ERROR",
					Message: "无法读取 profile 文件",
					Stage:   "parse_profile",
					URL:     ref,
				},
				Cause: err,
			}
		}
		return ParseProfileYAML(ref, string(b))
	}
}

// ParseProfileYAML decodes and validates a profile document. Unknown keys and
// multi-document input are rejected.
func ParseProfileYAML(sourceURL string, content string) (*Spec, error) {
	var rp rawProfile
	if err := yamlDecodeStrict(content, &rp); err != nil {
		return nil, &ParseError{
			AppError: model.AppError{
				Code:    "PROFILE_PARSE_ERROR",
				Message: "profile YAML 解析失败",
				Stage:   "parse_profile",
				URL:     sourceURL,
				Snippet: model.TruncateSnippet(content, 200),
			},
			Cause: err,
		}
	}

	v := validator{sourceURL: sourceURL}
	if rp.Version != 1 {
		return nil, v.fail("profile version 必须为 1", fmt.Sprintf("version: %d", rp.Version), "set version: 1")
	}
	if rp.RoutingMark < 0 {
		return nil, v.fail("routing_mark 不能为负数", fmt.Sprintf("routing_mark: %d", rp.RoutingMark), "")
	}

	tags := rp.Tags
	def := DefaultTags()
	if tags.Direct == "" {
		tags.Direct = def.Direct
	}
	if tags.Proxy == "" {
		tags.Proxy = def.Proxy
	}
	if tags.Final == "" {
		tags.Final = def.Final
	}
	if tags.Other == "" {
		tags.Other = def.Other
	}

	// Region, site and well-known tags share the outbound namespace.
	reserved := map[string]string{
		tags.Direct: "tags.direct",
		tags.Proxy:  "tags.proxy",
		tags.Final:  "tags.final",
		tags.Other:  "tags.other",
	}
	if len(reserved) != 4 {
		return nil, v.fail("tags 中的名称必须互不相同", fmt.Sprintf("%+v", tags), "")
	}

	if len(rp.Regions) == 0 {
		return nil, v.fail("至少需要一个 region", "", "add a regions: entry")
	}
	regions := make([]RegionSpec, 0, len(rp.Regions))
	for _, r := range rp.Regions {
		snippet := fmt.Sprintf("region %s: %s", r.Tag, r.Regex)
		if strings.TrimSpace(r.Tag) == "" || r.Regex == "" {
			return nil, v.fail("region 的 tag/regex 不能为空", snippet, "")
		}
		if owner, ok := reserved[r.Tag]; ok {
			return nil, v.fail(fmt.Sprintf("重复的 tag：%s（已被 %s 使用）", r.Tag, owner), snippet, "")
		}
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			pe := v.fail("region 正则不可编译", snippet, "")
			pe.Cause = err
			return nil, pe
		}
		reserved[r.Tag] = "regions"
		regions = append(regions, RegionSpec{Tag: r.Tag, Regex: re})
	}

	sites := make([]SiteSpec, 0, len(rp.Sites))
	for _, s := range rp.Sites {
		snippet := fmt.Sprintf("site %s: %v", s.Tag, s.RuleSets)
		if strings.TrimSpace(s.Tag) == "" {
			return nil, v.fail("site 的 tag 不能为空", snippet, "")
		}
		if owner, ok := reserved[s.Tag]; ok {
			return nil, v.fail(fmt.Sprintf("重复的 tag：%s（已被 %s 使用）", s.Tag, owner), snippet, "")
		}
		if len(s.RuleSets) == 0 {
			return nil, v.fail("site 至少需要一个 rule_set", snippet, "")
		}
		if s.Default == "" {
			return nil, v.fail("site 必须声明 default", snippet, "default must be a region tag, "+tags.Direct+" or "+tags.Proxy)
		}
		reserved[s.Tag] = "sites"
		sites = append(sites, SiteSpec{Tag: s.Tag, RuleSets: s.RuleSets, Default: s.Default})
	}

	if err := v.validateDNS(rp.DNS); err != nil {
		return nil, err
	}
	if rp.Route.Final == "" {
		return nil, v.fail("route.final 不能为空", "", "usually route.final: "+tags.Final)
	}
	if rp.Route.DefaultMark < 0 {
		return nil, v.fail("route.default_mark 不能为负数", fmt.Sprintf("default_mark: %d", rp.Route.DefaultMark), "")
	}
	if err := v.validateRuleSets(rp.RuleSets); err != nil {
		return nil, err
	}
	if err := v.validateInbounds(rp.Inbounds); err != nil {
		return nil, err
	}

	return &Spec{
		Version:      rp.Version,
		Tags:         tags,
		RoutingMark:  rp.RoutingMark,
		Regions:      regions,
		Sites:        sites,
		Log:          rp.Log,
		NTP:          rp.NTP,
		Experimental: rp.Experimental,
		Inbounds:     rp.Inbounds,
		DNS:          rp.DNS,
		Route:        rp.Route,
		RuleSets:     rp.RuleSets,
	}, nil
}

type validator struct {
	sourceURL string
}

func (v validator) fail(message, snippet, hint string) *ParseError {
	return &ParseError{
		AppError: model.AppError{
			Code:    "PROFILE_VALIDATE_ERROR",
			Message: message,
			Stage:   "parse_profile",
			URL:     v.sourceURL,
			Snippet: model.TruncateSnippet(snippet, 200),
			Hint:    hint,
		},
	}
}

func (v validator) validateDNS(d DNSSpec) error {
	servers := make(map[string]struct{}, len(d.Servers))
	for _, s := range d.Servers {
		if s.Tag == "" || s.Address == "" {
			return v.fail("dns server 的 tag/address 不能为空", fmt.Sprintf("%+v", s), "")
		}
		if _, ok := servers[s.Tag]; ok {
			return v.fail(fmt.Sprintf("重复的 dns server：%s", s.Tag), s.Tag, "")
		}
		servers[s.Tag] = struct{}{}
	}
	if d.Final != "" {
		if _, ok := servers[d.Final]; !ok {
			return v.fail(fmt.Sprintf("dns.final 引用不存在的 server：%s", d.Final), d.Final, "")
		}
	}
	check := func(rules []model.Rule) error {
		for _, r := range rules {
			if r.Server == "" {
				continue
			}
			if _, ok := servers[r.Server]; !ok {
				return v.fail(fmt.Sprintf("dns rule 引用不存在的 server：%s", r.Server), fmt.Sprintf("%+v", r), "")
			}
		}
		return nil
	}
	if err := check(d.PriorRules); err != nil {
		return err
	}
	if err := check(d.AfterRules); err != nil {
		return err
	}
	if d.SiteFakeIP != nil {
		if _, ok := servers[d.SiteFakeIP.Server]; !ok {
			return v.fail(fmt.Sprintf("dns.site_fakeip 引用不存在的 server：%s", d.SiteFakeIP.Server), d.SiteFakeIP.Server, "")
		}
	}
	return nil
}

func (v validator) validateRuleSets(rs RuleSetsSpec) error {
	seen := make(map[string]struct{}, len(rs.Tags))
	for _, tag := range rs.Tags {
		if strings.TrimSpace(tag) == "" {
			return v.fail("rule_sets.tags 中存在空 tag", "", "")
		}
		if _, ok := seen[tag]; ok {
			return v.fail(fmt.Sprintf("重复的 rule-set：%s", tag), tag, "")
		}
		seen[tag] = struct{}{}
	}
	return nil
}

func (v validator) validateInbounds(in []InboundSpec) error {
	seen := make(map[string]struct{}, len(in))
	for _, ib := range in {
		if ib.Type == "" || ib.Tag == "" {
			return v.fail("inbound 的 type/tag 不能为空", fmt.Sprintf("%+v", ib.Inbound), "")
		}
		if _, ok := seen[ib.Tag]; ok {
			return v.fail(fmt.Sprintf("重复的 inbound：%s", ib.Tag), ib.Tag, "")
		}
		seen[ib.Tag] = struct{}{}
	}
	return nil
}

func yamlDecodeStrict(content string, out any) error {
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return err
	}

	// Reject multi-document YAML to keep behavior deterministic.
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return errors.New("multiple YAML documents are not allowed")
	} else if !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

