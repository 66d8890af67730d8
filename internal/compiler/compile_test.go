package compiler

import (
	"errors"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/singbox-gen/internal/model"
	"github.com/John-Robertt/singbox-gen/internal/profile"
)

var testTags = Tags{Direct: "direct", Proxy: "proxy", Final: "final", Other: "其他节点"}

func node(tag string) *model.Node {
	return &model.Node{
		Tag:        tag,
		Type:       "shadowsocks",
		Server:     "1.2.3.4",
		ServerPort: 8388,
		Fields:     map[string]any{"method": "aes-256-gcm", "password": "pw"},
	}
}

func region(tag, re string) profile.RegionSpec {
	return profile.RegionSpec{Tag: tag, Regex: regexp.MustCompile(re)}
}

func selectorSummary(sels []*model.Selector) map[string][]string {
	out := make(map[string][]string, len(sels))
	for _, s := range sels {
		out[s.Tag] = s.Outbounds
	}
	return out
}

func requireConfigCode(t *testing.T, err error, code string) {
	t.Helper()
	var ce *ConfigError
	require.True(t, errors.As(err, &ce), "expected *ConfigError, got %T: %v", err, err)
	assert.Equal(t, code, ce.AppError.Code)
	assert.Equal(t, "compile", ce.AppError.Stage)
}

func TestGroupByRegion_TwoRegionsNoCatchAll(t *testing.T) {
	nodes := []*model.Node{node("HK-01"), node("US-01")}
	specs := []profile.RegionSpec{region("HK", "HK"), region("US", "US")}

	got := GroupByRegion(nodes, specs, testTags)

	want := map[string][]string{"HK": {"HK-01"}, "US": {"US-01"}}
	if diff := cmp.Diff(want, selectorSummary(got)); diff != "" {
		t.Fatalf("selectors mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, got, 2)
	assert.Equal(t, model.KindRegion, got[0].Kind)
	assert.Equal(t, "HK", got[0].Tag)
}

func TestGroupByRegion_Unclassified(t *testing.T) {
	nodes := []*model.Node{node("Unclassified")}
	specs := []profile.RegionSpec{region("HK", "HK"), region("US", "US")}

	got := GroupByRegion(nodes, specs, testTags)

	require.Len(t, got, 1)
	assert.Equal(t, model.KindOther, got[0].Kind)
	assert.Equal(t, "其他节点", got[0].Tag)
	assert.Equal(t, []string{"Unclassified"}, got[0].Outbounds)
}

func TestGroupByRegion_NonExclusiveAndOrder(t *testing.T) {
	nodes := []*model.Node{node("HK-US relay"), node("JP-01"), node("misc"), node("US-02")}
	specs := []profile.RegionSpec{region("US", "US"), region("HK", "HK"), region("SG", "SG")}

	got := GroupByRegion(nodes, specs, testTags)

	tags := make([]string, 0, len(got))
	for _, s := range got {
		tags = append(tags, s.Tag)
	}
	assert.Equal(t, []string{"US", "HK", "其他节点"}, tags, "spec order, empty SG dropped, catch-all last")
	assert.Equal(t, []string{"HK-US relay", "US-02"}, got[0].Outbounds)
	assert.Equal(t, []string{"HK-US relay"}, got[1].Outbounds)
	assert.Equal(t, []string{"JP-01", "misc"}, got[2].Outbounds)
}

func TestGroupByRegion_FullwidthTags(t *testing.T) {
	nodes := []*model.Node{node("ＨＫ 01")}
	got := GroupByRegion(nodes, []profile.RegionSpec{region("HK", "HK")}, testTags)

	require.Len(t, got, 1)
	assert.Equal(t, "HK", got[0].Tag)
	assert.Equal(t, []string{"ＨＫ 01"}, got[0].Outbounds, "members keep the original tag")
}

func TestGroupBySite(t *testing.T) {
	candidates := []string{"HK", "US", "proxy", "direct"}
	specs := []profile.SiteSpec{
		{Tag: "telegram", RuleSets: []string{"S/ni/telegram"}, Default: "HK"},
		{Tag: "cn", RuleSets: []string{"M/ds/cn"}, Default: "direct"},
	}

	got, err := GroupBySite(specs, candidates)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, s := range got {
		assert.Equal(t, model.KindSite, s.Kind)
		assert.Equal(t, candidates, s.Outbounds)
		assert.True(t, s.HasMember(s.Default))
	}

	// Members are copies of the candidate list.
	got[0].Outbounds[0] = "changed"
	assert.Equal(t, "HK", candidates[0])
	assert.Equal(t, "HK", got[1].Outbounds[0])
}

func TestGroupBySite_DefaultNotCandidate(t *testing.T) {
	_, err := GroupBySite([]profile.SiteSpec{{Tag: "ai", RuleSets: []string{"S/ni/ai"}, Default: "日本"}}, []string{"HK", "proxy", "direct"})
	requireConfigCode(t, err, "CONFIG_DEFAULT_NOT_MEMBER")
}

func TestNormalizeNodes(t *testing.T) {
	a := node("HK-01")
	same := node("HK-01")
	b := node("US-01")

	got, err := NormalizeNodes([]*model.Node{a, b, same})
	require.NoError(t, err)
	assert.Equal(t, []*model.Node{a, b}, got)

	other := node("HK-01")
	other.Server = "5.6.7.8"
	_, err = NormalizeNodes([]*model.Node{a, other})
	requireConfigCode(t, err, "CONFIG_DUPLICATE_TAG")

	_, err = NormalizeNodes(nil)
	requireConfigCode(t, err, "CONFIG_NO_NODES")
}

func TestAssemble_OrderAndRoutingMark(t *testing.T) {
	nodes := []*model.Node{node("HK-01"), node("US-01")}
	specs := []profile.RegionSpec{region("HK", "HK"), region("US", "US")}
	regions := GroupByRegion(nodes, specs, testTags)
	sites, err := GroupBySite([]profile.SiteSpec{{Tag: "telegram", RuleSets: []string{"S/ni/telegram"}, Default: "US"}}, SiteCandidates(regions, testTags))
	require.NoError(t, err)

	out, err := Assemble(AssembleInput{
		Nodes:       nodes,
		Regions:     regions,
		Sites:       sites,
		RegionSpecs: specs,
		Tags:        testTags,
		RoutingMark: 2,
	})
	require.NoError(t, err)

	var order []string
	for _, o := range out {
		order = append(order, o.OutboundTag())
	}
	assert.Equal(t, []string{"direct", "proxy", "final", "telegram", "HK", "US", "HK-01", "US-01"}, order)

	direct := out[0].(*model.Direct)
	assert.Equal(t, 2, direct.RoutingMark)

	proxy := out[1].(*model.Selector)
	assert.Equal(t, model.KindProxy, proxy.Kind)
	assert.Equal(t, []string{"HK", "US"}, proxy.Outbounds)
	assert.Equal(t, "HK", proxy.Default)

	final := out[2].(*model.Selector)
	assert.Equal(t, []string{"proxy", "direct"}, final.Outbounds)
	assert.Empty(t, final.Default)

	site := out[3].(*model.Selector)
	assert.Equal(t, []string{"HK", "US", "proxy", "direct"}, site.Outbounds)
	assert.Equal(t, "US", site.Default)

	for _, o := range out[6:] {
		assert.Equal(t, 2, o.(*model.Node).RoutingMark)
	}
	assert.Zero(t, nodes[0].RoutingMark, "input nodes must not be modified")
}

func TestAssemble_NoRoutingMark(t *testing.T) {
	nodes := []*model.Node{node("HK-01")}
	specs := []profile.RegionSpec{region("HK", "HK")}
	out, err := Assemble(AssembleInput{Nodes: nodes, Regions: GroupByRegion(nodes, specs, testTags), RegionSpecs: specs, Tags: testTags})
	require.NoError(t, err)
	assert.Zero(t, out[0].(*model.Direct).RoutingMark)
	assert.Zero(t, out[len(out)-1].(*model.Node).RoutingMark)
}

func TestAssemble_ProxyDefaultFallsBackToFirstEmittedRegion(t *testing.T) {
	nodes := []*model.Node{node("US-01")}
	specs := []profile.RegionSpec{region("HK", "HK"), region("US", "US")}

	out, err := Assemble(AssembleInput{Nodes: nodes, Regions: GroupByRegion(nodes, specs, testTags), RegionSpecs: specs, Tags: testTags})
	require.NoError(t, err)

	proxy := out[1].(*model.Selector)
	assert.Equal(t, []string{"US"}, proxy.Outbounds)
	assert.Equal(t, "US", proxy.Default)
}

func TestAssemble_DropsEmptySelectors(t *testing.T) {
	nodes := []*model.Node{node("HK-01")}
	regions := []*model.Selector{
		model.NewSelector(model.KindRegion, "HK", []string{"HK-01"}, ""),
		model.NewSelector(model.KindRegion, "JP", nil, ""),
	}
	sites := []*model.Selector{
		model.NewSelector(model.KindSite, "ai", []string{"HK", "JP", "proxy", "direct"}, "HK"),
	}

	out, err := Assemble(AssembleInput{Nodes: nodes, Regions: regions, Sites: sites, Tags: testTags})
	require.NoError(t, err)

	for _, o := range out {
		assert.NotEqual(t, "JP", o.OutboundTag())
	}
	site := out[3].(*model.Selector)
	assert.Equal(t, []string{"HK", "proxy", "direct"}, site.Outbounds)
	assert.Equal(t, []string{"HK", "JP", "proxy", "direct"}, sites[0].Outbounds, "input selectors must not be modified")
}

func TestAssemble_NoRegionsLeavesFinalOnDirect(t *testing.T) {
	nodes := []*model.Node{node("HK-01")}
	regions := []*model.Selector{model.NewSelector(model.KindRegion, "JP", nil, "")}
	sites := []*model.Selector{
		model.NewSelector(model.KindSite, "ai", []string{"JP", "proxy", "direct"}, "direct"),
	}

	out, err := Assemble(AssembleInput{Nodes: nodes, Regions: regions, Sites: sites, Tags: testTags})
	require.NoError(t, err)

	var order []string
	for _, o := range out {
		order = append(order, o.OutboundTag())
	}
	assert.Equal(t, []string{"direct", "final", "ai", "HK-01"}, order)

	final := out[1].(*model.Selector)
	assert.Equal(t, []string{"direct"}, final.Outbounds)
	site := out[2].(*model.Selector)
	assert.Equal(t, []string{"direct"}, site.Outbounds)
	assert.Equal(t, "direct", site.Default)
}

func TestAssemble_SiteDefaultOnDroppedRegion(t *testing.T) {
	nodes := []*model.Node{node("HK-01")}
	regions := []*model.Selector{
		model.NewSelector(model.KindRegion, "HK", []string{"HK-01"}, ""),
		model.NewSelector(model.KindRegion, "JP", nil, ""),
	}
	sites := []*model.Selector{
		model.NewSelector(model.KindSite, "ai", []string{"HK", "JP", "proxy", "direct"}, "JP"),
	}

	_, err := Assemble(AssembleInput{Nodes: nodes, Regions: regions, Sites: sites, Tags: testTags})
	requireConfigCode(t, err, "CONFIG_DEFAULT_NOT_MEMBER")
}

func TestAssemble_NodeTagCollidesWithSelector(t *testing.T) {
	nodes := []*model.Node{node("proxy")}
	specs := []profile.RegionSpec{region("HK", "HK")}

	_, err := Assemble(AssembleInput{Nodes: nodes, Regions: GroupByRegion(nodes, specs, testTags), RegionSpecs: specs, Tags: testTags})
	requireConfigCode(t, err, "CONFIG_DUPLICATE_TAG")
}

func TestAssemble_NoNodes(t *testing.T) {
	_, err := Assemble(AssembleInput{Tags: testTags})
	requireConfigCode(t, err, "CONFIG_NO_NODES")
}

func TestValidate_DanglingReference(t *testing.T) {
	out := []model.Outbound{
		model.NewDirect("direct", 0),
		model.NewSelector(model.KindFinal, "final", []string{"proxy", "direct"}, ""),
	}
	requireConfigCode(t, Validate(out), "CONFIG_REFERENCE_NOT_FOUND")
}

func TestCompile_DefaultProfileInvariants(t *testing.T) {
	prof, err := profile.Default()
	require.NoError(t, err)

	nodes := []*model.Node{
		node("香港 01"), node("HK 02"), node("日本 01"), node("US 01"), node("Unclassified"), node("香港 01"),
	}
	res, err := Compile(nodes, prof)
	require.NoError(t, err)

	assert.Len(t, res.Nodes, 5, "byte-identical duplicate collapsed")

	emitted := make(map[string]struct{}, len(res.Outbounds))
	for _, o := range res.Outbounds {
		emitted[o.OutboundTag()] = struct{}{}
	}
	for _, o := range res.Outbounds {
		s, ok := o.(*model.Selector)
		if !ok {
			continue
		}
		assert.NotEmpty(t, s.Outbounds, "selector %s is empty", s.Tag)
		if s.Default != "" {
			assert.Contains(t, s.Outbounds, s.Default, "selector %s default", s.Tag)
		}
		for _, m := range s.Outbounds {
			assert.Contains(t, emitted, m, "selector %s member", s.Tag)
		}
	}

	want := map[string][]string{
		"香港":   {"香港 01", "HK 02"},
		"美国":   {"US 01"},
		"日本":   {"日本 01"},
		"其他节点": {"Unclassified"},
	}
	if diff := cmp.Diff(want, selectorSummary(res.Regions)); diff != "" {
		t.Fatalf("regions mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, res.Sites, 4)
}

func TestCompile_SiteDefaultRegionMissing(t *testing.T) {
	prof, err := profile.Default()
	require.NoError(t, err)

	// ai-services defaults to 日本, which no node matches.
	_, err = Compile([]*model.Node{node("香港 01")}, prof)
	requireConfigCode(t, err, "CONFIG_DEFAULT_NOT_MEMBER")
}
