package compiler

import (
	"fmt"

	"github.com/John-Robertt/singbox-gen/internal/model"
	"github.com/John-Robertt/singbox-gen/internal/profile"
	"golang.org/x/text/unicode/norm"
)

// GroupByRegion builds one selector per region spec, in profile order, holding
// every node whose tag matches the region's regex. Membership is not
// exclusive. Specs without matches produce nothing. Nodes no spec claimed go
// into a trailing tags.Other selector, emitted only when non-empty.
//
// Tags are matched both as given and NFKC-folded, so fullwidth "ＨＫ" matches
// a region regex written as "HK".
func GroupByRegion(nodes []*model.Node, specs []profile.RegionSpec, tags Tags) []*model.Selector {
	folded := make([]string, len(nodes))
	for i, n := range nodes {
		folded[i] = norm.NFKC.String(n.Tag)
	}

	claimed := make([]bool, len(nodes))
	out := make([]*model.Selector, 0, len(specs)+1)
	for _, spec := range specs {
		if spec.Regex == nil {
			continue
		}
		var members []string
		for i, n := range nodes {
			if spec.Regex.MatchString(n.Tag) || spec.Regex.MatchString(folded[i]) {
				members = append(members, n.Tag)
				claimed[i] = true
			}
		}
		if len(members) == 0 {
			continue
		}
		out = append(out, model.NewSelector(model.KindRegion, spec.Tag, members, ""))
	}

	var rest []string
	for i, n := range nodes {
		if !claimed[i] {
			rest = append(rest, n.Tag)
		}
	}
	if len(rest) > 0 {
		out = append(out, model.NewSelector(model.KindOther, tags.Other, rest, ""))
	}
	return out
}

// SiteCandidates is the member list every site selector offers: the emitted
// region selectors, then proxy and direct.
func SiteCandidates(regions []*model.Selector, tags Tags) []string {
	out := make([]string, 0, len(regions)+2)
	for _, r := range regions {
		out = append(out, r.Tag)
	}
	return append(out, tags.Proxy, tags.Direct)
}

// GroupBySite builds one selector per site spec with the candidate list as
// members. A default outside the candidates is a ConfigError.
func GroupBySite(specs []profile.SiteSpec, candidates []string) ([]*model.Selector, error) {
	allowed := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		allowed[c] = struct{}{}
	}

	out := make([]*model.Selector, 0, len(specs))
	for _, spec := range specs {
		if spec.Default != "" {
			if _, ok := allowed[spec.Default]; !ok {
				return nil, configError(
					"CONFIG_DEFAULT_NOT_MEMBER",
					fmt.Sprintf("site %s 的 default %s 不在可选出口中", spec.Tag, spec.Default),
					fmt.Sprintf("candidates: %v", candidates),
					"no subscription node matched that region; pick another default",
				)
			}
		}
		members := make([]string, len(candidates))
		copy(members, candidates)
		out = append(out, model.NewSelector(model.KindSite, spec.Tag, members, spec.Default))
	}
	return out, nil
}
