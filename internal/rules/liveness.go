package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/John-Robertt/singbox-gen/internal/model"
)

// UsedTags collects every rule_set tag referenced by the route and DNS rule
// tables, looking one level into logical rules.
func UsedTags(routeRules, dnsRules []model.Rule) map[string]struct{} {
	used := make(map[string]struct{})
	for _, table := range [][]model.Rule{routeRules, dnsRules} {
		for _, r := range table {
			add(used, r.RuleSet)
			for _, nested := range r.Rules {
				add(used, nested.RuleSet)
			}
		}
	}
	return used
}

// AddInboundRefs adds the rule-sets tun inbounds exclude from auto routing.
func AddInboundRefs(used map[string]struct{}, inbounds []model.Inbound) {
	for _, ib := range inbounds {
		add(used, ib.RouteExcludeAddressSet)
	}
}

func add(used map[string]struct{}, tags []string) {
	for _, t := range tags {
		if t != "" {
			used[t] = struct{}{}
		}
	}
}

// Prune keeps the catalog entries whose tag is in used, in catalog order. A
// used tag missing from the catalog is a ConfigError: the consumer refuses
// to start on an unknown rule-set reference.
func Prune(c *Catalog, used map[string]struct{}) ([]model.RuleSetRef, error) {
	var missing []string
	for tag := range used {
		if !c.Has(tag) {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ConfigError{
			AppError: model.AppError{
				Code:    "CONFIG_RULESET_NOT_FOUND",
				Message: fmt.Sprintf("规则引用了未声明的 rule-set：%s", strings.Join(missing, ", ")),
				Stage:   "compile",
				Snippet: strings.Join(missing, ", "),
				Hint:    "add the tags to rule_sets.tags in the profile",
			},
		}
	}

	out := make([]model.RuleSetRef, 0, len(used))
	for _, e := range c.entries {
		if _, ok := used[e.Tag]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}
