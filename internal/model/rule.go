package model

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Listable is a string list that also accepts a single scalar when decoded.
// It is always encoded as a JSON array.
type Listable []string

func (l *Listable) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return err
		}
		*l = Listable{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := n.Decode(&ss); err != nil {
			return err
		}
		*l = ss
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", n.Line)
	}
}

func (l *Listable) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = Listable{s}
		return nil
	}
	var ss []string
	if err := json.Unmarshal(b, &ss); err != nil {
		return err
	}
	*l = ss
	return nil
}

// Rule is a sing-box route rule or DNS rule. Logical rules set Type to
// "logical", Mode to "and"/"or" and nest their operands in Rules.
type Rule struct {
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
	Mode  string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Rules []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`

	Inbound                  Listable `json:"inbound,omitempty" yaml:"inbound,omitempty"`
	Network                  Listable `json:"network,omitempty" yaml:"network,omitempty"`
	Protocol                 Listable `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	QueryType                Listable `json:"query_type,omitempty" yaml:"query_type,omitempty"`
	Domain                   Listable `json:"domain,omitempty" yaml:"domain,omitempty"`
	DomainSuffix             Listable `json:"domain_suffix,omitempty" yaml:"domain_suffix,omitempty"`
	DomainKeyword            Listable `json:"domain_keyword,omitempty" yaml:"domain_keyword,omitempty"`
	IPCIDR                   Listable `json:"ip_cidr,omitempty" yaml:"ip_cidr,omitempty"`
	IPIsPrivate              bool     `json:"ip_is_private,omitempty" yaml:"ip_is_private,omitempty"`
	ClashMode                string   `json:"clash_mode,omitempty" yaml:"clash_mode,omitempty"`
	RuleSet                  Listable `json:"rule_set,omitempty" yaml:"rule_set,omitempty"`
	RuleSetIPCIDRMatchSource bool     `json:"rule_set_ip_cidr_match_source,omitempty" yaml:"rule_set_ip_cidr_match_source,omitempty"`
	Invert                   bool     `json:"invert,omitempty" yaml:"invert,omitempty"`

	Action   string `json:"action,omitempty" yaml:"action,omitempty"`
	Outbound string `json:"outbound,omitempty" yaml:"outbound,omitempty"`
	Server   string `json:"server,omitempty" yaml:"server,omitempty"`
	NoDrop   *bool  `json:"no_drop,omitempty" yaml:"no_drop,omitempty"`
}

// RuleSetRef is a remote rule-set catalog entry.
type RuleSetRef struct {
	Type           string `json:"type"`
	Tag            string `json:"tag"`
	Format         string `json:"format"`
	URL            string `json:"url"`
	DownloadDetour string `json:"download_detour,omitempty"`
	UpdateInterval string `json:"update_interval,omitempty"`
}
