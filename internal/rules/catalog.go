// Package rules owns the rule-set catalog: shorthand tag expansion into
// download URLs and pruning of the catalog to the tags rules actually use.
package rules

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/singbox-gen/internal/model"
)

// BaseURL hosts every catalog rule-set.
const BaseURL = "https://github.com/100legit/singbox-set/raw/sing/"

// sourceDirs maps the first tag segment to its directory under BaseURL.
var sourceDirs = map[string]string{
	"S": "",
	"M": "metacubex/",
	"W": "own/",
}

var kindNames = map[string]string{
	"ni": "non_ip",
	"ds": "domainset",
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

// SplitTag splits a "<source>/<kind>/<name>" tag. ok is false for tags not in
// that shape.
func SplitTag(tag string) (source, kind, name string, ok bool) {
	parts := strings.SplitN(tag, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// ExpandURL turns a shorthand tag into the rule-set download URL, e.g.
// "M/ds/cn" into BaseURL+"metacubex/domainset/cn.srs". Tags with an unknown
// source are returned unchanged.
func ExpandURL(tag string) string {
	source, kind, name, ok := SplitTag(tag)
	if !ok {
		return tag
	}
	dir, ok := sourceDirs[source]
	if !ok {
		return tag
	}
	if long, ok := kindNames[kind]; ok {
		kind = long
	}
	return BaseURL + dir + kind + "/" + name + ".srs"
}

// IsIPRuleSet reports whether tag names an IP-CIDR rule-set ("<source>/ip/...").
func IsIPRuleSet(tag string) bool {
	_, kind, _, ok := SplitTag(tag)
	return ok && kind == "ip"
}

// Catalog is the ordered list of rule-sets a document may reference.
type Catalog struct {
	entries []model.RuleSetRef
	index   map[string]int
}

// NewCatalog expands tags into remote binary rule-sets downloaded through
// detour every interval.
func NewCatalog(tags []string, detour, interval string) *Catalog {
	c := &Catalog{
		entries: make([]model.RuleSetRef, 0, len(tags)),
		index:   make(map[string]int, len(tags)),
	}
	for _, tag := range tags {
		if _, ok := c.index[tag]; ok {
			continue
		}
		c.index[tag] = len(c.entries)
		c.entries = append(c.entries, model.RuleSetRef{
			Type:           "remote",
			Tag:            tag,
			Format:         "binary",
			URL:            ExpandURL(tag),
			DownloadDetour: detour,
			UpdateInterval: interval,
		})
	}
	return c
}

func (c *Catalog) Len() int { return len(c.entries) }

func (c *Catalog) Has(tag string) bool {
	_, ok := c.index[tag]
	return ok
}
