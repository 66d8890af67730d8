// Package generate runs the whole pipeline: profile, subscriptions, outbound
// assembly, rule-set pruning and document rendering.
package generate

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/singbox-gen/internal/compiler"
	"github.com/John-Robertt/singbox-gen/internal/model"
	"github.com/John-Robertt/singbox-gen/internal/profile"
	"github.com/John-Robertt/singbox-gen/internal/render"
	"github.com/John-Robertt/singbox-gen/internal/rules"
	"github.com/John-Robertt/singbox-gen/internal/source"
)

type Options struct {
	Subs    []string // subscription references, see sub.DetectFormat
	Profile string   // see profile.Load

	FetchTimeout time.Duration
	Timeout      time.Duration // whole run, fetches included
	Concurrency  int

	// RoutingMark replaces the profile's routing_mark when >= 0.
	RoutingMark int

	Logger *zap.Logger
}

// Run generates the document and writes it to w. Nothing is written unless
// every stage succeeded.
func Run(ctx context.Context, opt Options, w io.Writer) error {
	doc, err := Document(ctx, opt)
	if err != nil {
		return err
	}
	return render.Encode(w, doc)
}

// Document generates the document without serializing it.
func Document(ctx context.Context, opt Options) (*model.Document, error) {
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.Timeout)
		defer cancel()
	}
	start := time.Now()

	prof, err := profile.Load(ctx, opt.Profile, opt.FetchTimeout)
	if err != nil {
		return nil, err
	}
	if opt.RoutingMark >= 0 {
		prof.RoutingMark = opt.RoutingMark
	}
	logger.Debug("profile loaded",
		zap.String("profile", profileName(opt.Profile)),
		zap.Int("regions", len(prof.Regions)),
		zap.Int("sites", len(prof.Sites)))

	nodes, err := source.Load(ctx, source.Resolve(opt.Subs), source.Options{
		FetchTimeout: opt.FetchTimeout,
		Concurrency:  opt.Concurrency,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	res, err := compiler.Compile(nodes, prof)
	if err != nil {
		return nil, err
	}

	used := rules.UsedTags(render.RouteRules(prof), render.DNSRules(prof))
	rules.AddInboundRefs(used, render.Inbounds(prof))
	catalog := rules.NewCatalog(prof.RuleSets.Tags, prof.RuleSets.DownloadDetour, prof.RuleSets.UpdateInterval)
	ruleSets, err := rules.Prune(catalog, used)
	if err != nil {
		return nil, err
	}

	doc, err := render.Build(prof, res.Outbounds, ruleSets)
	if err != nil {
		return nil, err
	}

	logger.Info("config generated",
		zap.Int("subscriptions", len(opt.Subs)),
		zap.Int("nodes", len(res.Nodes)),
		zap.Int("regions", len(res.Regions)),
		zap.Int("selectors", len(res.Regions)+len(res.Sites)+2),
		zap.Int("rule_sets", len(ruleSets)),
		zap.Int("rule_sets_pruned", catalog.Len()-len(ruleSets)),
		zap.Duration("took", time.Since(start)))
	return doc, nil
}

func profileName(ref string) string {
	if ref == "" {
		return profile.DefaultSource
	}
	return ref
}
