// Package source fetches and normalizes every subscription of a run.
//
// All subscriptions are fetched concurrently and joined before anything else
// happens. The first failure cancels the remaining fetches and aborts the
// run: a partial node list would silently reroute traffic.
package source

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/singbox-gen/internal/fetch"
	"github.com/John-Robertt/singbox-gen/internal/model"
	"github.com/John-Robertt/singbox-gen/internal/sub"
)

// Subscription is one resolved subscription reference.
type Subscription struct {
	URL    string
	Format sub.Format
}

// Resolve turns raw references ("https://...", "sip008+https://...") into
// subscriptions using sub.DetectFormat.
func Resolve(refs []string) []Subscription {
	out := make([]Subscription, 0, len(refs))
	for _, ref := range refs {
		f, u := sub.DetectFormat(ref)
		out = append(out, Subscription{URL: u, Format: f})
	}
	return out
}

type Options struct {
	FetchTimeout time.Duration
	MaxBytes     int64

	// Concurrency caps in-flight fetches; <= 0 means one goroutine per
	// subscription.
	Concurrency int

	Logger *zap.Logger
}

// Load fetches and parses all subscriptions and returns their nodes
// concatenated in subscription order.
func Load(ctx context.Context, subs []Subscription, opt Options) ([]*model.Node, error) {
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Each goroutine owns exactly one slot; no locking needed.
	results := make([][]*model.Node, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	if opt.Concurrency > 0 {
		g.SetLimit(opt.Concurrency)
	}
	for i, s := range subs {
		i, s := i, s
		g.Go(func() error {
			start := time.Now()
			text, err := fetch.FetchTextWithOptions(gctx, fetch.KindSubscription, s.URL, fetch.Options{
				Timeout:   opt.FetchTimeout,
				MaxBytes:  opt.MaxBytes,
				UserAgent: s.Format.UserAgent(),
			})
			if err != nil {
				return err
			}
			nodes, err := sub.Parse(s.Format, s.URL, text)
			if err != nil {
				return err
			}
			logger.Debug("subscription loaded",
				zap.String("url", fetch.Redact(s.URL)),
				zap.String("format", string(s.Format)),
				zap.Int("nodes", len(nodes)),
				zap.Duration("took", time.Since(start)))
			results[i] = nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]*model.Node, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}
