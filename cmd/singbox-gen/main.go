package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/John-Robertt/singbox-gen/internal/config"
	"github.com/John-Robertt/singbox-gen/internal/fetch"
	"github.com/John-Robertt/singbox-gen/internal/generate"
	"github.com/John-Robertt/singbox-gen/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		var r *reportedError
		if !errors.As(err, &r) {
			// Flag parsing errors never reach report.
			_, _ = fmt.Fprintf(stderr, "singbox-gen: %v\n", err)
		}
		return 1
	}
	return 0
}

type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cfg := config.Default()
	var logger *zap.Logger

	cmd := &cobra.Command{
		Use:   "singbox-gen",
		Short: "从订阅和静态策略表生成 sing-box 配置",
		Long: `singbox-gen fetches node subscriptions, groups the nodes into region and
site selectors, prunes the rule-set catalog to what the rules use and prints
one sing-box configuration document.

Subscriptions come from --sub (repeatable) or the SUB environment variable
(comma separated). Prefix a URL with singbox+, sip008+ or ss+ to force its
format; otherwise "ss=1" in the query selects SIP008 and anything else is
read as a sing-box export.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ApplyEnv(cmd.Flags()); err != nil {
				return report(stderr, nil, err)
			}
			if err := cfg.Validate(); err != nil {
				return report(stderr, nil, err)
			}
			var err error
			logger, err = logging.New(cfg.LogLevel, zapcore.AddSync(stderr))
			if err != nil {
				return report(stderr, nil, fmt.Errorf("failed to initialize logger: %w", err))
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opt := generate.Options{
				Subs:         cfg.Subs,
				Profile:      cfg.Profile,
				FetchTimeout: cfg.FetchTimeout,
				Timeout:      cfg.Timeout,
				Concurrency:  cfg.Concurrency,
				RoutingMark:  cfg.RoutingMark,
				Logger:       logger,
			}

			if cfg.Output == "" || cfg.Output == "-" {
				return report(stderr, logger, generate.Run(cmd.Context(), opt, stdout))
			}

			var buf bytes.Buffer
			if err := generate.Run(cmd.Context(), opt, &buf); err != nil {
				return report(stderr, logger, err)
			}
			if err := os.WriteFile(cfg.Output, buf.Bytes(), 0o644); err != nil {
				return report(stderr, logger, fmt.Errorf("write %s: %w", cfg.Output, err))
			}
			logger.Info("config written", zap.String("path", cfg.Output), zap.Int("bytes", buf.Len()))
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cfg.BindFlags(cmd.Flags())
	return cmd
}

// report writes the diagnostic for err to stderr and hands err back so cobra
// exits non-zero. Before the logger exists a single plain line is written.
func report(stderr io.Writer, logger *zap.Logger, err error) error {
	if err == nil {
		return nil
	}
	app := generate.Diagnose(err)
	if logger == nil {
		_, _ = fmt.Fprintf(stderr, "singbox-gen: %s: %s (%v)\n", app.Code, app.Message, err)
		return &reportedError{err}
	}

	fields := []zap.Field{
		zap.String("code", app.Code),
		zap.String("stage", app.Stage),
	}
	if app.URL != "" {
		fields = append(fields, zap.String("url", fetch.Redact(app.URL)))
	}
	if app.Line > 0 {
		fields = append(fields, zap.Int("line", app.Line))
	}
	if app.Snippet != "" {
		fields = append(fields, zap.String("snippet", app.Snippet))
	}
	if app.Hint != "" {
		fields = append(fields, zap.String("hint", app.Hint))
	}
	fields = append(fields, zap.Error(err))
	logger.Error(app.Message, fields...)
	return &reportedError{err}
}
