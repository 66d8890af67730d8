// Package config holds the runtime options of one generator run: where the
// subscriptions and the profile come from, timeouts, logging and output.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/John-Robertt/singbox-gen/internal/model"
)

// Environment variables read by ApplyEnv. A flag set on the command line
// always wins over its variable.
const (
	EnvSubs        = "SUB"
	EnvProfile     = "SINGBOX_GEN_PROFILE"
	EnvLogLevel    = "SINGBOX_GEN_LOG_LEVEL"
	EnvRoutingMark = "SINGBOX_GEN_ROUTING_MARK"
)

type Config struct {
	Subs    []string
	Profile string // file path or http(s) URL; empty means the embedded profile

	FetchTimeout time.Duration
	Timeout      time.Duration
	Concurrency  int

	// RoutingMark overrides the profile's routing_mark when >= 0.
	RoutingMark int

	LogLevel string
	Output   string // empty or "-" means stdout
}

func Default() Config {
	return Config{
		FetchTimeout: 15 * time.Second,
		Timeout:      60 * time.Second,
		RoutingMark:  -1,
		LogLevel:     "info",
	}
}

// BindFlags registers the command-line flags on fs, using c's current values
// as defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringArrayVarP(&c.Subs, "sub", "s", c.Subs, "订阅地址，可重复；支持 singbox+/sip008+/ss+ 前缀指定格式")
	fs.StringVarP(&c.Profile, "profile", "p", c.Profile, "profile 文件路径或 http(s) URL（默认使用内置 profile）")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", c.FetchTimeout, "单次远程拉取的超时")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "整次生成的总超时（包含远程拉取）")
	fs.IntVar(&c.Concurrency, "concurrency", c.Concurrency, "同时拉取的订阅数上限（0 表示不限制）")
	fs.IntVar(&c.RoutingMark, "routing-mark", c.RoutingMark, "覆盖 profile 中的 routing_mark（-1 表示沿用 profile，0 表示不设置）")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "日志级别：debug/info/warn/error")
	fs.StringVarP(&c.Output, "output", "o", c.Output, "输出文件（默认 stdout）")
}

// ApplyEnv fills options from the environment unless the matching flag was
// set explicitly. fs may be nil, in which case every variable applies.
func (c *Config) ApplyEnv(fs *pflag.FlagSet) error {
	return c.applyEnvOverrides(fs, os.Getenv)
}

func (c *Config) applyEnvOverrides(fs *pflag.FlagSet, getenv func(string) string) error {
	changed := func(name string) bool {
		return fs != nil && fs.Changed(name)
	}

	if v := getenv(EnvSubs); v != "" && !changed("sub") {
		c.Subs = SplitList(v)
	}
	if v := getenv(EnvProfile); v != "" && !changed("profile") {
		c.Profile = v
	}
	if v := getenv(EnvLogLevel); v != "" && !changed("log-level") {
		c.LogLevel = v
	}
	if v := getenv(EnvRoutingMark); v != "" && !changed("routing-mark") {
		mark, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &Error{
				AppError: model.AppError{
					Code:    "INVALID_ARGUMENT",
					Message: fmt.Sprintf("%s 必须是整数", EnvRoutingMark),
					Stage:   "config",
					Snippet: v,
				},
				Cause: err,
			}
		}
		c.RoutingMark = mark
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if len(c.Subs) == 0 {
		return invalid("至少需要一个订阅地址", "", "pass --sub URL or set "+EnvSubs+"=url1,url2")
	}
	for _, s := range c.Subs {
		if strings.TrimSpace(s) == "" {
			return invalid("订阅地址不能为空", "", "")
		}
	}
	if c.FetchTimeout <= 0 {
		return invalid("fetch-timeout 必须大于 0", c.FetchTimeout.String(), "")
	}
	if c.Timeout <= 0 {
		return invalid("timeout 必须大于 0", c.Timeout.String(), "")
	}
	if c.Concurrency < 0 {
		return invalid("concurrency 不能为负数", strconv.Itoa(c.Concurrency), "")
	}
	if c.RoutingMark < -1 {
		return invalid("routing-mark 不能小于 -1", strconv.Itoa(c.RoutingMark), "")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("不支持的日志级别", c.LogLevel, "use debug, info, warn or error")
	}
	return nil
}

type Error struct {
	AppError model.AppError
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func invalid(message, snippet, hint string) error {
	return &Error{
		AppError: model.AppError{
			Code:    "INVALID_ARGUMENT",
			Message: message,
			Stage:   "config",
			Snippet: snippet,
			Hint:    hint,
		},
	}
}
