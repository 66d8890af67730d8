package generate

import (
	"context"
	"errors"

	"github.com/John-Robertt/singbox-gen/internal/compiler"
	"github.com/John-Robertt/singbox-gen/internal/config"
	"github.com/John-Robertt/singbox-gen/internal/fetch"
	"github.com/John-Robertt/singbox-gen/internal/model"
	"github.com/John-Robertt/singbox-gen/internal/profile"
	"github.com/John-Robertt/singbox-gen/internal/render"
	"github.com/John-Robertt/singbox-gen/internal/rules"
	"github.com/John-Robertt/singbox-gen/internal/sub"
)

// Diagnose extracts the AppError carried by err. Errors from outside the
// pipeline's typed errors are reported as INTERNAL_ERROR.
func Diagnose(err error) model.AppError {
	if err == nil {
		return model.AppError{}
	}

	var ce *config.Error
	if errors.As(err, &ce) {
		return ce.AppError
	}

	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return fe.AppError
	}

	var se *sub.ParseError
	if errors.As(err, &se) {
		return se.AppError
	}

	var pe *profile.ParseError
	if errors.As(err, &pe) {
		return pe.AppError
	}

	var cce *compiler.ConfigError
	if errors.As(err, &cce) {
		return cce.AppError
	}

	var rce *rules.ConfigError
	if errors.As(err, &rce) {
		return rce.AppError
	}

	var re *render.RenderError
	if errors.As(err, &re) {
		return re.AppError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.AppError{
			Code:    "RUN_TIMEOUT",
			Message: "生成超时",
			Stage:   "run",
			Hint:    "raise --timeout",
		}
	}
	if errors.Is(err, context.Canceled) {
		return model.AppError{
			Code:    "RUN_CANCELED",
			Message: "生成已取消",
			Stage:   "run",
		}
	}

	// Fallback: internal bug.
	return model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: "内部错误",
		Stage:   "internal",
		Hint:    err.Error(),
	}
}
