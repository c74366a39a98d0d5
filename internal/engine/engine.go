package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatedit/server/internal/model"

	"github.com/google/uuid"
)

// Source is the artifact an edit reads from.
type Source struct {
	Path        string
	DurationSec float64
}

type Result struct {
	OutputPath string
	Metadata   map[string]any
}

// Engine runs one named transformation per call. Each call writes a new,
// uniquely named artifact; the source is never modified.
type Engine struct {
	tc        Toolchain
	outputDir string
	log       *slog.Logger
	suffix    func() string
}

func New(tc Toolchain, outputDir string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		tc:        tc,
		outputDir: outputDir,
		log:       logger,
		suffix:    func() string { return uuid.NewString()[:8] },
	}
}

// Execute validates params for action and routes to its handler. Any failure
// is returned as *model.TransformationError.
func (e *Engine) Execute(ctx context.Context, action model.ActionKind, src Source, params model.Params) (Result, error) {
	if err := model.Validate(action, params); err != nil {
		return Result{}, &model.TransformationError{Action: action, Message: err.Error(), Err: err}
	}
	switch action {
	case model.ActionTrim:
		return e.Trim(ctx, src, trimFrom(params))
	case model.ActionCrop:
		return e.Crop(ctx, src, cropFrom(params))
	case model.ActionFilter:
		return e.Filter(ctx, src, filterFrom(params))
	case model.ActionColor:
		return e.Color(ctx, src, colorFrom(params))
	case model.ActionAudio:
		return e.Audio(ctx, src, audioFrom(params))
	case model.ActionText:
		return e.Text(ctx, src, textFrom(params))
	case model.ActionTransition:
		return e.Transition(ctx, src, transitionFrom(params))
	case model.ActionBackground:
		return e.Background(ctx, src, backgroundFrom(params))
	case model.ActionExport:
		return e.Export(ctx, src, exportFrom(params))
	case model.ActionAnalyze, model.ActionChat, model.ActionUnknown:
		err := &model.UnsupportedActionError{Action: action}
		return Result{}, &model.TransformationError{Action: action, Message: err.Error(), Err: err}
	}
	err := &model.UnsupportedActionError{Action: action}
	return Result{}, &model.TransformationError{Action: action, Message: err.Error(), Err: err}
}

func (e *Engine) Trim(ctx context.Context, src Source, p TrimParams) (Result, error) {
	if p.Duration <= 0 {
		return Result{}, failure(model.ActionTrim, "trim length must be positive", nil)
	}
	if src.DurationSec > 0 && p.Start >= src.DurationSec {
		return Result{}, failure(model.ActionTrim, fmt.Sprintf("start %.2fs is past the end of the media (%.2fs)", p.Start, src.DurationSec), nil)
	}
	return e.run(ctx, model.ActionTrim, src, "", p.params())
}

func (e *Engine) Crop(ctx context.Context, src Source, p CropParams) (Result, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return Result{}, failure(model.ActionCrop, "crop width and height must be positive", nil)
	}
	return e.run(ctx, model.ActionCrop, src, "", p.params())
}

func (e *Engine) Filter(ctx context.Context, src Source, p FilterParams) (Result, error) {
	return e.run(ctx, model.ActionFilter, src, "", p.params())
}

func (e *Engine) Color(ctx context.Context, src Source, p ColorParams) (Result, error) {
	return e.run(ctx, model.ActionColor, src, "", p.params())
}

func (e *Engine) Audio(ctx context.Context, src Source, p AudioParams) (Result, error) {
	return e.run(ctx, model.ActionAudio, src, "", p.params())
}

func (e *Engine) Text(ctx context.Context, src Source, p TextParams) (Result, error) {
	if strings.TrimSpace(p.Text) == "" {
		return Result{}, failure(model.ActionText, "overlay text is empty", nil)
	}
	return e.run(ctx, model.ActionText, src, "", p.params())
}

func (e *Engine) Transition(ctx context.Context, src Source, p TransitionParams) (Result, error) {
	return e.run(ctx, model.ActionTransition, src, "", p.params())
}

func (e *Engine) Background(ctx context.Context, src Source, p BackgroundParams) (Result, error) {
	return e.run(ctx, model.ActionBackground, src, "", p.params())
}

func (e *Engine) Export(ctx context.Context, src Source, p ExportParams) (Result, error) {
	return e.run(ctx, model.ActionExport, src, "."+p.Format, p.params())
}

func (e *Engine) run(ctx context.Context, action model.ActionKind, src Source, ext string, params model.Params) (Result, error) {
	if strings.TrimSpace(src.Path) == "" {
		return Result{}, failure(action, "source artifact path is empty", nil)
	}
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return Result{}, failure(action, "output directory is not writable", err)
	}
	out := e.OutputPath(src.Path, action, ext)
	started := time.Now()
	res, err := e.tc.Run(ctx, Request{
		Operation:      action,
		SourcePath:     src.Path,
		OutputPath:     out,
		Params:         params,
		SourceDuration: src.DurationSec,
	})
	if err != nil {
		e.log.Warn("transformation failed", "action", action, "source", src.Path, "error", err)
		return Result{}, failure(action, describe(ctx, err), err)
	}
	if res.OutputPath == "" {
		res.OutputPath = out
	}
	meta := map[string]any{}
	for k, v := range res.Metadata {
		meta[k] = v
	}
	meta["elapsed_ms"] = time.Since(started).Milliseconds()
	e.log.Info("transformation finished", "action", action, "output", res.OutputPath, "elapsed_ms", meta["elapsed_ms"])
	return Result{OutputPath: res.OutputPath, Metadata: meta}, nil
}

// OutputPath names the artifact for an edit of source: the source base name,
// the action and a random suffix, keeping the source extension unless ext
// overrides it.
func (e *Engine) OutputPath(source string, action model.ActionKind, ext string) string {
	base := filepath.Base(source)
	srcExt := filepath.Ext(base)
	stem := strings.TrimSuffix(base, srcExt)
	if ext == "" {
		ext = srcExt
	}
	return filepath.Join(e.outputDir, fmt.Sprintf("%s_%s_%s%s", sanitizeStem(stem), action, e.suffix(), ext))
}

func sanitizeStem(stem string) string {
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "media"
	}
	return b.String()
}

func describe(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "toolchain timed out"
	case errors.Is(err, context.Canceled):
		return "toolchain run was canceled"
	}
	var tcErr *ToolchainError
	if errors.As(err, &tcErr) && tcErr.Detail != "" {
		return tcErr.Detail
	}
	return err.Error()
}

func failure(action model.ActionKind, msg string, err error) *model.TransformationError {
	return &model.TransformationError{Action: action, Message: msg, Err: err}
}
