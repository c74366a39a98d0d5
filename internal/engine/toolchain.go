package engine

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chatedit/server/internal/model"
)

// Request is one toolchain invocation. Params are already normalized by the
// engine: every option the action understands is present.
type Request struct {
	Operation      model.ActionKind
	SourcePath     string
	OutputPath     string
	Params         model.Params
	SourceDuration float64
}

type Output struct {
	OutputPath string
	Metadata   map[string]any
}

// Toolchain performs the actual media processing. Only the Engine calls it.
type Toolchain interface {
	Run(ctx context.Context, req Request) (Output, error)
}

// MediaInfo is what a Prober learns about a source file.
type MediaInfo struct {
	DurationSec float64
	Width       int
	Height      int
}

type Prober interface {
	Probe(ctx context.Context, path string) (MediaInfo, error)
}

// ToolchainError is a failed toolchain invocation. Detail carries the tail
// of the tool's diagnostic output.
type ToolchainError struct {
	Tool   string
	Detail string
	Err    error
}

func (e *ToolchainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolchainError) Unwrap() error { return e.Err }

// Mock simulates processing time and writes a small placeholder artifact.
// Actions listed in FailActions always fail.
type Mock struct {
	Delay       time.Duration
	FailRate    float64
	FailActions map[model.ActionKind]bool

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMock(delay time.Duration) *Mock {
	return &Mock{
		Delay: delay,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *Mock) Run(ctx context.Context, req Request) (Output, error) {
	if err := waitCancelable(ctx, m.Delay); err != nil {
		return Output{}, &ToolchainError{Tool: "mock", Err: err}
	}
	if m.FailActions[req.Operation] {
		return Output{}, &ToolchainError{Tool: "mock", Err: fmt.Errorf("simulated failure"), Detail: string(req.Operation)}
	}
	if m.FailRate > 0 {
		m.mu.Lock()
		roll := m.rng.Float64()
		m.mu.Unlock()
		if roll < m.FailRate {
			return Output{}, &ToolchainError{Tool: "mock", Err: fmt.Errorf("random failure")}
		}
	}
	if dir := filepath.Dir(req.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			body := fmt.Sprintf("mock %s of %s\n", req.Operation, req.SourcePath)
			_ = os.WriteFile(req.OutputPath, []byte(body), 0o644)
		}
	}
	return Output{
		OutputPath: req.OutputPath,
		Metadata: map[string]any{
			"toolchain": "mock",
			"operation": string(req.Operation),
		},
	}, nil
}

func (m *Mock) Probe(ctx context.Context, path string) (MediaInfo, error) {
	return MediaInfo{DurationSec: 60, Width: 1920, Height: 1080}, nil
}

func waitCancelable(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
