package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"chatedit/server/internal/engine"
	"chatedit/server/internal/ledger"
	"chatedit/server/internal/model"
	"chatedit/server/internal/store"
	"chatedit/server/internal/tracker"
)

var ErrTooManyRunning = errors.New("too many running operations for user")

type Engine interface {
	Execute(ctx context.Context, action model.ActionKind, src engine.Source, params model.Params) (engine.Result, error)
}

type Tracker interface {
	Create(ctx context.Context, in tracker.NewOperation) (model.Operation, error)
	MarkProcessing(ctx context.Context, id string) (model.Operation, error)
	MarkCompleted(ctx context.Context, id string, result model.OperationResult, version model.Version) (model.Operation, error)
	MarkFailed(ctx context.Context, id string, message string) (model.Operation, error)
}

type Versions interface {
	Get(ctx context.Context, id string) (model.Version, error)
	Head(ctx context.Context, mediaID string) (model.Version, error)
}

type MediaStore interface {
	GetMedia(ctx context.Context, id string) (model.Media, error)
}

type Options struct {
	MaxConcurrent int
	MaxUserOps    int
	Timeout       time.Duration
}

// Result is what a chat caller sees. Unsupported actions come back as
// Success=false with a message instead of an error.
type Result struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Operation *model.Operation `json:"operation,omitempty"`
}

// Dispatcher validates intents and runs each accepted operation in its own
// goroutine, bounded by a global semaphore.
type Dispatcher struct {
	engine   Engine
	tracker  Tracker
	versions Versions
	media    MediaStore
	log      *slog.Logger

	timeout    time.Duration
	maxUserOps int
	sem        *semaphore.Weighted

	mu            sync.Mutex
	runningByUser map[string]int
	wg            sync.WaitGroup
}

func New(eng Engine, tr Tracker, versions Versions, media MediaStore, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 8
	}
	if opts.MaxUserOps < 1 {
		opts.MaxUserOps = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		engine:        eng,
		tracker:       tr,
		versions:      versions,
		media:         media,
		log:           logger,
		timeout:       opts.Timeout,
		maxUserOps:    opts.MaxUserOps,
		sem:           semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		runningByUser: map[string]int{},
	}
}

// Dispatch routes a resolved intent. Chat, unknown and analyze intents are
// answered with Success=false and never create an operation; invalid
// parameters return a *model.ValidationError.
func (d *Dispatcher) Dispatch(ctx context.Context, intent model.Intent, ref model.MediaRef, userID string) (Result, error) {
	op, err := d.Execute(ctx, intent.Action, intent.Parameters, ref, userID)
	var unsupported *model.UnsupportedActionError
	if errors.As(err, &unsupported) {
		return Result{Success: false, Message: model.UnsupportedMessage}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, Message: fmt.Sprintf("%s started", op.Action), Operation: &op}, nil
}

// Execute creates the operation, moves it to processing and starts the
// transformation without waiting for it.
func (d *Dispatcher) Execute(ctx context.Context, action model.ActionKind, params model.Params, ref model.MediaRef, userID string) (model.Operation, error) {
	switch action {
	case model.ActionTrim, model.ActionCrop, model.ActionFilter, model.ActionColor, model.ActionAudio,
		model.ActionText, model.ActionTransition, model.ActionBackground, model.ActionExport:
	case model.ActionAnalyze, model.ActionChat, model.ActionUnknown:
		return model.Operation{}, &model.UnsupportedActionError{Action: action}
	default:
		return model.Operation{}, &model.UnsupportedActionError{Action: action}
	}
	if err := model.Validate(action, params); err != nil {
		return model.Operation{}, err
	}

	media, err := d.media.GetMedia(ctx, ref.MediaID)
	if err != nil {
		return model.Operation{}, err
	}
	if userID != "" && media.OwnerID != userID {
		return model.Operation{}, store.ErrForbidden
	}
	source, err := d.resolveSource(ctx, ref)
	if err != nil {
		return model.Operation{}, err
	}

	if !d.reserve(userID) {
		return model.Operation{}, ErrTooManyRunning
	}
	op, err := d.tracker.Create(ctx, tracker.NewOperation{
		MediaID:         media.ID,
		SourceVersionID: source.ID,
		Action:          action,
		Parameters:      params,
		CreatedBy:       userID,
	})
	if err != nil {
		d.release(userID)
		return model.Operation{}, err
	}
	started, err := d.tracker.MarkProcessing(ctx, op.ID)
	if err != nil {
		d.fail(op, "start: "+err.Error())
		d.release(userID)
		return model.Operation{}, err
	}
	op = started

	src := engine.Source{Path: source.ArtifactPath}
	if source.IsRoot() {
		src.DurationSec = media.DurationSec
	}
	d.wg.Add(1)
	go d.run(op, src, userID)
	return op, nil
}

// Wait blocks until every started operation has reached a terminal state or
// ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) resolveSource(ctx context.Context, ref model.MediaRef) (model.Version, error) {
	if ref.VersionID == "" {
		return d.versions.Head(ctx, ref.MediaID)
	}
	v, err := d.versions.Get(ctx, ref.VersionID)
	if err != nil {
		return model.Version{}, err
	}
	if v.MediaID != ref.MediaID {
		return model.Version{}, fmt.Errorf("version %s does not belong to media %s: %w", v.ID, ref.MediaID, store.ErrBadRequest)
	}
	return v, nil
}

func (d *Dispatcher) reserve(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runningByUser[userID] >= d.maxUserOps {
		return false
	}
	d.runningByUser[userID]++
	return true
}

func (d *Dispatcher) release(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runningByUser[userID] > 0 {
		d.runningByUser[userID]--
	}
	if d.runningByUser[userID] == 0 {
		delete(d.runningByUser, userID)
	}
}

// Running reports how many operations userID has in flight.
func (d *Dispatcher) Running(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runningByUser[userID]
}

func (d *Dispatcher) run(op model.Operation, src engine.Source, userID string) {
	defer d.wg.Done()
	defer d.release(userID)

	bg := context.Background()
	if err := d.sem.Acquire(bg, 1); err != nil {
		d.fail(op, err.Error())
		return
	}
	defer d.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("operation panicked", "operation_id", op.ID, "panic", r)
			d.fail(op, fmt.Sprintf("internal error: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(bg, d.timeout)
	res, err := d.engine.Execute(ctx, op.Action, src, op.Parameters)
	cancel()
	if err != nil {
		d.fail(op, err.Error())
		return
	}

	now := time.Now().UTC()
	version := ledger.Derive(op, res.OutputPath, now)
	result := model.OperationResult{ArtifactPath: res.OutputPath, Metadata: res.Metadata}
	if _, err := d.tracker.MarkCompleted(bg, op.ID, result, version); err != nil {
		d.log.Error("record version failed", "operation_id", op.ID, "error", err)
		d.fail(op, "record version: "+err.Error())
	}
}

func (d *Dispatcher) fail(op model.Operation, message string) {
	if _, err := d.tracker.MarkFailed(context.Background(), op.ID, message); err != nil {
		d.log.Error("mark failed", "operation_id", op.ID, "error", err)
	}
}
