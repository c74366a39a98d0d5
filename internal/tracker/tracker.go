package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatedit/server/internal/model"

	"github.com/google/uuid"
)

// Store is the persistence the tracker needs. UpdateOperation must apply fn
// and append the returned version (if any) atomically.
type Store interface {
	CreateOperation(ctx context.Context, op model.Operation) (model.Operation, error)
	GetOperation(ctx context.Context, id string) (model.Operation, error)
	ListOperations(ctx context.Context, mediaID string) ([]model.Operation, error)
	UpdateOperation(ctx context.Context, id string, fn func(*model.Operation) (*model.Version, error)) (model.Operation, error)
}

type Publisher interface {
	Publish(evt model.OperationEvent) model.OperationEvent
}

type NewOperation struct {
	MediaID         string
	SourceVersionID string
	Action          model.ActionKind
	Parameters      model.Params
	CreatedBy       string
}

// Tracker owns every status change of an Operation. Transitions only move
// forward: pending -> processing -> completed|failed, or pending -> failed.
type Tracker struct {
	store Store
	pub   Publisher
	log   *slog.Logger
	now   func() time.Time
}

func New(st Store, pub Publisher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, pub: pub, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (t *Tracker) Create(ctx context.Context, in NewOperation) (model.Operation, error) {
	op := model.Operation{
		ID:              uuid.NewString(),
		MediaID:         in.MediaID,
		SourceVersionID: in.SourceVersionID,
		Action:          in.Action,
		Parameters:      in.Parameters.Clone(),
		Status:          model.OperationPending,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       t.now(),
	}
	if op.Parameters == nil {
		op.Parameters = model.Params{}
	}
	created, err := t.store.CreateOperation(ctx, op)
	if err != nil {
		return model.Operation{}, fmt.Errorf("create operation: %w", err)
	}
	t.log.Info("operation created", "operation_id", created.ID, "media_id", created.MediaID, "action", created.Action)
	t.publish(created, model.EventOperationCreated, map[string]any{
		"status":            created.Status,
		"action":            created.Action,
		"source_version_id": created.SourceVersionID,
	})
	return created, nil
}

func (t *Tracker) MarkProcessing(ctx context.Context, id string) (model.Operation, error) {
	op, err := t.store.UpdateOperation(ctx, id, func(op *model.Operation) (*model.Version, error) {
		if op.Status != model.OperationPending {
			return nil, &model.InvalidTransition{OperationID: op.ID, From: op.Status, To: model.OperationProcessing}
		}
		op.Status = model.OperationProcessing
		op.StartedAt = t.now()
		return nil, nil
	})
	if err != nil {
		return model.Operation{}, err
	}
	t.log.Info("operation processing", "operation_id", op.ID, "action", op.Action)
	t.publish(op, model.EventOperationProcessing, map[string]any{"status": op.Status})
	return op, nil
}

// MarkCompleted stores result and appends version in one step. If the
// append is rejected the operation is left in processing and the error is
// returned so the caller can fail it.
func (t *Tracker) MarkCompleted(ctx context.Context, id string, result model.OperationResult, version model.Version) (model.Operation, error) {
	op, err := t.store.UpdateOperation(ctx, id, func(op *model.Operation) (*model.Version, error) {
		if op.Status != model.OperationProcessing {
			return nil, &model.InvalidTransition{OperationID: op.ID, From: op.Status, To: model.OperationCompleted}
		}
		result.VersionID = version.ID
		op.Status = model.OperationCompleted
		op.CompletedAt = t.now()
		op.Result = &result
		op.Error = ""
		return &version, nil
	})
	if err != nil {
		return model.Operation{}, err
	}
	t.log.Info("operation completed", "operation_id", op.ID, "action", op.Action, "version_id", version.ID)
	t.publish(op, model.EventOperationCompleted, map[string]any{
		"status":        op.Status,
		"version_id":    version.ID,
		"artifact_path": result.ArtifactPath,
	})
	return op, nil
}

func (t *Tracker) MarkFailed(ctx context.Context, id string, message string) (model.Operation, error) {
	op, err := t.store.UpdateOperation(ctx, id, func(op *model.Operation) (*model.Version, error) {
		if op.Status.Terminal() {
			return nil, &model.InvalidTransition{OperationID: op.ID, From: op.Status, To: model.OperationFailed}
		}
		op.Status = model.OperationFailed
		op.CompletedAt = t.now()
		op.Error = message
		return nil, nil
	})
	if err != nil {
		return model.Operation{}, err
	}
	t.log.Warn("operation failed", "operation_id", op.ID, "action", op.Action, "error", message)
	t.publish(op, model.EventOperationFailed, map[string]any{
		"status": op.Status,
		"error":  message,
	})
	return op, nil
}

func (t *Tracker) Get(ctx context.Context, id string) (model.Operation, error) {
	return t.store.GetOperation(ctx, id)
}

// List returns the operations of a media, newest first.
func (t *Tracker) List(ctx context.Context, mediaID string) ([]model.Operation, error) {
	return t.store.ListOperations(ctx, mediaID)
}

func (t *Tracker) publish(op model.Operation, typ model.OperationEventType, payload map[string]any) {
	if t.pub == nil {
		return
	}
	t.pub.Publish(model.OperationEvent{
		OperationID: op.ID,
		MediaID:     op.MediaID,
		Type:        typ,
		TS:          t.now(),
		Payload:     payload,
	})
}
