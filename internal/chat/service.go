// Package chat is the conversational facade: it turns a session message into
// an intent, starts the edit when appropriate and answers with a reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatedit/server/internal/dispatch"
	"chatedit/server/internal/engine"
	"chatedit/server/internal/model"
	"chatedit/server/internal/respond"
	"chatedit/server/internal/store"
)

type Store interface {
	CreateMedia(ctx context.Context, media model.Media, root model.Version) (model.Media, model.Version, error)
	GetMedia(ctx context.Context, id string) (model.Media, error)
	ListMedia(ctx context.Context, ownerID string) ([]model.Media, error)
	AppendTurn(ctx context.Context, turn model.ConversationTurn) (model.ConversationTurn, error)
	ListTurns(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error)
}

type Interpreter interface {
	Resolve(ctx context.Context, message string, c model.Context) model.Intent
}

type Composer interface {
	Compose(ctx context.Context, in model.Intent, c model.Context, outcome *respond.Outcome) respond.Reply
}

type Dispatcher interface {
	Dispatch(ctx context.Context, in model.Intent, ref model.MediaRef, userID string) (dispatch.Result, error)
	Execute(ctx context.Context, action model.ActionKind, params model.Params, ref model.MediaRef, userID string) (model.Operation, error)
}

type Operations interface {
	Get(ctx context.Context, id string) (model.Operation, error)
	List(ctx context.Context, mediaID string) ([]model.Operation, error)
}

type Versions interface {
	Get(ctx context.Context, id string) (model.Version, error)
	ChildrenOf(ctx context.Context, id string) ([]model.Version, error)
	ListByMedia(ctx context.Context, mediaID string) ([]model.Version, error)
	Leaves(ctx context.Context, mediaID string) ([]model.Version, error)
	Lineage(ctx context.Context, id string) ([]model.Version, error)
}

type Options struct {
	// MinConfidence is the lowest intent confidence ProcessCommand executes
	// without asking first.
	MinConfidence float64
	HistoryTurns  int
}

type Service struct {
	store       Store
	interpreter Interpreter
	composer    Composer
	dispatcher  Dispatcher
	operations  Operations
	versions    Versions
	prober      engine.Prober
	log         *slog.Logger

	minConfidence float64
	historyTurns  int
}

func NewService(st Store, in Interpreter, comp Composer, d Dispatcher, ops Operations, versions Versions, prober engine.Prober, logger *slog.Logger, opts Options) *Service {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 0.6
	}
	if opts.HistoryTurns < 1 {
		opts.HistoryTurns = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         st,
		interpreter:   in,
		composer:      comp,
		dispatcher:    d,
		operations:    ops,
		versions:      versions,
		prober:        prober,
		log:           logger,
		minConfidence: opts.MinConfidence,
		historyTurns:  opts.HistoryTurns,
	}
}

type CommandInput struct {
	SessionID string
	UserID    string
	Message   string
	Media     model.MediaRef
}

type CommandReply struct {
	Reply     string           `json:"reply"`
	Actions   []respond.Action `json:"actions"`
	Tips      []string         `json:"tips"`
	Fallback  bool             `json:"fallback"`
	Intent    model.Intent     `json:"intent"`
	Operation *model.Operation `json:"operation,omitempty"`
}

// ProcessCommand records the user turn, resolves the message, starts the
// edit when the intent is actionable and confident enough, and records the
// assistant turn. Once the inputs are accepted it always returns a reply;
// edit failures are reported inside it.
func (s *Service) ProcessCommand(ctx context.Context, in CommandInput) (CommandReply, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" || in.SessionID == "" {
		return CommandReply{}, fmt.Errorf("session and message are required: %w", store.ErrBadRequest)
	}
	mc := model.Context{SessionID: in.SessionID, UserID: in.UserID}
	if in.Media.MediaID != "" {
		media, err := s.ownedMedia(ctx, in.UserID, in.Media.MediaID)
		if err != nil {
			return CommandReply{}, err
		}
		mc.MediaID = media.ID
		mc.MediaName = media.Name
		mc.DurationSec = media.DurationSec
		mc.Width = media.Width
		mc.Height = media.Height
	}

	key := sessionKey(in.UserID, in.SessionID)
	history, err := s.store.ListTurns(ctx, key, s.historyTurns)
	if err != nil {
		return CommandReply{}, err
	}
	mc.History = history
	if _, err := s.store.AppendTurn(ctx, model.ConversationTurn{
		SessionID: key,
		Role:      model.RoleUserTurn,
		Content:   message,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return CommandReply{}, err
	}

	intent := s.interpreter.Resolve(ctx, message, mc)
	outcome, op := s.act(ctx, intent, in)
	reply := s.composer.Compose(ctx, intent, mc, outcome)
	if outcome != nil && outcome.Confirm {
		confirm := respond.Action{Label: "Confirm", Command: message, Kind: string(intent.Action)}
		reply.Actions = append([]respond.Action{confirm}, reply.Actions...)
	}

	out := CommandReply{
		Reply:     reply.Message,
		Actions:   reply.Actions,
		Tips:      reply.Tips,
		Fallback:  reply.Fallback || intent.Fallback,
		Intent:    intent,
		Operation: op,
	}
	turn := model.ConversationTurn{
		SessionID: key,
		Role:      model.RoleAssistantTurn,
		Content:   reply.Message,
		IntentRef: &intent,
		CreatedAt: time.Now().UTC(),
	}
	if op != nil {
		turn.OperationRef = op.ID
	}
	if _, err := s.store.AppendTurn(ctx, turn); err != nil {
		s.log.Warn("append assistant turn failed", "session_id", in.SessionID, "error", err)
	}
	return out, nil
}

// act decides what happens to a resolved intent and returns the outcome for
// the composer. Chat intents have no outcome.
func (s *Service) act(ctx context.Context, intent model.Intent, in CommandInput) (*respond.Outcome, *model.Operation) {
	if intent.Action == model.ActionChat {
		return nil, nil
	}
	if !intent.Action.Transformable() {
		res, err := s.dispatcher.Dispatch(ctx, intent, in.Media, in.UserID)
		if err != nil {
			return &respond.Outcome{Message: err.Error()}, nil
		}
		return &respond.Outcome{Message: res.Message}, nil
	}
	if in.Media.MediaID == "" {
		return &respond.Outcome{Message: "Select a video first, then tell me what to change."}, nil
	}
	if intent.Confidence < s.minConfidence {
		s.log.Info("intent held for confirmation", "session_id", in.SessionID, "action", intent.Action, "confidence", intent.Confidence)
		return &respond.Outcome{Confirm: true}, nil
	}

	res, err := s.dispatcher.Dispatch(ctx, intent, in.Media, in.UserID)
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return &respond.Outcome{Message: fmt.Sprintf("I couldn't start the %s: %s.", intent.Action, joinFields(verr))}, nil
	case errors.Is(err, dispatch.ErrTooManyRunning):
		return &respond.Outcome{Message: "You already have several edits running. Try again when one finishes."}, nil
	case err != nil:
		s.log.Error("dispatch failed", "session_id", in.SessionID, "action", intent.Action, "error", err)
		return &respond.Outcome{Message: "I couldn't start that edit."}, nil
	case !res.Success:
		return &respond.Outcome{Message: res.Message}, nil
	}
	return &respond.Outcome{Started: true, OperationID: res.Operation.ID}, res.Operation
}

func joinFields(verr *model.ValidationError) string {
	parts := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		parts = append(parts, f.Field+" "+f.Reason)
	}
	return strings.Join(parts, ", ")
}

// ExecuteOperation starts an edit directly, bypassing interpretation.
func (s *Service) ExecuteOperation(ctx context.Context, userID string, action model.ActionKind, params model.Params, ref model.MediaRef) (model.Operation, error) {
	return s.dispatcher.Execute(ctx, action, params, ref, userID)
}

// GetOperationStatus returns the operation if it belongs to one of userID's
// media.
func (s *Service) GetOperationStatus(ctx context.Context, userID, operationID string) (model.Operation, error) {
	op, err := s.operations.Get(ctx, operationID)
	if err != nil {
		return model.Operation{}, err
	}
	if _, err := s.ownedMedia(ctx, userID, op.MediaID); err != nil {
		return model.Operation{}, err
	}
	return op, nil
}

func (s *Service) ListOperations(ctx context.Context, userID, mediaID string) ([]model.Operation, error) {
	if _, err := s.ownedMedia(ctx, userID, mediaID); err != nil {
		return nil, err
	}
	return s.operations.List(ctx, mediaID)
}

type RegisterInput struct {
	Name string
	Path string
}

// RegisterMedia records an uploaded artifact and its root version. Probe
// failures are logged and leave the media dimensions empty.
func (s *Service) RegisterMedia(ctx context.Context, userID string, in RegisterInput) (model.Media, model.Version, error) {
	path := strings.TrimSpace(in.Path)
	if path == "" {
		return model.Media{}, model.Version{}, fmt.Errorf("path is required: %w", store.ErrBadRequest)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = baseName(path)
	}
	now := time.Now().UTC()
	media := model.Media{
		ID:        uuid.NewString(),
		OwnerID:   userID,
		Name:      name,
		CreatedAt: now,
	}
	if s.prober != nil {
		info, err := s.prober.Probe(ctx, path)
		if err != nil {
			s.log.Warn("probe media failed", "path", path, "error", err)
		} else {
			media.DurationSec = info.DurationSec
			media.Width = info.Width
			media.Height = info.Height
		}
	}
	root := model.Version{
		ID:           uuid.NewString(),
		MediaID:      media.ID,
		ArtifactPath: path,
		CreatedAt:    now,
		CreatedBy:    userID,
	}
	created, rootVersion, err := s.store.CreateMedia(ctx, media, root)
	if err != nil {
		return model.Media{}, model.Version{}, err
	}
	s.log.Info("media registered", "media_id", created.ID, "owner_id", userID, "duration", created.DurationSec)
	return created, rootVersion, nil
}

func (s *Service) GetMedia(ctx context.Context, userID, mediaID string) (model.Media, error) {
	return s.ownedMedia(ctx, userID, mediaID)
}

func (s *Service) ListMedia(ctx context.Context, userID string) ([]model.Media, error) {
	return s.store.ListMedia(ctx, userID)
}

func (s *Service) ListVersions(ctx context.Context, userID, mediaID string) ([]model.Version, error) {
	if _, err := s.ownedMedia(ctx, userID, mediaID); err != nil {
		return nil, err
	}
	return s.versions.ListByMedia(ctx, mediaID)
}

// Heads returns every version of the media without children, newest first.
func (s *Service) Heads(ctx context.Context, userID, mediaID string) ([]model.Version, error) {
	if _, err := s.ownedMedia(ctx, userID, mediaID); err != nil {
		return nil, err
	}
	return s.versions.Leaves(ctx, mediaID)
}

func (s *Service) GetVersion(ctx context.Context, userID, versionID string) (model.Version, error) {
	v, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return model.Version{}, err
	}
	if _, err := s.ownedMedia(ctx, userID, v.MediaID); err != nil {
		return model.Version{}, err
	}
	return v, nil
}

func (s *Service) ChildVersions(ctx context.Context, userID, versionID string) ([]model.Version, error) {
	if _, err := s.GetVersion(ctx, userID, versionID); err != nil {
		return nil, err
	}
	return s.versions.ChildrenOf(ctx, versionID)
}

func (s *Service) Lineage(ctx context.Context, userID, versionID string) ([]model.Version, error) {
	if _, err := s.GetVersion(ctx, userID, versionID); err != nil {
		return nil, err
	}
	return s.versions.Lineage(ctx, versionID)
}

// Turns returns the last limit turns of the session in order.
func (s *Service) Turns(ctx context.Context, userID, sessionID string, limit int) ([]model.ConversationTurn, error) {
	if limit < 1 {
		limit = s.historyTurns
	}
	turns, err := s.store.ListTurns(ctx, sessionKey(userID, sessionID), limit)
	if err != nil {
		return nil, err
	}
	for i := range turns {
		turns[i].SessionID = sessionID
	}
	return turns, nil
}

func (s *Service) ownedMedia(ctx context.Context, userID, mediaID string) (model.Media, error) {
	media, err := s.store.GetMedia(ctx, mediaID)
	if err != nil {
		return model.Media{}, err
	}
	if userID != "" && media.OwnerID != userID {
		return model.Media{}, store.ErrForbidden
	}
	return media, nil
}

// sessionKey scopes session ids per user.
func sessionKey(userID, sessionID string) string {
	if userID == "" {
		return sessionID
	}
	return userID + "/" + sessionID
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
