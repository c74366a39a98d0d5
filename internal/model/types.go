package model

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Media is an uploaded artifact together with the root of its version tree.
type Media struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	RootVersionID string    `json:"root_version_id"`
	DurationSec   float64   `json:"duration_sec,omitempty"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MediaRef selects the artifact an operation reads from. An empty VersionID
// means the current head of the media.
type MediaRef struct {
	MediaID   string `json:"media_id"`
	VersionID string `json:"version_id,omitempty"`
}

type OperationStatus string

const (
	OperationPending    OperationStatus = "pending"
	OperationProcessing OperationStatus = "processing"
	OperationCompleted  OperationStatus = "completed"
	OperationFailed     OperationStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s OperationStatus) Terminal() bool {
	return s == OperationCompleted || s == OperationFailed
}

type OperationResult struct {
	VersionID    string         `json:"version_id"`
	ArtifactPath string         `json:"artifact_path"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Operation struct {
	ID              string           `json:"id"`
	MediaID         string           `json:"media_id"`
	SourceVersionID string           `json:"source_version_id"`
	Action          ActionKind       `json:"action"`
	Parameters      Params           `json:"parameters"`
	Status          OperationStatus  `json:"status"`
	CreatedBy       string           `json:"created_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       time.Time        `json:"started_at,omitempty"`
	CompletedAt     time.Time        `json:"completed_at,omitempty"`
	Result          *OperationResult `json:"result,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// Version is an immutable ledger record. Root versions (original uploads)
// have no parent, no producing operation and an empty action.
type Version struct {
	ID                    string     `json:"id"`
	MediaID               string     `json:"media_id"`
	ParentID              *string    `json:"parent_id"`
	ProducedByOperationID string     `json:"produced_by_operation_id,omitempty"`
	Action                ActionKind `json:"action,omitempty"`
	Parameters            Params     `json:"parameters,omitempty"`
	ArtifactPath          string     `json:"artifact_path"`
	CreatedAt             time.Time  `json:"created_at"`
	CreatedBy             string     `json:"created_by"`
	Seq                   int64      `json:"seq"`
}

func (v Version) IsRoot() bool {
	return v.ParentID == nil
}

type TurnRole string

const (
	RoleUserTurn      TurnRole = "user"
	RoleAssistantTurn TurnRole = "assistant"
)

type ConversationTurn struct {
	SessionID    string    `json:"session_id"`
	Seq          int64     `json:"seq"`
	Role         TurnRole  `json:"role"`
	Content      string    `json:"content"`
	IntentRef    *Intent   `json:"intent_ref,omitempty"`
	OperationRef string    `json:"operation_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Context carries what the interpreter and composer know about the request.
type Context struct {
	SessionID   string             `json:"session_id,omitempty"`
	UserID      string             `json:"user_id,omitempty"`
	MediaID     string             `json:"media_id,omitempty"`
	MediaName   string             `json:"media_name,omitempty"`
	DurationSec float64            `json:"duration,omitempty"`
	Width       int                `json:"width,omitempty"`
	Height      int                `json:"height,omitempty"`
	History     []ConversationTurn `json:"history,omitempty"`
}

type OperationEventType string

const (
	EventOperationCreated    OperationEventType = "operation_created"
	EventOperationProcessing OperationEventType = "operation_processing"
	EventOperationCompleted  OperationEventType = "operation_completed"
	EventOperationFailed     OperationEventType = "operation_failed"
)

type OperationEvent struct {
	EventID     string             `json:"event_id"`
	Seq         int64              `json:"seq"`
	OperationID string             `json:"operation_id"`
	MediaID     string             `json:"media_id"`
	Type        OperationEventType `json:"type"`
	TS          time.Time          `json:"ts"`
	Payload     map[string]any     `json:"payload"`
}
