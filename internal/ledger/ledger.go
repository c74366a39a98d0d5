package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatedit/server/internal/model"
	"chatedit/server/internal/store"

	"github.com/google/uuid"
)

// ErrCycle is returned by Lineage when parent pointers loop.
var ErrCycle = errors.New("version lineage contains a cycle")

type Store interface {
	AppendVersion(ctx context.Context, v model.Version) (model.Version, error)
	GetVersion(ctx context.Context, id string) (model.Version, error)
	ChildVersions(ctx context.Context, id string) ([]model.Version, error)
	ListVersions(ctx context.Context, mediaID string) ([]model.Version, error)
	HeadVersion(ctx context.Context, mediaID string) (model.Version, error)
}

// Ledger is the append-only record of produced artifacts. There is no update
// or delete; the tracker appends derived versions when it completes an
// operation.
type Ledger struct {
	store Store
}

func New(st Store) *Ledger {
	return &Ledger{store: st}
}

// Append records v and returns its id. A parent, when set, must exist and
// belong to the same media.
func (l *Ledger) Append(ctx context.Context, v model.Version) (string, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	stored, err := l.store.AppendVersion(ctx, v)
	if err != nil {
		return "", fmt.Errorf("append version: %w", err)
	}
	return stored.ID, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (model.Version, error) {
	return l.store.GetVersion(ctx, id)
}

// ChildrenOf returns the direct descendants of id in append order.
func (l *Ledger) ChildrenOf(ctx context.Context, id string) ([]model.Version, error) {
	return l.store.ChildVersions(ctx, id)
}

// Head is the most recently appended version of the media.
func (l *Ledger) Head(ctx context.Context, mediaID string) (model.Version, error) {
	return l.store.HeadVersion(ctx, mediaID)
}

func (l *Ledger) ListByMedia(ctx context.Context, mediaID string) ([]model.Version, error) {
	return l.store.ListVersions(ctx, mediaID)
}

// Leaves returns every version of the media that has no children, newest
// first. More than one leaf means sibling edits branched the tree.
func (l *Ledger) Leaves(ctx context.Context, mediaID string) ([]model.Version, error) {
	all, err := l.store.ListVersions(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	hasChild := make(map[string]bool, len(all))
	for _, v := range all {
		if v.ParentID != nil {
			hasChild[*v.ParentID] = true
		}
	}
	leaves := make([]model.Version, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if !hasChild[all[i].ID] {
			leaves = append(leaves, all[i])
		}
	}
	return leaves, nil
}

// Lineage walks parent pointers from id back to the root and returns the
// path root first.
func (l *Ledger) Lineage(ctx context.Context, id string) ([]model.Version, error) {
	seen := map[string]bool{}
	var path []model.Version
	for next := id; ; {
		if seen[next] {
			return nil, ErrCycle
		}
		seen[next] = true
		v, err := l.store.GetVersion(ctx, next)
		if err != nil {
			return nil, err
		}
		path = append(path, v)
		if v.ParentID == nil {
			break
		}
		next = *v.ParentID
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Derive builds the version record for a completed operation. The parent is
// the version the operation read from.
func Derive(op model.Operation, artifactPath string, at time.Time) model.Version {
	parent := op.SourceVersionID
	return model.Version{
		ID:                    uuid.NewString(),
		MediaID:               op.MediaID,
		ParentID:              &parent,
		ProducedByOperationID: op.ID,
		Action:                op.Action,
		Parameters:            op.Parameters.Clone(),
		ArtifactPath:          artifactPath,
		CreatedAt:             at,
		CreatedBy:             op.CreatedBy,
	}
}

// IsNotFound reports whether err means the version or media does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
