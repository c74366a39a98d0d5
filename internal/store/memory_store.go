package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"chatedit/server/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrBadRequest = errors.New("bad request")
)

type MemoryStore struct {
	mu sync.RWMutex

	users       map[string]model.User
	userByEmail map[string]string

	refreshTokens map[string]model.RefreshToken

	media        map[string]model.Media
	mediaByOwner map[string][]string

	versions        map[string]model.Version
	versionsByMedia map[string][]string
	childrenOf      map[string][]string
	versionSeq      int64

	operations        map[string]model.Operation
	operationsByMedia map[string][]string

	turns   map[string][]model.ConversationTurn
	turnSeq map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:             map[string]model.User{},
		userByEmail:       map[string]string{},
		refreshTokens:     map[string]model.RefreshToken{},
		media:             map[string]model.Media{},
		mediaByOwner:      map[string][]string{},
		versions:          map[string]model.Version{},
		versionsByMedia:   map[string][]string{},
		childrenOf:        map[string][]string{},
		operations:        map[string]model.Operation{},
		operationsByMedia: map[string][]string{},
		turns:             map[string][]model.ConversationTurn{},
		turnSeq:           map[string]int64{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) UpsertUser(ctx context.Context, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	s.userByEmail[strings.ToLower(user.Email)] = user.ID
	return nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userByEmail[strings.ToLower(email)]
	if !ok {
		return model.User{}, ErrNotFound
	}
	user, ok := s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) SaveRefreshToken(ctx context.Context, tok model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[tok.ID] = tok
	return nil
}

func (s *MemoryStore) GetRefreshToken(ctx context.Context, id string) (model.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.refreshTokens[id]
	if !ok {
		return model.RefreshToken{}, ErrNotFound
	}
	return tok, nil
}

func (s *MemoryStore) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.refreshTokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.RevokedAt = &revokedAt
	s.refreshTokens[id] = tok
	return nil
}

// CreateMedia stores the media record together with its root version.
func (s *MemoryStore) CreateMedia(ctx context.Context, media model.Media, root model.Version) (model.Media, model.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.media[media.ID]; ok {
		return model.Media{}, model.Version{}, ErrConflict
	}
	if !root.IsRoot() || root.MediaID != media.ID {
		return model.Media{}, model.Version{}, ErrBadRequest
	}
	stored, err := s.appendVersionLocked(root)
	if err != nil {
		return model.Media{}, model.Version{}, err
	}
	media.RootVersionID = stored.ID
	s.media[media.ID] = media
	s.mediaByOwner[media.OwnerID] = append(s.mediaByOwner[media.OwnerID], media.ID)
	return media, cloneVersion(stored), nil
}

func (s *MemoryStore) GetMedia(ctx context.Context, id string) (model.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.media[id]
	if !ok {
		return model.Media{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) ListMedia(ctx context.Context, ownerID string) ([]model.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.mediaByOwner[ownerID]
	out := make([]model.Media, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.media[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AppendVersion(ctx context.Context, v model.Version) (model.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.appendVersionLocked(v)
	if err != nil {
		return model.Version{}, err
	}
	return cloneVersion(stored), nil
}

func (s *MemoryStore) appendVersionLocked(v model.Version) (model.Version, error) {
	if v.ID == "" || v.MediaID == "" {
		return model.Version{}, ErrBadRequest
	}
	if _, ok := s.versions[v.ID]; ok {
		return model.Version{}, ErrConflict
	}
	if v.ParentID != nil {
		parent, ok := s.versions[*v.ParentID]
		if !ok {
			return model.Version{}, ErrNotFound
		}
		if parent.MediaID != v.MediaID {
			return model.Version{}, ErrBadRequest
		}
	}
	s.versionSeq++
	v = cloneVersion(v)
	v.Seq = s.versionSeq
	s.versions[v.ID] = v
	s.versionsByMedia[v.MediaID] = append(s.versionsByMedia[v.MediaID], v.ID)
	if v.ParentID != nil {
		s.childrenOf[*v.ParentID] = append(s.childrenOf[*v.ParentID], v.ID)
	}
	return v, nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, id string) (model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[id]
	if !ok {
		return model.Version{}, ErrNotFound
	}
	return cloneVersion(v), nil
}

func (s *MemoryStore) ChildVersions(ctx context.Context, id string) ([]model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.versions[id]; !ok {
		return nil, ErrNotFound
	}
	ids := s.childrenOf[id]
	out := make([]model.Version, 0, len(ids))
	for _, cid := range ids {
		out = append(out, cloneVersion(s.versions[cid]))
	}
	return out, nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, mediaID string) ([]model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.versionsByMedia[mediaID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.Version, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneVersion(s.versions[id]))
	}
	return out, nil
}

func (s *MemoryStore) HeadVersion(ctx context.Context, mediaID string) (model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.versionsByMedia[mediaID]
	if len(ids) == 0 {
		return model.Version{}, ErrNotFound
	}
	return cloneVersion(s.versions[ids[len(ids)-1]]), nil
}

func (s *MemoryStore) CreateOperation(ctx context.Context, op model.Operation) (model.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[op.ID]; ok {
		return model.Operation{}, ErrConflict
	}
	op = cloneOperation(op)
	s.operations[op.ID] = op
	s.operationsByMedia[op.MediaID] = append(s.operationsByMedia[op.MediaID], op.ID)
	return cloneOperation(op), nil
}

func (s *MemoryStore) GetOperation(ctx context.Context, id string) (model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[id]
	if !ok {
		return model.Operation{}, ErrNotFound
	}
	return cloneOperation(op), nil
}

func (s *MemoryStore) ListOperations(ctx context.Context, mediaID string) ([]model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.operationsByMedia[mediaID]
	out := make([]model.Operation, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, cloneOperation(s.operations[ids[i]]))
	}
	return out, nil
}

// UpdateOperation applies fn to the stored operation under the store lock.
// A non-nil version returned by fn is appended in the same critical section;
// if either step fails nothing is written.
func (s *MemoryStore) UpdateOperation(ctx context.Context, id string, fn func(*model.Operation) (*model.Version, error)) (model.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.operations[id]
	if !ok {
		return model.Operation{}, ErrNotFound
	}
	next := cloneOperation(current)
	version, err := fn(&next)
	if err != nil {
		return model.Operation{}, err
	}
	if version != nil {
		if _, err := s.appendVersionLocked(*version); err != nil {
			return model.Operation{}, err
		}
	}
	s.operations[id] = next
	return cloneOperation(next), nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, turn model.ConversationTurn) (model.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.SessionID == "" {
		return model.ConversationTurn{}, ErrBadRequest
	}
	seq := s.turnSeq[turn.SessionID] + 1
	s.turnSeq[turn.SessionID] = seq
	turn.Seq = seq
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return turn, nil
}

// ListTurns returns the most recent limit turns in chronological order;
// limit <= 0 returns all of them.
func (s *MemoryStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]model.ConversationTurn(nil), turns...), nil
}
