package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chatedit/server/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists the same records as MemoryStore in a single SQLite
// database file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. Operations left pending or processing by a previous
// process are marked failed.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if n, err := s.failInterrupted(context.Background()); err != nil {
		logger.Warn("failed to mark interrupted operations", "error", err)
	} else if n > 0 {
		logger.Info("marked interrupted operations failed", "count", n)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var applied int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM _migrations WHERE name = ?`, name).Scan(&applied)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO _migrations (name, applied_at) VALUES (?, ?)`, name, formatTime(time.Now())); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		s.logger.Info("applied migration", "name", name)
	}
	return nil
}

func (s *SQLiteStore) failInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, error = ?, completed_at = ? WHERE status IN (?, ?)`,
		model.OperationFailed, "interrupted by restart", formatTime(time.Now()),
		model.OperationPending, model.OperationProcessing,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, user model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, role, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET email = excluded.email, password_hash = excluded.password_hash,
             role = excluded.role, status = excluded.status, updated_at = excluded.updated_at`,
		user.ID, user.Email, user.PasswordHash, user.Role, user.Status,
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

const userColumns = `id, email, password_hash, role, status, created_at, updated_at`

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, email)
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (model.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg string) (model.User, error) {
	var (
		u                model.User
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return u, nil
}

func (s *SQLiteStore) SaveRefreshToken(ctx context.Context, tok model.RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		tok.ID, tok.UserID, tok.TokenHash, formatTime(tok.ExpiresAt), nullableTimePtr(tok.RevokedAt), formatTime(tok.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRefreshToken(ctx context.Context, id string) (model.RefreshToken, error) {
	var (
		tok              model.RefreshToken
		expires, created string
		revoked          sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, revoked_at, created_at FROM refresh_tokens WHERE id = ?`, id,
	).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &expires, &revoked, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("get refresh token: %w", err)
	}
	tok.ExpiresAt = parseTime(expires)
	tok.CreatedAt = parseTime(created)
	if revoked.Valid {
		t := parseTime(revoked.String)
		tok.RevokedAt = &t
	}
	return tok, nil
}

func (s *SQLiteStore) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked_at = ? WHERE id = ?`, formatTime(revokedAt), id)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateMedia(ctx context.Context, media model.Media, root model.Version) (model.Media, model.Version, error) {
	if !root.IsRoot() || root.MediaID != media.ID {
		return model.Media{}, model.Version{}, ErrBadRequest
	}
	var stored model.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM media WHERE id = ?`, media.ID).Scan(&exists)
		if err == nil {
			return ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check media: %w", err)
		}
		stored, err = appendVersion(ctx, tx, root)
		if err != nil {
			return err
		}
		media.RootVersionID = stored.ID
		_, err = tx.ExecContext(ctx,
			`INSERT INTO media (id, owner_id, name, root_version_id, duration_sec, width, height, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			media.ID, media.OwnerID, media.Name, media.RootVersionID, media.DurationSec, media.Width, media.Height, formatTime(media.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert media: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Media{}, model.Version{}, err
	}
	return media, stored, nil
}

const mediaColumns = `id, owner_id, name, root_version_id, duration_sec, width, height, created_at`

func (s *SQLiteStore) GetMedia(ctx context.Context, id string) (model.Media, error) {
	m, err := scanMedia(s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Media{}, ErrNotFound
	}
	if err != nil {
		return model.Media{}, fmt.Errorf("get media: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMedia(ctx context.Context, ownerID string) ([]model.Media, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()
	out := []model.Media{}
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendVersion(ctx context.Context, v model.Version) (model.Version, error) {
	var stored model.Version
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = appendVersion(ctx, tx, v)
		return err
	})
	return stored, err
}

func appendVersion(ctx context.Context, q queryer, v model.Version) (model.Version, error) {
	if v.ID == "" || v.MediaID == "" {
		return model.Version{}, ErrBadRequest
	}
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM versions WHERE id = ?`, v.ID).Scan(&exists)
	if err == nil {
		return model.Version{}, ErrConflict
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Version{}, fmt.Errorf("check version: %w", err)
	}
	if v.ParentID != nil {
		var parentMedia string
		err := q.QueryRowContext(ctx, `SELECT media_id FROM versions WHERE id = ?`, *v.ParentID).Scan(&parentMedia)
		if errors.Is(err, sql.ErrNoRows) {
			return model.Version{}, ErrNotFound
		}
		if err != nil {
			return model.Version{}, fmt.Errorf("check parent: %w", err)
		}
		if parentMedia != v.MediaID {
			return model.Version{}, ErrBadRequest
		}
	}
	params, err := marshalNullable(v.Parameters)
	if err != nil {
		return model.Version{}, fmt.Errorf("marshal parameters: %w", err)
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO versions (id, media_id, parent_id, produced_by_operation_id, action, parameters_json, artifact_path, created_at, created_by)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.MediaID, nullableStringPtr(v.ParentID), nullableString(v.ProducedByOperationID),
		nullableString(string(v.Action)), params, v.ArtifactPath, formatTime(v.CreatedAt), v.CreatedBy,
	)
	if err != nil {
		return model.Version{}, fmt.Errorf("insert version: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return model.Version{}, fmt.Errorf("last insert id: %w", err)
	}
	v = cloneVersion(v)
	v.Seq = seq
	return v, nil
}

const versionColumns = `seq, id, media_id, parent_id, produced_by_operation_id, action, parameters_json, artifact_path, created_at, created_by`

func (s *SQLiteStore) GetVersion(ctx context.Context, id string) (model.Version, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM versions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Version{}, ErrNotFound
	}
	if err != nil {
		return model.Version{}, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) ChildVersions(ctx context.Context, id string) ([]model.Version, error) {
	if _, err := s.GetVersion(ctx, id); err != nil {
		return nil, err
	}
	return s.listVersions(ctx, `SELECT `+versionColumns+` FROM versions WHERE parent_id = ? ORDER BY seq`, id)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, mediaID string) ([]model.Version, error) {
	out, err := s.listVersions(ctx, `SELECT `+versionColumns+` FROM versions WHERE media_id = ? ORDER BY seq`, mediaID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *SQLiteStore) HeadVersion(ctx context.Context, mediaID string) (model.Version, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM versions WHERE media_id = ? ORDER BY seq DESC LIMIT 1`, mediaID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Version{}, ErrNotFound
	}
	if err != nil {
		return model.Version{}, fmt.Errorf("head version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) listVersions(ctx context.Context, query string, arg string) ([]model.Version, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()
	out := []model.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateOperation(ctx context.Context, op model.Operation) (model.Operation, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM operations WHERE id = ?`, op.ID).Scan(&exists)
		if err == nil {
			return ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check operation: %w", err)
		}
		return insertOperation(ctx, tx, op)
	})
	if err != nil {
		return model.Operation{}, err
	}
	return cloneOperation(op), nil
}

func insertOperation(ctx context.Context, q queryer, op model.Operation) error {
	params, err := json.Marshal(op.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	result, err := marshalNullable(op.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO operations (id, media_id, source_version_id, action, parameters_json, status, created_by,
             created_at, started_at, completed_at, result_json, error)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.MediaID, op.SourceVersionID, op.Action, string(params), op.Status, nullableString(op.CreatedBy),
		formatTime(op.CreatedAt), nullableTime(op.StartedAt), nullableTime(op.CompletedAt), result, nullableString(op.Error),
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

const operationColumns = `id, media_id, source_version_id, action, parameters_json, status, created_by,
    created_at, started_at, completed_at, result_json, error`

func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (model.Operation, error) {
	return getOperation(ctx, s.db, id)
}

func getOperation(ctx context.Context, q queryer, id string) (model.Operation, error) {
	op, err := scanOperation(q.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Operation{}, ErrNotFound
	}
	if err != nil {
		return model.Operation{}, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteStore) ListOperations(ctx context.Context, mediaID string) ([]model.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE media_id = ? ORDER BY created_at DESC, rowid DESC`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()
	out := []model.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// UpdateOperation has the same contract as MemoryStore.UpdateOperation; the
// read, the optional version append and the write share one transaction.
func (s *SQLiteStore) UpdateOperation(ctx context.Context, id string, fn func(*model.Operation) (*model.Version, error)) (model.Operation, error) {
	var next model.Operation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getOperation(ctx, tx, id)
		if err != nil {
			return err
		}
		next = current
		version, err := fn(&next)
		if err != nil {
			return err
		}
		if version != nil {
			if _, err := appendVersion(ctx, tx, *version); err != nil {
				return err
			}
		}
		result, err := marshalNullable(next.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE operations SET status = ?, started_at = ?, completed_at = ?, result_json = ?, error = ? WHERE id = ?`,
			next.Status, nullableTime(next.StartedAt), nullableTime(next.CompletedAt), result, nullableString(next.Error), id,
		)
		if err != nil {
			return fmt.Errorf("update operation: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Operation{}, err
	}
	return cloneOperation(next), nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, turn model.ConversationTurn) (model.ConversationTurn, error) {
	if turn.SessionID == "" {
		return model.ConversationTurn{}, ErrBadRequest
	}
	intentJSON, err := marshalNullable(turn.IntentRef)
	if err != nil {
		return model.ConversationTurn{}, fmt.Errorf("marshal intent: %w", err)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_turns WHERE session_id = ?`, turn.SessionID,
		).Scan(&turn.Seq); err != nil {
			return fmt.Errorf("next turn seq: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_turns (session_id, seq, role, content, intent_json, operation_ref, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			turn.SessionID, turn.Seq, turn.Role, turn.Content, intentJSON, nullableString(turn.OperationRef), formatTime(turn.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.ConversationTurn{}, err
	}
	return turn, nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error) {
	query := `SELECT session_id, seq, role, content, intent_json, operation_ref, created_at
        FROM conversation_turns WHERE session_id = ? ORDER BY seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	var out []model.ConversationTurn
	for rows.Next() {
		var (
			turn       model.ConversationTurn
			intentJSON sql.NullString
			opRef      sql.NullString
			created    string
		)
		if err := rows.Scan(&turn.SessionID, &turn.Seq, &turn.Role, &turn.Content, &intentJSON, &opRef, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if intentJSON.Valid && intentJSON.String != "" {
			var in model.Intent
			if err := json.Unmarshal([]byte(intentJSON.String), &in); err != nil {
				return nil, fmt.Errorf("decode intent: %w", err)
			}
			turn.IntentRef = &in
		}
		turn.OperationRef = opRef.String
		turn.CreatedAt = parseTime(created)
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedia(row rowScanner) (model.Media, error) {
	var (
		m       model.Media
		created string
	)
	if err := row.Scan(&m.ID, &m.OwnerID, &m.Name, &m.RootVersionID, &m.DurationSec, &m.Width, &m.Height, &created); err != nil {
		return model.Media{}, err
	}
	m.CreatedAt = parseTime(created)
	return m, nil
}

func scanVersion(row rowScanner) (model.Version, error) {
	var (
		v                  model.Version
		parent, producedBy sql.NullString
		action, params     sql.NullString
		created            string
	)
	if err := row.Scan(&v.Seq, &v.ID, &v.MediaID, &parent, &producedBy, &action, &params, &v.ArtifactPath, &created, &v.CreatedBy); err != nil {
		return model.Version{}, err
	}
	if parent.Valid {
		p := parent.String
		v.ParentID = &p
	}
	v.ProducedByOperationID = producedBy.String
	v.Action = model.ActionKind(action.String)
	if params.Valid && params.String != "" && params.String != "null" {
		if err := json.Unmarshal([]byte(params.String), &v.Parameters); err != nil {
			return model.Version{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	v.CreatedAt = parseTime(created)
	return v, nil
}

func scanOperation(row rowScanner) (model.Operation, error) {
	var (
		op                           model.Operation
		params                       string
		createdBy, started, finished sql.NullString
		result, errMsg               sql.NullString
		created                      string
	)
	if err := row.Scan(&op.ID, &op.MediaID, &op.SourceVersionID, &op.Action, &params, &op.Status, &createdBy,
		&created, &started, &finished, &result, &errMsg); err != nil {
		return model.Operation{}, err
	}
	if err := json.Unmarshal([]byte(params), &op.Parameters); err != nil {
		return model.Operation{}, fmt.Errorf("decode parameters: %w", err)
	}
	if result.Valid && result.String != "" && result.String != "null" {
		var r model.OperationResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return model.Operation{}, fmt.Errorf("decode result: %w", err)
		}
		op.Result = &r
	}
	op.CreatedBy = createdBy.String
	op.CreatedAt = parseTime(created)
	if started.Valid {
		op.StartedAt = parseTime(started.String)
	}
	if finished.Valid {
		op.CompletedAt = parseTime(finished.String)
	}
	op.Error = errMsg.String
	return op, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableStringPtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func marshalNullable(v any) (any, error) {
	switch typed := v.(type) {
	case nil:
		return nil, nil
	case model.Params:
		if typed == nil {
			return nil, nil
		}
	case *model.OperationResult:
		if typed == nil {
			return nil, nil
		}
	case *model.Intent:
		if typed == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
