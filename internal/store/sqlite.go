package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/ashureev/chatdesk/internal/docstore"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/shared"
	"github.com/ashureev/chatdesk/internal/textnorm"
)

// searchLimit caps SearchEntities results.
const searchLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
	now   func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewSQLite opens (and creates if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; pragmas apply to every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		retry:   shared.DefaultRetryPolicy,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		aliases_json TEXT NOT NULL DEFAULT '[]',
		search_key TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		files INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_entity ON orders(entity_id, created_at);

	CREATE TABLE IF NOT EXISTS schedule_entries (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		date TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedule_date ON schedule_entries(date);

	CREATE TABLE IF NOT EXISTS accounting_entries (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		amount INTEGER NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recent_entities (
		user_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		entity_id TEXT NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (user_id, position)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return s.rekeyEntities()
}

// rekeyEntities rebuilds search keys written by an older normalization.
func (s *SQLiteStore) rekeyEntities() error {
	rows, err := s.db.Query(`SELECT id, title, aliases_json, search_key FROM entities`)
	if err != nil {
		return fmt.Errorf("scan search keys: %w", err)
	}
	stale := make(map[string]string)
	for rows.Next() {
		var id, title, aliasJSON, key string
		if err := rows.Scan(&id, &title, &aliasJSON, &key); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan search keys: %w", err)
		}
		var aliases []string
		if err := json.Unmarshal([]byte(aliasJSON), &aliases); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode aliases for %s: %w", id, err)
		}
		if want := searchKey(title, aliases); want != key {
			stale[id] = want
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("scan search keys: %w", err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("scan search keys: %w", err)
	}
	for id, key := range stale {
		if _, err := s.db.Exec(`UPDATE entities SET search_key = ? WHERE id = ?`, key, id); err != nil {
			return fmt.Errorf("rekey entity %s: %w", id, err)
		}
	}
	if len(stale) > 0 {
		slog.Info("Entity search keys rebuilt", "entities", len(stale))
	}
	return nil
}

func (s *SQLiteStore) newID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SeedEntity creates an entity.
func (s *SQLiteStore) SeedEntity(ctx context.Context, title string, aliases ...string) (domain.Entity, error) {
	const op = "seed_entity"
	title = strings.TrimSpace(title)
	if title == "" || len([]rune(title)) > docstore.MaxTitleLength {
		return domain.Entity{}, docstore.Errorf(op, docstore.KindValidation, "title must be 1..%d characters", docstore.MaxTitleLength)
	}
	if aliases == nil {
		aliases = []string{}
	}
	aliasJSON, err := json.Marshal(aliases)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("marshal aliases: %w", err)
	}

	e := domain.Entity{ID: s.newID(), Title: title, Aliases: aliases, CreatedAt: s.now().UTC().Truncate(time.Second)}
	err = s.write(ctx, op, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO entities (id, title, aliases_json, search_key, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.Title, string(aliasJSON), searchKey(title, aliases), e.CreatedAt.Unix(), e.CreatedAt.Unix())
		return err
	})
	if err != nil {
		return domain.Entity{}, err
	}
	return e, nil
}

// SearchEntities returns entities whose title or an alias contains query.
// Matching runs on folded text so it is case-insensitive for any script.
func (s *SQLiteStore) SearchEntities(ctx context.Context, query string) ([]domain.Entity, error) {
	q := textnorm.Name(query)
	if q == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, aliases_json, created_at FROM entities
		WHERE search_key LIKE ? ESCAPE '\'
		ORDER BY title LIMIT ?`,
		"%"+escapeLike(q)+"%", searchLimit)
	if err != nil {
		return nil, s.classify("search_entities", err)
	}
	defer rows.Close()

	var out []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify("search_entities", err)
	}
	return out, nil
}

// GetEntity returns one entity.
func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, aliases_json, created_at FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entity{}, docstore.Errorf("get_entity", docstore.KindNotFound, "entity %s not found", id)
	}
	if err != nil {
		return domain.Entity{}, s.classify("get_entity", err)
	}
	return e, nil
}

// RenameEntity changes an entity's title.
func (s *SQLiteStore) RenameEntity(ctx context.Context, id, title string) (docstore.UpdateResult, error) {
	const op = "rename_entity"
	title = strings.TrimSpace(title)
	if title == "" || len([]rune(title)) > docstore.MaxTitleLength {
		return docstore.UpdateResult{}, docstore.Errorf(op, docstore.KindValidation, "title must be 1..%d characters", docstore.MaxTitleLength)
	}
	current, err := s.GetEntity(ctx, id)
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	if current.Title == title {
		return docstore.UpdateResult{Modified: false}, nil
	}

	err = s.write(ctx, op, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE entities SET title = ?, search_key = ?, updated_at = ? WHERE id = ?`,
			title, searchKey(title, current.Aliases), s.now().Unix(), id)
		return err
	})
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	return docstore.UpdateResult{Modified: true}, nil
}

// CreateOrders inserts req.Count open orders in one transaction.
func (s *SQLiteStore) CreateOrders(ctx context.Context, req domain.OrderRequest) ([]domain.Order, error) {
	const op = "create_orders"
	if err := docstore.ValidateOrderRequest(op, req); err != nil {
		return nil, err
	}
	if err := s.requireEntity(ctx, op, req.EntityID); err != nil {
		return nil, err
	}

	var orders []domain.Order
	err := s.write(ctx, op, func(ctx context.Context) error {
		orders = orders[:0]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		now := s.now().UTC().Truncate(time.Second)
		for range req.Count {
			o := domain.Order{
				ID:        s.newID(),
				EntityID:  req.EntityID,
				Category:  req.Category,
				Status:    domain.OrderStatusOpen,
				CreatedAt: now,
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO orders (id, entity_id, category, files, status, created_at)
				VALUES (?, ?, ?, 0, ?, ?)`,
				o.ID, o.EntityID, string(o.Category), string(o.Status), now.Unix()); err != nil {
				return err
			}
			orders = append(orders, o)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// AddFiles adds count files to the entity's newest open order.
func (s *SQLiteStore) AddFiles(ctx context.Context, entityID string, count int) (domain.Order, error) {
	const op = "add_files"
	if err := docstore.ValidateFileCount(op, count); err != nil {
		return domain.Order{}, err
	}
	if err := s.requireEntity(ctx, op, entityID); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err := s.write(ctx, op, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT id, entity_id, category, files, status, created_at FROM orders
			WHERE entity_id = ? AND status = ?
			ORDER BY created_at DESC, id DESC LIMIT 1`,
			entityID, string(domain.OrderStatusOpen))
		order, err = scanOrder(row)
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.Errorf(op, docstore.KindValidation, "entity %s has no open order", entityID)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET files = files + ? WHERE id = ?`, count, order.ID); err != nil {
			return err
		}
		order.Files += count
		return tx.Commit()
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListOrders lists an entity's orders, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, entityID string, category domain.Category) ([]domain.Order, error) {
	const op = "list_orders"
	if err := s.requireEntity(ctx, op, entityID); err != nil {
		return nil, err
	}

	query := `SELECT id, entity_id, category, files, status, created_at FROM orders WHERE entity_id = ?`
	args := []any{entityID}
	if category != domain.CategoryNone {
		query += ` AND category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(op, err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, s.classify(op, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(op, err)
	}
	return out, nil
}

// CreateScheduleEntry books a date for an entity.
func (s *SQLiteStore) CreateScheduleEntry(ctx context.Context, entry domain.ScheduleEntry) (domain.ScheduleEntry, error) {
	const op = "create_schedule_entry"
	if err := docstore.ValidateScheduleEntry(op, entry, s.now()); err != nil {
		return domain.ScheduleEntry{}, err
	}
	if err := s.requireEntity(ctx, op, entry.EntityID); err != nil {
		return domain.ScheduleEntry{}, err
	}

	entry.ID = s.newID()
	err := s.write(ctx, op, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO schedule_entries (id, entity_id, date, note, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			entry.ID, entry.EntityID, entry.Date.Format(time.DateOnly), entry.Note, s.now().Unix())
		return err
	})
	if err != nil {
		return domain.ScheduleEntry{}, err
	}
	return entry, nil
}

// CreateAccountingEntry records a payment.
func (s *SQLiteStore) CreateAccountingEntry(ctx context.Context, entry domain.AccountingEntry) (domain.AccountingEntry, error) {
	const op = "create_accounting_entry"
	if err := docstore.ValidateAccountingEntry(op, entry); err != nil {
		return domain.AccountingEntry{}, err
	}
	if err := s.requireEntity(ctx, op, entry.EntityID); err != nil {
		return domain.AccountingEntry{}, err
	}

	entry.ID = s.newID()
	entry.CreatedAt = s.now().UTC().Truncate(time.Second)
	err := s.write(ctx, op, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO accounting_entries (id, entity_id, amount, note, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			entry.ID, entry.EntityID, entry.Amount, entry.Note, entry.CreatedAt.Unix())
		return err
	})
	if err != nil {
		return domain.AccountingEntry{}, err
	}
	return entry, nil
}

// LoadRecent implements recent.Persister.
func (s *SQLiteStore) LoadRecent(ctx context.Context, userID int64) ([]domain.EntityRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, name FROM recent_entities WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("query recent entities: %w", err)
	}
	defer rows.Close()

	var out []domain.EntityRef
	for rows.Next() {
		var ref domain.EntityRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("scan recent entity: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// SaveRecent implements recent.Persister. The stored list is replaced.
func (s *SQLiteStore) SaveRecent(ctx context.Context, userID int64, refs []domain.EntityRef) error {
	return s.write(ctx, "save_recent", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM recent_entities WHERE user_id = ?`, userID); err != nil {
			return err
		}
		for i, ref := range refs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO recent_entities (user_id, position, entity_id, name)
				VALUES (?, ?, ?, ?)`, userID, i, ref.ID, ref.Name); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// write runs fn, retrying SQLite lock conflicts with exponential backoff.
// Conflicts that outlast the retries surface as retryable store errors.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func(context.Context) error) error {
	err := shared.Retry(ctx, s.retry, op, shared.IsSQLiteConflictError, fn)
	if err == nil {
		return nil
	}
	return s.classify(op, err)
}

func (s *SQLiteStore) classify(op string, err error) error {
	var de *docstore.Error
	if errors.As(err, &de) {
		return err
	}
	kind := docstore.KindUnknown
	if shared.IsSQLiteConflictError(err) {
		kind = docstore.KindRetryable
	}
	return &docstore.Error{Op: op, Kind: kind, Err: err}
}

func (s *SQLiteStore) requireEntity(ctx context.Context, op, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Errorf(op, docstore.KindNotFound, "entity %s not found", id)
	}
	if err != nil {
		return s.classify(op, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (domain.Entity, error) {
	var e domain.Entity
	var aliasJSON string
	var createdAt int64
	if err := row.Scan(&e.ID, &e.Title, &aliasJSON, &createdAt); err != nil {
		return domain.Entity{}, err
	}
	if err := json.Unmarshal([]byte(aliasJSON), &e.Aliases); err != nil {
		return domain.Entity{}, fmt.Errorf("decode aliases for %s: %w", e.ID, err)
	}
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return e, nil
}

func scanOrder(row scanner) (domain.Order, error) {
	var o domain.Order
	var category, status string
	var createdAt int64
	if err := row.Scan(&o.ID, &o.EntityID, &category, &o.Files, &status, &createdAt); err != nil {
		return domain.Order{}, err
	}
	o.Category = domain.Category(category)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	return o, nil
}

// searchKey is the normalized text SearchEntities matches against: the
// title and every alias in name form, one per line.
func searchKey(title string, aliases []string) string {
	parts := make([]string, 0, len(aliases)+1)
	parts = append(parts, textnorm.Name(title))
	for _, a := range aliases {
		parts = append(parts, textnorm.Name(a))
	}
	return strings.Join(parts, "\n")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
