package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Samijain03/Collab-X/internal/logging"
	"github.com/Samijain03/Collab-X/internal/metrics"
	"github.com/Samijain03/Collab-X/pkg/models"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var schemas = map[string]string{
	DriverSQLite: `
CREATE TABLE IF NOT EXISTS workspace_nodes (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_key TEXT    NOT NULL,
	name          TEXT    NOT NULL,
	node_type     TEXT    NOT NULL,
	parent_id     INTEGER REFERENCES workspace_nodes(id) ON DELETE CASCADE,
	language      TEXT    NOT NULL DEFAULT '',
	content       TEXT    NOT NULL DEFAULT '',
	hash          TEXT    NOT NULL DEFAULT '',
	position      INTEGER NOT NULL DEFAULT 0,
	created_by    TEXT    NOT NULL DEFAULT '',
	updated_at    TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS workspace_nodes_sibling_name
	ON workspace_nodes (workspace_key, COALESCE(parent_id, 0), name);
CREATE INDEX IF NOT EXISTS workspace_nodes_workspace ON workspace_nodes (workspace_key);
`,
	DriverPostgres: `
CREATE TABLE IF NOT EXISTS workspace_nodes (
	id            BIGSERIAL PRIMARY KEY,
	workspace_key TEXT      NOT NULL,
	name          TEXT      NOT NULL,
	node_type     TEXT      NOT NULL,
	parent_id     BIGINT    REFERENCES workspace_nodes(id) ON DELETE CASCADE,
	language      TEXT      NOT NULL DEFAULT '',
	content       TEXT      NOT NULL DEFAULT '',
	hash          TEXT      NOT NULL DEFAULT '',
	position      INTEGER   NOT NULL DEFAULT 0,
	created_by    TEXT      NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS workspace_nodes_sibling_name
	ON workspace_nodes (workspace_key, COALESCE(parent_id, 0), name);
CREATE INDEX IF NOT EXISTS workspace_nodes_workspace ON workspace_nodes (workspace_key);
`,
}

const nodeColumns = `id, name, node_type, parent_id, language, content, hash, position`

// SQL is a Store backed by SQLite or PostgreSQL.
type SQL struct {
	db     *sql.DB
	driver string
	log    *zap.Logger
}

var _ Store = (*SQL)(nil)

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, driver, dsn string) (*SQL, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// One writer avoids SQLITE_BUSY between hub goroutines.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQL{db: db, driver: driver, log: logging.Named("store")}
	s.log.Info("Store ready", zap.String("driver", driver))
	return s, nil
}

// Close closes the database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders for drivers that use $n.
func (s *SQL) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func observe(query string) func() {
	start := time.Now()
	return func() { metrics.RecordStoreQuery(query, time.Since(start)) }
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(r rowScanner) (*models.Node, error) {
	var (
		id       int64
		parentID sql.NullInt64
		n        models.Node
		nodeType string
		content  string
	)
	if err := r.Scan(&id, &n.Name, &nodeType, &parentID, &n.Language, &content, &n.Hash, &n.Position); err != nil {
		return nil, err
	}
	n.ID = models.IntID(id)
	n.NodeType = models.NodeType(nodeType)
	if parentID.Valid {
		n.ParentID = models.IntID(parentID.Int64)
	}
	n.SetText(content)
	return &n, nil
}

func parseID(id models.ID) (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q", ErrNotFound, id)
	}
	return n, nil
}

func nullID(id models.ID) (sql.NullInt64, error) {
	if id == "" {
		return sql.NullInt64{}, nil
	}
	n, err := parseID(id)
	if err != nil {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: n, Valid: true}, nil
}

func (s *SQL) List(ctx context.Context, ws string) ([]*models.Node, error) {
	defer observe("list")()

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+nodeColumns+` FROM workspace_nodes WHERE workspace_key = ? ORDER BY id`), ws)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (s *SQL) Get(ctx context.Context, ws string, id models.ID) (*models.Node, error) {
	defer observe("get")()
	return s.get(ctx, s.db, ws, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQL) get(ctx context.Context, q querier, ws string, id models.ID) (*models.Node, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	n, err := scanNode(q.QueryRowContext(ctx, s.rebind(
		`SELECT `+nodeColumns+` FROM workspace_nodes WHERE workspace_key = ? AND id = ?`), ws, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return n, nil
}

func (s *SQL) child(ctx context.Context, q querier, ws string, parent models.ID, name string) (*models.Node, error) {
	pid, err := nullID(parent)
	if err != nil {
		return nil, err
	}
	n, err := scanNode(q.QueryRowContext(ctx, s.rebind(
		`SELECT `+nodeColumns+` FROM workspace_nodes
		 WHERE workspace_key = ? AND COALESCE(parent_id, 0) = COALESCE(?, 0) AND name = ?`), ws, pid, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (s *SQL) insert(ctx context.Context, q querier, ws string, n *models.Node, createdBy models.ID) error {
	pid, err := nullID(n.ParentID)
	if err != nil {
		return err
	}
	if err := q.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM workspace_nodes WHERE workspace_key = ? AND COALESCE(parent_id, 0) = COALESCE(?, 0)`),
		ws, pid).Scan(&n.Position); err != nil {
		return fmt.Errorf("count siblings: %w", err)
	}

	var id int64
	err = q.QueryRowContext(ctx, s.rebind(
		`INSERT INTO workspace_nodes (workspace_key, name, node_type, parent_id, language, content, hash, position, created_by, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		ws, n.Name, string(n.NodeType), pid, n.Language, n.Text(), n.Hash, n.Position, string(createdBy), time.Now().UTC()).Scan(&id)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", ErrConflict, n.Name)
	}
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	n.ID = models.IntID(id)
	return nil
}

func (s *SQL) EnsurePath(ctx context.Context, ws string, p CreateParams) (*models.Node, bool, error) {
	defer observe("ensure_path")()

	segments, err := splitCreatePath(p)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	parent := p.ParentID
	if parent != "" {
		pn, err := s.get(ctx, tx, ws, parent)
		if err != nil {
			return nil, false, fmt.Errorf("parent %s: %w", parent, err)
		}
		if !pn.IsFolder() {
			return nil, false, fmt.Errorf("%w: parent %s is not a folder", ErrInvalid, parent)
		}
	}

	for _, seg := range segments[:len(segments)-1] {
		existing, err := s.child(ctx, tx, ws, parent, seg)
		if err != nil {
			return nil, false, fmt.Errorf("lookup %q: %w", seg, err)
		}
		if existing == nil {
			existing = &models.Node{Name: seg, NodeType: models.NodeFolder, ParentID: parent}
			if err := s.insert(ctx, tx, ws, existing, p.CreatedBy); err != nil {
				return nil, false, err
			}
		} else if !existing.IsFolder() {
			return nil, false, fmt.Errorf("%w: %q is a file", ErrConflict, seg)
		}
		parent = existing.ID
	}

	name := segments[len(segments)-1]
	existing, err := s.child(ctx, tx, ws, parent, name)
	if err != nil {
		return nil, false, fmt.Errorf("lookup %q: %w", name, err)
	}
	if existing != nil {
		if existing.NodeType != p.NodeType {
			return nil, false, fmt.Errorf("%w: %q", ErrConflict, name)
		}
		if existing.IsFile() && p.Content != nil {
			if p.Language != "" {
				existing.Language = p.Language
			}
			if err := s.setContent(ctx, tx, existing, *p.Content); err != nil {
				return nil, false, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit: %w", err)
		}
		return existing, false, nil
	}

	n := &models.Node{Name: name, NodeType: p.NodeType, ParentID: parent}
	if p.NodeType == models.NodeFile {
		lang, content := fileDefaults(p, name)
		n.Language = lang
		n.SetText(content)
		n.Hash = Hash(content)
	} else {
		n.SetText("")
	}
	if err := s.insert(ctx, tx, ws, n, p.CreatedBy); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return n, true, nil
}

func (s *SQL) Rename(ctx context.Context, ws string, id models.ID, name string) (*models.Node, error) {
	defer observe("rename")()

	name = strings.TrimSpace(name)
	if err := ValidName(name); err != nil {
		return nil, err
	}
	n, err := s.get(ctx, s.db, ws, id)
	if err != nil {
		return nil, err
	}
	if n.Name == name {
		return n, nil
	}

	lang := renamedLanguage(n, name)
	key, _ := parseID(id)
	_, err = s.db.ExecContext(ctx, s.rebind(
		`UPDATE workspace_nodes SET name = ?, language = ?, updated_at = ? WHERE workspace_key = ? AND id = ?`),
		name, lang, time.Now().UTC(), ws, key)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %q", ErrConflict, name)
	}
	if err != nil {
		return nil, fmt.Errorf("rename node %s: %w", id, err)
	}
	n.Name = name
	n.Language = lang
	return n, nil
}

func (s *SQL) Delete(ctx context.Context, ws string, id models.ID) ([]models.ID, error) {
	defer observe("delete")()

	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, s.rebind(`
		WITH RECURSIVE subtree(id, depth) AS (
			SELECT id, 0 FROM workspace_nodes WHERE workspace_key = ? AND id = ?
			UNION ALL
			SELECT n.id, subtree.depth + 1 FROM workspace_nodes n JOIN subtree ON n.parent_id = subtree.id
		)
		SELECT id FROM subtree ORDER BY depth DESC, id`), ws, key)
	if err != nil {
		return nil, fmt.Errorf("collect subtree: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}

	removed := make([]models.ID, 0, len(ids))
	for _, v := range ids {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM workspace_nodes WHERE id = ?`), v); err != nil {
			return nil, fmt.Errorf("delete node %d: %w", v, err)
		}
		removed = append(removed, models.IntID(v))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.log.Debug("Deleted subtree", zap.String("workspace", ws), zap.Int("nodes", len(removed)))
	return removed, nil
}

func (s *SQL) setContent(ctx context.Context, q querier, n *models.Node, content string) error {
	key, err := parseID(n.ID)
	if err != nil {
		return err
	}
	hash := Hash(content)
	if _, err := q.ExecContext(ctx, s.rebind(
		`UPDATE workspace_nodes SET content = ?, hash = ?, language = ?, updated_at = ? WHERE id = ?`),
		content, hash, n.Language, time.Now().UTC(), key); err != nil {
		return fmt.Errorf("update content %s: %w", n.ID, err)
	}
	n.SetText(content)
	n.Hash = hash
	return nil
}

func (s *SQL) SetContent(ctx context.Context, ws string, id models.ID, content string) (*models.Node, error) {
	defer observe("set_content")()

	n, err := s.get(ctx, s.db, ws, id)
	if err != nil {
		return nil, err
	}
	if n.IsFolder() {
		return nil, fmt.Errorf("%w: %s is a folder", ErrInvalid, id)
	}
	if err := s.setContent(ctx, s.db, n, content); err != nil {
		return nil, err
	}
	return n, nil
}
