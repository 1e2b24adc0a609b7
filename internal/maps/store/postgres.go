package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	apperrors "maps-workers/internal/common/errors"
	"maps-workers/internal/models"
)

const backendPostgres = "postgres"

// PostgresStore keeps saved maps in a single table. attributes and refs are
// JSONB; title, description and tag_ids are denormalised for listing queries.
type PostgresStore struct {
	db           *sql.DB
	table        string
	listingLimit int
}

func NewPostgresStore(db *sql.DB, table string, listingLimit int) *PostgresStore {
	return &PostgresStore{
		db:           db,
		table:        pq.QuoteIdentifier(table),
		listingLimit: listingLimit,
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		tag_ids     TEXT[] NOT NULL DEFAULT '{}',
		attributes  JSONB NOT NULL,
		refs        JSONB NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return storageError(ctx, backendPostgres, "create table", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, m *models.SavedMap) error {
	attrs, err := json.Marshal(m.Attributes)
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("encode attributes of %s: %w", m.ID, err))
	}
	refs, err := json.Marshal(m.References)
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("encode references of %s: %w", m.ID, err))
	}

	tagIDs := m.TagIDs()
	if tagIDs == nil {
		tagIDs = []string{}
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, type, title, description, tag_ids, attributes, refs, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			tag_ids = EXCLUDED.tag_ids,
			attributes = EXCLUDED.attributes,
			refs = EXCLUDED.refs,
			updated_at = EXCLUDED.updated_at`, s.table)

	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.Type, m.Title(), m.Description(), pq.Array(tagIDs),
		string(attrs), string(refs), m.UpdatedAt,
	)
	if err != nil {
		return queryError(ctx, "insert", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.SavedMap, error) {
	query := fmt.Sprintf(`SELECT id, type, attributes, refs, updated_at FROM %s WHERE id = $1`, s.table)

	var (
		m     models.SavedMap
		attrs []byte
		refs  []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.Type, &attrs, &refs, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, queryError(ctx, "select", err)
	}
	if err := decodeMap(&m, attrs, refs); err != nil {
		return nil, apperrors.NewStorageQueryFailedError("select", err)
	}
	return &m, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return queryError(ctx, "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return queryError(ctx, "delete", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, opts FindOptions) (*FindResult, error) {
	opts = opts.normalize(s.listingLimit)

	where, args := buildFindWhere(opts)
	order := "updated_at DESC"
	if opts.Text != "" {
		order = "title ASC"
	}
	args = append(args, opts.Limit)

	query := fmt.Sprintf(`SELECT id, type, attributes, refs, updated_at, count(*) OVER() AS total
		FROM %s WHERE %s ORDER BY %s LIMIT $%d`, s.table, where, order, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError(ctx, "search", err)
	}
	defer rows.Close()

	result := &FindResult{Maps: []*models.SavedMap{}}
	for rows.Next() {
		var (
			m     models.SavedMap
			attrs []byte
			refs  []byte
		)
		if err := rows.Scan(&m.ID, &m.Type, &attrs, &refs, &m.UpdatedAt, &result.Total); err != nil {
			return nil, queryError(ctx, "search", err)
		}
		if err := decodeMap(&m, attrs, refs); err != nil {
			return nil, apperrors.NewStorageQueryFailedError("search", err)
		}
		result.Maps = append(result.Maps, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(ctx, "search", err)
	}
	return result, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*models.SavedMap, error) {
	result, err := s.Find(ctx, FindOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	return result.Maps, nil
}

// buildFindWhere returns the WHERE clause for opts and its positional args.
func buildFindWhere(opts FindOptions) (string, []interface{}) {
	args := []interface{}{models.SavedObjectTypeMap}
	clauses := []string{"type = $1"}

	if opts.Text != "" {
		args = append(args, `\m`+escapeRegexp(opts.Text))
		clauses = append(clauses, fmt.Sprintf("(title ~* $%d OR description ~* $%d)", len(args), len(args)))
	}
	if len(opts.IncludeTags) > 0 {
		args = append(args, pq.Array(opts.IncludeTags))
		clauses = append(clauses, fmt.Sprintf("tag_ids && $%d", len(args)))
	}
	if len(opts.ExcludeTags) > 0 {
		args = append(args, pq.Array(opts.ExcludeTags))
		clauses = append(clauses, fmt.Sprintf("NOT (tag_ids && $%d)", len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

var regexpMeta = strings.NewReplacer(
	`\`, `\\`, `.`, `\.`, `+`, `\+`, `*`, `\*`, `?`, `\?`, `(`, `\(`, `)`, `\)`,
	`[`, `\[`, `]`, `\]`, `{`, `\{`, `}`, `\}`, `^`, `\^`, `$`, `\$`, `|`, `\|`,
)

func escapeRegexp(s string) string {
	return regexpMeta.Replace(s)
}

func decodeMap(m *models.SavedMap, attrs, refs []byte) error {
	if err := json.Unmarshal(attrs, &m.Attributes); err != nil {
		return fmt.Errorf("decode attributes of %s: %w", m.ID, err)
	}
	if err := json.Unmarshal(refs, &m.References); err != nil {
		return fmt.Errorf("decode references of %s: %w", m.ID, err)
	}
	return nil
}

// queryError separates connection failures from rejected statements.
func queryError(ctx context.Context, operation string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return apperrors.NewStorageQueryFailedError(operation, err)
	}
	return storageError(ctx, backendPostgres, operation, err)
}
