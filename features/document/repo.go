package document

import (
	"context"
	"database/sql"
	"encoding/json"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const documentColumns = `id, doc_type, COALESCE(external_id, ''), canonical_ref, title, COALESCE(full_text, ''), text_hash, COALESCE(source_url, ''), meta, COALESCE(batch_id::text, ''), is_active, updated_at`

func (r *PostgresRepo) GetByCanonicalRef(ctx context.Context, ref string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE canonical_ref = $1`
	d, err := r.scanOne(r.db.QueryRowContext(ctx, query, ref))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) Insert(ctx context.Context, d *Document) error {
	metaJSON, err := json.Marshal(orEmptyMeta(d.Meta))
	if err != nil {
		return err
	}
	query := `INSERT INTO documents (doc_type, external_id, canonical_ref, title, full_text, text_hash, source_url, meta, batch_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, updated_at`
	return r.db.QueryRowContext(ctx, query,
		d.DocType, nullable(d.ExternalID), d.CanonicalRef, d.Title, nullable(d.FullText),
		d.TextHash, nullable(d.SourceURL), metaJSON, nullable(d.BatchID), d.IsActive,
	).Scan(&d.ID, &d.UpdatedAt)
}

// Update rewrites every mutable field and always advances updated_at; that
// advance is the staleness signal the backfill job consumes.
func (r *PostgresRepo) Update(ctx context.Context, d *Document) error {
	metaJSON, err := json.Marshal(orEmptyMeta(d.Meta))
	if err != nil {
		return err
	}
	query := `UPDATE documents SET doc_type = $1, external_id = $2, title = $3, full_text = $4, text_hash = $5, source_url = $6, meta = $7, batch_id = $8, is_active = $9, updated_at = NOW()
		WHERE id = $10`
	_, err = r.db.ExecContext(ctx, query,
		d.DocType, nullable(d.ExternalID), d.Title, nullable(d.FullText),
		d.TextHash, nullable(d.SourceURL), metaJSON, nullable(d.BatchID), d.IsActive, d.ID)
	return err
}

func (r *PostgresRepo) ListActiveWithText(ctx context.Context) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE is_active = TRUE AND text_hash IS NOT NULL ORDER BY canonical_ref`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := r.scanDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE is_active = TRUE`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) CreateBatch(ctx context.Context, b *Batch) error {
	query := `INSERT INTO import_batches (name, category) VALUES ($1, $2) RETURNING id`
	return r.db.QueryRowContext(ctx, query, b.Name, b.Category).Scan(&b.ID)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresRepo) scanOne(row scanner) (*Document, error) {
	return r.scanDoc(row)
}

func (r *PostgresRepo) scanDoc(row scanner) (*Document, error) {
	d := &Document{}
	var metaJSON []byte
	err := row.Scan(&d.ID, &d.DocType, &d.ExternalID, &d.CanonicalRef, &d.Title, &d.FullText,
		&d.TextHash, &d.SourceURL, &metaJSON, &d.BatchID, &d.IsActive, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &d.Meta); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func orEmptyMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
