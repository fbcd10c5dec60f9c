package cases

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/findandseek/internal/database/postgres"
	"github.com/kozaktomas/findandseek/internal/descriptor"
)

// PostgresStore persists cases in the cases and case_searches tables.
// Reference and timeline are JSONB columns of the case row.
type PostgresStore struct {
	mutations
	pool *postgres.Pool
}

func NewPostgresStore(pool *postgres.Pool) *PostgresStore {
	s := &PostgresStore{pool: pool}
	s.mutations = mutations{update: s.update, now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }}
	return s
}

const caseColumns = `id, missing_person_name, missing_person_age, missing_person_description,
	description, last_location, contact_info, status, reference, timeline, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, details Details) (*Case, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}

	c := newCase(uuid.NewString(), details, s.now())
	timeline, err := json.Marshal(c.Timeline)
	if err != nil {
		return nil, fmt.Errorf("marshal timeline: %w", err)
	}

	query := `
		INSERT INTO cases (` + caseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9, $10, $11)
	`
	_, err = s.pool.Exec(ctx, query,
		c.ID, c.MissingPersonName, c.MissingPersonAge, c.MissingPersonDescription,
		c.Description, c.LastLocation, c.ContactInfo, c.Status, string(timeline), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	return c, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*Case, error) {
	var (
		c         Case
		status    string
		reference []byte
		timeline  []byte
	)
	err := row.Scan(
		&c.ID, &c.MissingPersonName, &c.MissingPersonAge, &c.MissingPersonDescription,
		&c.Description, &c.LastLocation, &c.ContactInfo, &status, &reference, &timeline,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)

	if len(reference) > 0 {
		var ref descriptor.PersonDescriptor
		if err := json.Unmarshal(reference, &ref); err != nil {
			return nil, fmt.Errorf("unmarshal reference of case %s: %w", c.ID, err)
		}
		c.Reference = &ref
	}
	if err := json.Unmarshal(timeline, &c.Timeline); err != nil {
		return nil, fmt.Errorf("unmarshal timeline of case %s: %w", c.ID, err)
	}
	c.Searches = []SearchRecord{}
	return &c, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Case, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	c, err := scanCase(s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}

	if err := s.loadSearches(ctx, s.pool.DB(), c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	out := []*Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}

	for _, c := range out {
		if err := s.loadSearches(ctx, s.pool.DB(), c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) loadSearches(ctx context.Context, q querier, c *Case) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, request_id, method, status, detected_count, match_count, top_score, matches, created_at
		FROM case_searches
		WHERE case_id = $1
		ORDER BY created_at, id
	`, c.ID)
	if err != nil {
		return fmt.Errorf("query searches of case %s: %w", c.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec     SearchRecord
			matches []byte
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Method, &rec.Status, &rec.DetectedCount,
			&rec.MatchCount, &rec.TopScore, &matches, &rec.CreatedAt); err != nil {
			return fmt.Errorf("scan search: %w", err)
		}
		if err := json.Unmarshal(matches, &rec.Matches); err != nil {
			return fmt.Errorf("unmarshal matches of search %s: %w", rec.ID, err)
		}
		c.Searches = append(c.Searches, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate searches: %w", err)
	}
	return nil
}

// update locks the case row for the duration of fn. Searches are append-only,
// so new records are inserted and existing ones left alone.
func (s *PostgresStore) update(ctx context.Context, id string, fn func(*Case) error) (*Case, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var updated *Case
	err := s.pool.InTx(ctx, func(tx *sql.Tx) error {
		c, err := scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get case: %w", err)
		}
		if err := s.loadSearches(ctx, tx, c); err != nil {
			return err
		}
		known := len(c.Searches)

		if err := fn(c); err != nil {
			return err
		}

		var reference any
		if c.Reference != nil {
			data, err := json.Marshal(c.Reference)
			if err != nil {
				return fmt.Errorf("marshal reference: %w", err)
			}
			reference = string(data)
		}
		timeline, err := json.Marshal(c.Timeline)
		if err != nil {
			return fmt.Errorf("marshal timeline: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE cases SET status = $2, reference = $3, timeline = $4, updated_at = $5
			WHERE id = $1
		`, c.ID, c.Status, reference, string(timeline), c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update case: %w", err)
		}

		for _, rec := range c.Searches[known:] {
			if err := insertSearch(ctx, tx, c.ID, rec); err != nil {
				return err
			}
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func insertSearch(ctx context.Context, tx *sql.Tx, caseID string, rec SearchRecord) error {
	matches, err := json.Marshal(rec.Matches)
	if err != nil {
		return fmt.Errorf("marshal matches: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO case_searches (id, case_id, request_id, method, status, detected_count, match_count, top_score, matches, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, caseID, rec.RequestID, rec.Method, rec.Status, rec.DetectedCount, rec.MatchCount, rec.TopScore, string(matches), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert search %s: %w", rec.ID, err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	return s.pool.Close()
}
