package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cellbox-dev/cellbox/internal/domain"
	"github.com/cellbox-dev/cellbox/internal/domain/cell"
	"github.com/cellbox-dev/cellbox/internal/domain/session"
)

// --- Provisioning steps ---

func (s *Store) AppendStep(ctx context.Context, step *cell.Step) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	meta := step.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provision_steps (id, run_id, cell_id, name, status, error, started_at, duration_ns, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		step.ID, step.RunID, step.CellID, step.Name, step.Status, step.Error,
		step.StartedAt, step.Duration.Nanoseconds(), meta)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

func (s *Store) ListSteps(ctx context.Context, cellID, runID string) ([]cell.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, cell_id, name, status, error, started_at, duration_ns, metadata
		 FROM provision_steps WHERE cell_id = $1 AND run_id = $2 ORDER BY started_at`,
		cellID, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []cell.Step
	for rows.Next() {
		var st cell.Step
		var durationNS int64
		if err := rows.Scan(&st.ID, &st.RunID, &st.CellID, &st.Name, &st.Status, &st.Error,
			&st.StartedAt, &durationNS, &st.Metadata); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Duration = time.Duration(durationNS)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// --- Sessions ---

func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, cell_id, status, error, created_at FROM agent_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) GetSessionByCell(ctx context.Context, cellID string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, cell_id, status, error, created_at FROM agent_sessions WHERE cell_id = $1`, cellID)
	return scanSession(row)
}

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) (*session.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = session.StatusStarting
	}
	sess.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_sessions (id, cell_id, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.CellID, sess.Status, sess.Error, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status session.Status, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_sessions SET status = $2, error = $3 WHERE id = $1`, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agent_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var sess session.Session
	err := row.Scan(&sess.ID, &sess.CellID, &sess.Status, &sess.Error, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}
