package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cellbox-dev/cellbox/internal/domain"
	"github.com/cellbox-dev/cellbox/internal/domain/cell"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Cells ---

const cellColumns = `id, name, template_id, workspace_path, status, last_setup_error, created_at, updated_at`

func (s *Store) ListCells(ctx context.Context) ([]cell.Cell, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cellColumns+` FROM cells ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()

	var cells []cell.Cell
	for rows.Next() {
		c, err := scanCell(rows)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

func (s *Store) GetCell(ctx context.Context, id string) (*cell.Cell, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cellColumns+` FROM cells WHERE id = $1`, id)
	c, err := scanCell(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCell(ctx context.Context, c *cell.Cell) (*cell.Cell, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = cell.StatusPending
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO cells (id, name, template_id, workspace_path, status, last_setup_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.TemplateID, c.WorkspacePath, c.Status, c.LastSetupError, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create cell: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateCellStatus(ctx context.Context, id string, status cell.Status, setupError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cells SET status = $2, last_setup_error = $3, updated_at = now() WHERE id = $1`,
		id, status, setupError)
	if err != nil {
		return fmt.Errorf("update cell status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCell(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cells WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cell: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// --- Services ---

func (s *Store) ListServices(ctx context.Context, cellID string) ([]cell.ServiceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, cell_id, name, kind, pid, port, status
		 FROM cell_services WHERE cell_id = $1 ORDER BY name`, cellID)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var recs []cell.ServiceRecord
	for rows.Next() {
		var r cell.ServiceRecord
		var port int
		if err := rows.Scan(&r.ID, &r.CellID, &r.Name, &r.Kind, &r.PID, &port, &r.Status); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		r.Port = uint16(port)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *Store) UpsertService(ctx context.Context, rec *cell.ServiceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cell_services (id, cell_id, name, kind, pid, port, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET pid = EXCLUDED.pid, port = EXCLUDED.port, status = EXCLUDED.status`,
		rec.ID, rec.CellID, rec.Name, rec.Kind, rec.PID, int(rec.Port), rec.Status)
	if err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}
	return nil
}

func (s *Store) UpdateServiceStatus(ctx context.Context, id string, status cell.ServiceStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cell_services SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update service status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateServiceRuntime(ctx context.Context, id string, pid int, port uint16) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cell_services SET pid = $2, port = $3 WHERE id = $1`, id, pid, int(port))
	if err != nil {
		return fmt.Errorf("update service runtime: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteServices(ctx context.Context, cellID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cell_services WHERE cell_id = $1`, cellID)
	if err != nil {
		return fmt.Errorf("delete services: %w", err)
	}
	return nil
}

// scanCell reads one cell row from either a Row or Rows.
func scanCell(row pgx.Row) (cell.Cell, error) {
	var c cell.Cell
	err := row.Scan(&c.ID, &c.Name, &c.TemplateID, &c.WorkspacePath, &c.Status, &c.LastSetupError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return cell.Cell{}, fmt.Errorf("scan cell: %w", err)
	}
	return c, nil
}
