// Package postgres implements the PostgreSQL persistence layer for the
// school fee ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shulehub/shule-fees-hub/internal/domain/fees"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEE TEMPLATE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// TemplateRepository implements fees.TemplateRepository for PostgreSQL.
type TemplateRepository struct {
	conn *Connection
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(conn *Connection) *TemplateRepository {
	return &TemplateRepository{conn: conn}
}

// Create stores a new template.
func (r *TemplateRepository) Create(ctx context.Context, tpl *fees.Template) error {
	query := `
		INSERT INTO fee_templates (id, name, amount, term, academic_year, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.conn.Exec(ctx, query,
		tpl.ID, tpl.Name, tpl.Amount, tpl.Term, tpl.AcademicYear, tpl.Active, tpl.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create fee template: %w", err)
	}
	return nil
}

// GetByID returns a template by ID.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*fees.Template, error) {
	query := `
		SELECT id, name, amount, term, academic_year, active, created_at
		FROM fee_templates
		WHERE id = $1
	`

	tpl := &fees.Template{}
	err := r.conn.QueryRow(ctx, query, id).Scan(
		&tpl.ID, &tpl.Name, &tpl.Amount, &tpl.Term, &tpl.AcademicYear,
		&tpl.Active, &tpl.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fee template: %w", err)
	}
	return tpl, nil
}

// List returns templates, newest first, optionally restricted to active ones.
func (r *TemplateRepository) List(ctx context.Context, onlyActive bool) ([]*fees.Template, error) {
	query := `
		SELECT id, name, amount, term, academic_year, active, created_at
		FROM fee_templates
	`
	if onlyActive {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list fee templates: %w", err)
	}
	defer rows.Close()

	var templates []*fees.Template
	for rows.Next() {
		tpl := &fees.Template{}
		err := rows.Scan(
			&tpl.ID, &tpl.Name, &tpl.Amount, &tpl.Term, &tpl.AcademicYear,
			&tpl.Active, &tpl.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fee template: %w", err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// Deactivate marks a template inactive so no new obligations reference it.
func (r *TemplateRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE fee_templates SET active = FALSE WHERE id = $1`

	tag, err := r.conn.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate fee template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrTemplateNotFound
	}
	return nil
}
