package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gestlog/logistica-api/internal/domain/entity"
	"github.com/gestlog/logistica-api/internal/domain/repository"
)

var _ repository.SubmissionAttemptRepository = (*SubmissionAttemptRepo)(nil)

// SubmissionAttemptRepo registro append-only de intentos sobre PostgreSQL.
// El guard "a lo sumo un ACCEPTED por factura" lo respalda un índice único
// parcial: UNIQUE (invoice_id) WHERE outcome = 'ACCEPTED'.
type SubmissionAttemptRepo struct {
	q Querier
}

// NewSubmissionAttemptRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSubmissionAttemptRepository(q Querier) *SubmissionAttemptRepo {
	return &SubmissionAttemptRepo{q: q}
}

// CreateIfNoneAccepted inserta el intento solo si la factura no tiene ya un
// intento ACCEPTED. Verificación e inserción en un solo statement: dos envíos
// concurrentes no pueden producir dos aceptaciones (el índice parcial cierra
// la ventana que el WHERE NOT EXISTS deja entre transacciones).
func (r *SubmissionAttemptRepo) CreateIfNoneAccepted(ctx context.Context, attempt *entity.SubmissionAttempt) (bool, *entity.SubmissionAttempt, error) {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO submission_attempts
			(id, invoice_id, attempt_number, outcome, authority_code, authority_message, batch_id, created_at)
		SELECT $1, $2,
		       COALESCE((SELECT MAX(attempt_number) FROM submission_attempts WHERE invoice_id = $2), 0) + 1,
		       $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM submission_attempts WHERE invoice_id = $2 AND outcome = 'ACCEPTED'
		)
		RETURNING attempt_number`
	err := r.q.QueryRow(ctx, query,
		attempt.ID, attempt.InvoiceID, attempt.Outcome,
		nullIfEmpty(attempt.AuthorityCode), nullIfEmpty(attempt.AuthorityMessage), nullIfEmpty(attempt.BatchID),
		attempt.CreatedAt,
	).Scan(&attempt.Number)
	if err == nil {
		return true, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !isUniqueViolation(err) {
		return false, nil, fmt.Errorf("insert submission attempt: %w", err)
	}

	// Guard disparado: ya existe un ACCEPTED, devolverlo.
	accepted, err := r.GetAccepted(ctx, attempt.InvoiceID)
	if err != nil {
		return false, nil, err
	}
	return false, accepted, nil
}

// GetAccepted retorna el intento ACCEPTED de la factura, o nil si no existe.
func (r *SubmissionAttemptRepo) GetAccepted(ctx context.Context, invoiceID string) (*entity.SubmissionAttempt, error) {
	query := `
		SELECT id, invoice_id, attempt_number, outcome, authority_code, authority_message, batch_id, created_at
		FROM submission_attempts
		WHERE invoice_id = $1 AND outcome = 'ACCEPTED'`
	att, err := scanAttempt(r.q.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get accepted attempt: %w", err)
	}
	return att, nil
}

// ListByInvoice retorna todos los intentos de la factura en orden de creación.
func (r *SubmissionAttemptRepo) ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.SubmissionAttempt, error) {
	query := `
		SELECT id, invoice_id, attempt_number, outcome, authority_code, authority_message, batch_id, created_at
		FROM submission_attempts
		WHERE invoice_id = $1
		ORDER BY attempt_number`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list submission attempts: %w", err)
	}
	defer rows.Close()

	var list []*entity.SubmissionAttempt
	for rows.Next() {
		att, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission attempt: %w", err)
		}
		list = append(list, att)
	}
	return list, rows.Err()
}

type pgxScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row pgxScanner) (*entity.SubmissionAttempt, error) {
	var att entity.SubmissionAttempt
	var code, msg, batchID *string
	err := row.Scan(
		&att.ID, &att.InvoiceID, &att.Number, &att.Outcome,
		&code, &msg, &batchID, &att.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	att.AuthorityCode = derefStr(code)
	att.AuthorityMessage = derefStr(msg)
	att.BatchID = derefStr(batchID)
	return &att, nil
}
