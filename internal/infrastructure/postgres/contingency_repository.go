package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
	"github.com/gestlog/logistica-api/internal/domain/repository"
)

var _ repository.ContingencyQueueRepository = (*ContingencyQueueRepo)(nil)

// ContingencyQueueRepo cola FIFO de documentos pendientes sobre PostgreSQL.
type ContingencyQueueRepo struct {
	q Querier
}

// NewContingencyQueueRepository construye el adaptador. Pasar pool o tx (Querier).
func NewContingencyQueueRepository(q Querier) *ContingencyQueueRepo {
	return &ContingencyQueueRepo{q: q}
}

// Enqueue agrega un documento firmado a la cola. Un documento solo se encola
// una vez por factura pendiente (unique sobre invoice_id, delivered = false).
func (r *ContingencyQueueRepo) Enqueue(ctx context.Context, item *entity.ContingencyItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO contingency_queue (id, invoice_id, document_number, cdc, filename, xml, attempts, delivered, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`
	_, err := r.q.Exec(ctx, query,
		item.ID, item.InvoiceID, item.DocumentNumber, item.CDC, item.Filename,
		item.XML, item.Attempts, item.EnqueuedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("enqueue contingency item: %w", err)
	}
	return nil
}

// ListPending retorna hasta limit elementos no entregados, en orden de llegada.
func (r *ContingencyQueueRepo) ListPending(ctx context.Context, limit int) ([]*entity.ContingencyItem, error) {
	query := `
		SELECT id, invoice_id, document_number, cdc, filename, xml, attempts, delivered, enqueued_at, delivered_at
		FROM contingency_queue
		WHERE delivered = false
		ORDER BY enqueued_at
		LIMIT $1`
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list contingency queue: %w", err)
	}
	defer rows.Close()

	var list []*entity.ContingencyItem
	for rows.Next() {
		var item entity.ContingencyItem
		if err := rows.Scan(
			&item.ID, &item.InvoiceID, &item.DocumentNumber, &item.CDC, &item.Filename,
			&item.XML, &item.Attempts, &item.Delivered, &item.EnqueuedAt, &item.DeliveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan contingency item: %w", err)
		}
		list = append(list, &item)
	}
	return list, rows.Err()
}

// MarkDelivered saca el elemento de la cola marcándolo entregado.
func (r *ContingencyQueueRepo) MarkDelivered(ctx context.Context, id string) error {
	query := `UPDATE contingency_queue SET delivered = true, delivered_at = $2 WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark contingency delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementAttempts registra un reintento fallido sin sacar el elemento de la cola.
func (r *ContingencyQueueRepo) IncrementAttempts(ctx context.Context, id string) error {
	query := `UPDATE contingency_queue SET attempts = attempts + 1 WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment contingency attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
