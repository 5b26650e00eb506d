package repository

import (
	"context"

	"github.com/gestlog/logistica-api/internal/domain/entity"
)

// ContingencyQueueRepository cola FIFO de documentos pendientes de entrega a
// SIFEN durante el modo contingencia. Se drena en orden de llegada.
type ContingencyQueueRepository interface {
	Enqueue(ctx context.Context, item *entity.ContingencyItem) error
	// ListPending retorna hasta limit elementos no entregados, en orden de llegada.
	ListPending(ctx context.Context, limit int) ([]*entity.ContingencyItem, error)
	MarkDelivered(ctx context.Context, id string) error
	// IncrementAttempts registra un reintento fallido sin sacar el elemento de la cola.
	IncrementAttempts(ctx context.Context, id string) error
}
