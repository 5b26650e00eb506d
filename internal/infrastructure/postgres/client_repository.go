package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
	"github.com/gestlog/logistica-api/internal/domain/repository"
)

var _ repository.ClientRepository = (*ClientRepo)(nil)
var _ repository.OrderRepository = (*OrderRepo)(nil)

// ClientRepo lectura del registro de clientes. El núcleo de facturación nunca
// escribe acá: la tabla la administra otro sistema.
type ClientRepo struct {
	q Querier
}

// NewClientRepository construye el adaptador. Pasar pool o tx (Querier).
func NewClientRepository(q Querier) *ClientRepo {
	return &ClientRepo{q: q}
}

// GetByID obtiene la identidad de facturación de un cliente.
func (r *ClientRepo) GetByID(ctx context.Context, id string) (*entity.Client, error) {
	query := `SELECT id, name, ruc, address, email, created_at, updated_at FROM clients WHERE id = $1`
	var c entity.Client
	var address, email *string
	err := r.q.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.RUC, &address, &email, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	c.Address = derefStr(address)
	c.Email = derefStr(email)
	return &c, nil
}

// OrderRepo lectura del sistema de pedidos, solo para validar la referencia
// opcional de la factura al pedido de origen.
type OrderRepo struct {
	q Querier
}

// NewOrderRepository construye el adaptador. Pasar pool o tx (Querier).
func NewOrderRepository(q Querier) *OrderRepo {
	return &OrderRepo{q: q}
}

// GetByID obtiene el pedido referenciado.
func (r *OrderRepo) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	query := `SELECT id, number, client_id, created_at FROM orders WHERE id = $1`
	var o entity.Order
	err := r.q.QueryRow(ctx, query, id).Scan(&o.ID, &o.Number, &o.ClientID, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}
