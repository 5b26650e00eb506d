package repository

import (
	"context"

	"github.com/gestlog/logistica-api/internal/domain/entity"
)

// ClientRepository puerto de solo lectura hacia el registro de clientes.
// La identidad de facturación se resuelve al emitir y se copia desnormalizada
// en la factura; el núcleo nunca escribe en el registro.
type ClientRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Client, error)
}

// OrderRepository puerto de solo lectura hacia el sistema de pedidos, para
// validar la referencia opcional al pedido de origen.
type OrderRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Order, error)
}
