package repository

import (
	"context"

	"github.com/gestlog/logistica-api/internal/domain/entity"
)

// InvoiceRepository persistencia de cabeceras y líneas de factura.
// Una factura que salió de DRAFT nunca se borra físicamente: la anulación es
// un estado terminal, no un DELETE.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *entity.Invoice) error
	Update(ctx context.Context, inv *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	GetByCDC(ctx context.Context, cdc string) (*entity.Invoice, error)

	CreateLine(ctx context.Context, line *entity.InvoiceLine) error
	// ReplaceLines borra y reinserta las líneas de la factura (edición en DRAFT).
	ReplaceLines(ctx context.Context, invoiceID string, lines []*entity.InvoiceLine) error
	GetLinesByInvoiceID(ctx context.Context, invoiceID string) ([]*entity.InvoiceLine, error)

	// NextNumber asigna el siguiente secuencial de la serie (establecimiento,
	// punto de expedición) de forma atómica. El número se consume al emitir.
	NextNumber(ctx context.Context, establecimiento, puntoExpedicion string) (int64, error)
}
