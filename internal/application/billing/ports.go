// Package billing contiene los casos de uso del ciclo de vida de facturas y
// la coordinación del envío fiscal a SIFEN.
package billing

import (
	"context"

	"github.com/gestlog/logistica-api/internal/domain/repository"
)

// TxRunner ejecuta un callback con repos atados a una misma transacción.
// Las escrituras acopladas del coordinador (estado de la factura + intento +
// cola de contingencia) se confirman o descartan juntas.
type TxRunner interface {
	RunBilling(ctx context.Context, fn func(
		invoices repository.InvoiceRepository,
		attempts repository.SubmissionAttemptRepository,
		queue repository.ContingencyQueueRepository,
	) error) error
}
