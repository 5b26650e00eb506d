package repository

import (
	"context"

	"github.com/gestlog/logistica-api/internal/domain/entity"
)

// SubmissionAttemptRepository registro append-only de intentos de envío a SIFEN.
type SubmissionAttemptRepository interface {
	// CreateIfNoneAccepted inserta el intento solo si la factura no tiene ya un
	// intento ACCEPTED. La verificación y la inserción son atómicas (índice
	// único parcial sobre "un ACCEPTED por factura"): dos envíos concurrentes
	// no pueden producir dos aceptaciones. Si el guard se dispara, retorna
	// created=false y el intento ACCEPTED existente.
	CreateIfNoneAccepted(ctx context.Context, attempt *entity.SubmissionAttempt) (created bool, accepted *entity.SubmissionAttempt, err error)

	// GetAccepted retorna el intento ACCEPTED de la factura, o nil si no existe.
	GetAccepted(ctx context.Context, invoiceID string) (*entity.SubmissionAttempt, error)

	ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.SubmissionAttempt, error)
}
