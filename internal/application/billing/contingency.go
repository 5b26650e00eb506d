package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
	"github.com/gestlog/logistica-api/internal/domain/repository"
	infrasifen "github.com/gestlog/logistica-api/internal/infrastructure/sifen"
	"github.com/gestlog/logistica-api/pkg/logger"
)

// drainBatchSize máximo de documentos procesados por pasada del drenador.
const drainBatchSize = 50

// ContingencyDrainer entrega en orden de llegada los documentos encolados
// mientras SIFEN estuvo inaccesible. Corre periódicamente en su propia
// goroutine; cada pasada se detiene al primer error de transporte (si SIFEN
// sigue caído no tiene sentido quemar el resto de la cola).
type ContingencyDrainer struct {
	queueRepo   repository.ContingencyQueueRepository
	invoiceRepo repository.InvoiceRepository
	coordinator *SubmissionCoordinator
	authority   infrasifen.AuthorityClient
	log         *logger.Logger
}

// NewContingencyDrainer construye el drenador.
func NewContingencyDrainer(
	queueRepo repository.ContingencyQueueRepository,
	invoiceRepo repository.InvoiceRepository,
	coordinator *SubmissionCoordinator,
	authority infrasifen.AuthorityClient,
	log *logger.Logger,
) *ContingencyDrainer {
	return &ContingencyDrainer{
		queueRepo:   queueRepo,
		invoiceRepo: invoiceRepo,
		coordinator: coordinator,
		authority:   authority,
		log:         log,
	}
}

// RunPeriodic drena la cola cada interval hasta que el contexto se cancele.
func (d *ContingencyDrainer) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.Drain(ctx); err != nil {
				d.log.Warn().Err(err).Msg("drenado de contingencia interrumpido")
			} else if n > 0 {
				d.log.Info().Int("delivered", n).Msg("cola de contingencia drenada")
			}
		}
	}
}

// Drain procesa la cola FIFO una vez. Retorna cuántos documentos se entregaron.
func (d *ContingencyDrainer) Drain(ctx context.Context) (int, error) {
	items, err := d.queueRepo.ListPending(ctx, drainBatchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, item := range items {
		inv, err := d.invoiceRepo.GetByID(ctx, item.InvoiceID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				_ = d.queueRepo.MarkDelivered(ctx, item.ID)
				continue
			}
			return delivered, err
		}
		// Resuelto por otra vía (poll manual, reenvío): sacar de la cola.
		if inv.State != entity.StateSubmitted {
			if err := d.queueRepo.MarkDelivered(ctx, item.ID); err != nil {
				return delivered, err
			}
			continue
		}

		snap := &infrasifen.DocumentSnapshot{
			InvoiceID:      item.InvoiceID,
			DocumentNumber: item.DocumentNumber,
			CDC:            item.CDC,
			QRData:         inv.QRData,
			Filename:       item.Filename,
			XML:            item.XML,
		}
		res, err := d.authority.Submit(ctx, snap)
		if err != nil {
			var tErr *domain.TransportError
			if errors.As(err, &tErr) {
				// SIFEN sigue inaccesible: registrar el reintento y esperar
				// la próxima pasada.
				_ = d.queueRepo.IncrementAttempts(ctx, item.ID)
				return delivered, err
			}
			return delivered, err
		}

		if !res.Resolved() {
			// Entregado pero sin veredicto: el documento queda en la cola y se
			// reconsulta en la próxima pasada.
			_ = d.queueRepo.IncrementAttempts(ctx, item.ID)
			continue
		}
		if _, err := d.coordinator.applyAuthorityResult(ctx, inv, snap, res, ""); err != nil {
			return delivered, err
		}
		if err := d.queueRepo.MarkDelivered(ctx, item.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
