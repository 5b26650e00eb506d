package billing

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/gestlog/logistica-api/internal/application/dto"
	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
	"github.com/gestlog/logistica-api/internal/domain/repository"
	infrasifen "github.com/gestlog/logistica-api/internal/infrastructure/sifen"
	"github.com/gestlog/logistica-api/pkg/logger"
	pkgsifen "github.com/gestlog/logistica-api/pkg/sifen"
)

// SubmissionConfig parámetros de envío del coordinador.
type SubmissionConfig struct {
	MaxRetries         int  // reintentos de transporte por envío
	ContingencyEnabled bool // encolar localmente cuando SIFEN está inaccesible
}

// SubmissionCoordinator coordina la entrega de documentos a SIFEN: congela el
// documento, lo firma, lo envía con reintentos acotados y registra el resultado
// como intento append-only junto con la transición de estado, en una sola
// transacción.
//
// Garantías:
//   - A lo sumo un intento ACCEPTED por factura (guard atómico en el repo).
//   - Un rechazo de SIFEN nunca se reintenta automáticamente.
//   - Código y mensaje de SIFEN se conservan textuales.
//   - Un timeout deja la factura SUBMITTED: la reconciliación es vía PollStatus.
type SubmissionCoordinator struct {
	txRunner    TxRunner
	invoiceRepo repository.InvoiceRepository
	attemptRepo repository.SubmissionAttemptRepository
	builder     *infrasifen.DocumentBuilderService
	signer      pkgsifen.Signer // nil = modo simulado, el XML viaja sin firma
	credential  tls.Certificate
	authority   infrasifen.AuthorityClient
	issuer      infrasifen.IssuerParams
	cfg         SubmissionConfig
	log         *logger.Logger
}

// NewSubmissionCoordinator construye el coordinador.
func NewSubmissionCoordinator(
	txRunner TxRunner,
	invoiceRepo repository.InvoiceRepository,
	attemptRepo repository.SubmissionAttemptRepository,
	builder *infrasifen.DocumentBuilderService,
	signer pkgsifen.Signer,
	credential tls.Certificate,
	authority infrasifen.AuthorityClient,
	issuer infrasifen.IssuerParams,
	cfg SubmissionConfig,
	log *logger.Logger,
) *SubmissionCoordinator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &SubmissionCoordinator{
		txRunner:    txRunner,
		invoiceRepo: invoiceRepo,
		attemptRepo: attemptRepo,
		builder:     builder,
		signer:      signer,
		credential:  credential,
		authority:   authority,
		issuer:      issuer,
		cfg:         cfg,
		log:         log,
	}
}

// Submit envía una factura emitida por la vía síncrona.
//
// Reenviar una factura ya ACCEPTED devuelve el resultado registrado sin tocar
// la red. Con un envío pendiente (SUBMITTED) devuelve ErrPendingAuthority: el
// caller debe reconciliar con PollStatus, no reenviar a ciegas.
func (c *SubmissionCoordinator) Submit(ctx context.Context, invoiceID string) (*dto.SubmissionOutcomeResponse, error) {
	inv, err := c.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	switch inv.State {
	case entity.StateAccepted:
		return c.acceptedOutcome(ctx, inv)
	case entity.StateSubmitted:
		return nil, domain.ErrPendingAuthority
	case entity.StateIssued:
		// sigue abajo
	default:
		return nil, &domain.InvalidStateTransitionError{From: string(inv.State), To: string(entity.StateSubmitted)}
	}

	// Guard rápido antes de gastar red: el definitivo es el insert atómico.
	if accepted, err := c.attemptRepo.GetAccepted(ctx, invoiceID); err != nil {
		return nil, err
	} else if accepted != nil {
		return c.outcomeFromAttempt(inv, accepted), nil
	}

	snap, err := c.freezeAndSign(ctx, inv)
	if err != nil {
		return nil, err
	}

	// Pre-chequeo de disponibilidad: si SIFEN no responde y la contingencia
	// está habilitada, el documento se encola sin intentar el envío.
	if c.cfg.ContingencyEnabled {
		if err := c.authority.Ping(ctx); err != nil {
			var tErr *domain.TransportError
			if errors.As(err, &tErr) {
				return c.queueContingency(ctx, inv, snap)
			}
			return nil, err
		}
	}

	res, err := c.submitWithRetry(ctx, snap)
	if err != nil {
		var tErr *domain.TransportError
		if !errors.As(err, &tErr) {
			return nil, err
		}
		if tErr.Timeout {
			// Ambiguo: la petición pudo haber llegado. La factura queda
			// SUBMITTED y el intento TIMEOUT exige reconciliar por CDC.
			return c.recordTimeout(ctx, inv, snap)
		}
		if c.cfg.ContingencyEnabled {
			return c.queueContingency(ctx, inv, snap)
		}
		// La conexión nunca se estableció: la factura sigue ISSUED y puede
		// reenviarse, pero la llamada fallida queda en la pista de auditoría.
		if _, _, aerr := c.attemptRepo.CreateIfNoneAccepted(ctx, &entity.SubmissionAttempt{
			InvoiceID: inv.ID,
			Outcome:   entity.OutcomeTimeout,
		}); aerr != nil {
			c.log.Error().Err(aerr).Str("invoice_id", inv.ID).Msg("no se pudo registrar el intento fallido")
		}
		return nil, err
	}

	if !res.Resolved() {
		// Respuesta sin veredicto: misma ambigüedad que un timeout.
		return c.recordTimeout(ctx, inv, snap)
	}
	return c.applyAuthorityResult(ctx, inv, snap, res, "")
}

// PollStatus reconcilia por CDC un envío pendiente (TIMEOUT o contingencia
// drenada a medias). Si SIFEN ya resolvió, aplica el resultado; los artefactos
// de aceptación se escriben una sola vez.
func (c *SubmissionCoordinator) PollStatus(ctx context.Context, cdc string) (*dto.SubmissionOutcomeResponse, error) {
	inv, err := c.invoiceRepo.GetByCDC(ctx, cdc)
	if err != nil {
		return nil, err
	}
	if inv.State == entity.StateAccepted || inv.State == entity.StateRejected {
		return c.currentOutcome(ctx, inv)
	}
	if inv.State != entity.StateSubmitted {
		return nil, &domain.InvalidStateTransitionError{From: string(inv.State), To: string(entity.StateAccepted)}
	}

	res, err := c.authority.QueryStatus(ctx, cdc)
	if err != nil {
		return nil, err
	}
	if !res.Resolved() {
		// SIFEN aún no resuelve el documento (en procesamiento, o la consulta
		// no lo encontró): sin veredicto no hay nada que registrar y la
		// factura sigue SUBMITTED.
		c.log.Info().
			Str("invoice_id", inv.ID).
			Str("cdc", cdc).
			Str("consulta_code", res.Code).
			Msg("consulta sin veredicto: documento sigue pendiente")
		return c.pendingOutcome(inv, ""), nil
	}
	snap := &infrasifen.DocumentSnapshot{InvoiceID: inv.ID, DocumentNumber: inv.DocumentNumber(), CDC: inv.CDC, QRData: inv.QRData}
	return c.applyAuthorityResult(ctx, inv, snap, res, "")
}

// SubmitBatch envía varias facturas emitidas en un solo lote. Cada documento
// obtiene su resultado independiente: un rechazo no afecta al resto. Los
// resultados se correlacionan por CDC y se devuelven por número de documento.
func (c *SubmissionCoordinator) SubmitBatch(ctx context.Context, invoiceIDs []string) (*dto.BatchOutcomeResponse, error) {
	if len(invoiceIDs) == 0 {
		return nil, domain.NewValidationError("invoice_ids", "el lote no puede estar vacío")
	}

	type member struct {
		inv  *entity.Invoice
		snap *infrasifen.DocumentSnapshot
	}
	members := make([]member, 0, len(invoiceIDs))
	snaps := make([]*infrasifen.DocumentSnapshot, 0, len(invoiceIDs))
	// Miembros ya resueltos: su outcome registrado entra al mapa sin reenvío.
	resolved := make(map[string]*dto.SubmissionOutcomeResponse)
	for _, id := range invoiceIDs {
		inv, err := c.invoiceRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if accepted, err := c.attemptRepo.GetAccepted(ctx, id); err != nil {
			return nil, err
		} else if accepted != nil {
			resolved[inv.DocumentNumber()] = c.outcomeFromAttempt(inv, accepted)
			continue
		}
		if inv.State != entity.StateIssued {
			return nil, &domain.InvalidStateTransitionError{From: string(inv.State), To: string(entity.StateSubmitted)}
		}
		snap, err := c.freezeAndSign(ctx, inv)
		if err != nil {
			return nil, err
		}
		members = append(members, member{inv: inv, snap: snap})
		snaps = append(snaps, snap)
	}
	if len(members) == 0 {
		return &dto.BatchOutcomeResponse{Outcomes: resolved}, nil
	}

	batch, err := c.authority.SubmitBatch(ctx, snaps)
	if err != nil {
		var tErr *domain.TransportError
		if errors.As(err, &tErr) && tErr.Timeout {
			out := &dto.BatchOutcomeResponse{Outcomes: resolved}
			for _, m := range members {
				o, err := c.recordTimeout(ctx, m.inv, m.snap)
				if err != nil {
					return nil, err
				}
				out.Outcomes[m.snap.DocumentNumber] = o
			}
			return out, nil
		}
		return nil, err
	}

	out := &dto.BatchOutcomeResponse{
		BatchID:  batch.BatchID,
		Outcomes: resolved,
	}
	for _, m := range members {
		res, ok := batch.Results[m.snap.CDC]
		if !ok || !res.Resolved() {
			// SIFEN aún no resolvió este documento: queda pendiente de
			// reconciliación con PollBatch.
			o, err := c.recordTimeout(ctx, m.inv, m.snap)
			if err != nil {
				return nil, err
			}
			o.BatchID = batch.BatchID
			out.Outcomes[m.snap.DocumentNumber] = o
			continue
		}
		o, err := c.applyAuthorityResult(ctx, m.inv, m.snap, res, batch.BatchID)
		if err != nil {
			return nil, err
		}
		out.Outcomes[m.snap.DocumentNumber] = o
	}
	return out, nil
}

// PollBatch reconcilia un lote pendiente por su identificador.
func (c *SubmissionCoordinator) PollBatch(ctx context.Context, batchID string) (*dto.BatchOutcomeResponse, error) {
	batch, err := c.authority.QueryBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	out := &dto.BatchOutcomeResponse{
		BatchID:  batch.BatchID,
		Outcomes: make(map[string]*dto.SubmissionOutcomeResponse, len(batch.Results)),
	}
	for cdc, res := range batch.Results {
		inv, err := c.invoiceRepo.GetByCDC(ctx, cdc)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue // documento de otro emisor o ya depurado
			}
			return nil, err
		}
		if inv.State != entity.StateSubmitted {
			o, err := c.currentOutcome(ctx, inv)
			if err != nil {
				return nil, err
			}
			out.Outcomes[inv.DocumentNumber()] = o
			continue
		}
		if !res.Resolved() {
			out.Outcomes[inv.DocumentNumber()] = c.pendingOutcome(inv, batchID)
			continue
		}
		snap := &infrasifen.DocumentSnapshot{InvoiceID: inv.ID, DocumentNumber: inv.DocumentNumber(), CDC: inv.CDC, QRData: inv.QRData}
		o, err := c.applyAuthorityResult(ctx, inv, snap, res, batchID)
		if err != nil {
			return nil, err
		}
		out.Outcomes[inv.DocumentNumber()] = o
	}
	return out, nil
}

// ── núcleo ────────────────────────────────────────────────────────────────────

// freezeAndSign congela la factura en su representación canónica y la firma.
// Una falla de firma bloquea el envío: nada llega a la red ni cambia de estado.
func (c *SubmissionCoordinator) freezeAndSign(ctx context.Context, inv *entity.Invoice) (*infrasifen.DocumentSnapshot, error) {
	lines, err := c.invoiceRepo.GetLinesByInvoiceID(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	snap, err := c.builder.Freeze(inv, lines, c.issuer)
	if err != nil {
		return nil, err
	}
	if c.signer != nil {
		signed, err := c.signer.Sign(snap.XML, c.credential)
		if err != nil {
			return nil, err
		}
		snap.XML = signed
	}
	return snap, nil
}

// submitWithRetry reintenta fallas de transporte con backoff exponencial
// acotado (500ms, 1s, 2s, ...). Un rechazo de SIFEN NO es una falla de
// transporte y jamás se reintenta.
func (c *SubmissionCoordinator) submitWithRetry(ctx context.Context, snap *infrasifen.DocumentSnapshot) (*infrasifen.SubmitResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &domain.TransportError{Err: ctx.Err(), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded)}
			}
			c.log.Warn().
				Str("document_number", snap.DocumentNumber).
				Int("retry", attempt).
				Msg("reintentando envío a SIFEN")
		}
		res, err := c.authority.Submit(ctx, snap)
		if err == nil {
			return res, nil
		}
		var tErr *domain.TransportError
		if !errors.As(err, &tErr) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// applyAuthorityResult registra el veredicto de SIFEN: intento append-only y
// transición de estado en una sola transacción. Los artefactos de aceptación
// (código, mensaje, AcceptedAt) se escriben exactamente una vez.
func (c *SubmissionCoordinator) applyAuthorityResult(ctx context.Context, inv *entity.Invoice, snap *infrasifen.DocumentSnapshot, res *infrasifen.SubmitResult, batchID string) (*dto.SubmissionOutcomeResponse, error) {
	// Un rechazo siempre lleva código de SIFEN; sin él no hay veredicto que
	// registrar.
	if !res.Resolved() {
		return nil, fmt.Errorf("resultado de SIFEN sin veredicto para %s", snap.DocumentNumber)
	}
	outcome := entity.OutcomeRejected
	if res.Accepted {
		outcome = entity.OutcomeAccepted
	}

	var existing *entity.SubmissionAttempt
	err := c.txRunner.RunBilling(ctx, func(
		invoices repository.InvoiceRepository,
		attempts repository.SubmissionAttemptRepository,
		_ repository.ContingencyQueueRepository,
	) error {
		created, accepted, err := attempts.CreateIfNoneAccepted(ctx, &entity.SubmissionAttempt{
			InvoiceID:        inv.ID,
			Outcome:          outcome,
			AuthorityCode:    res.Code,
			AuthorityMessage: res.Message,
			BatchID:          batchID,
		})
		if err != nil {
			return err
		}
		if !created {
			existing = accepted
			return nil
		}

		now := time.Now().UTC()
		if inv.State == entity.StateIssued {
			if err := inv.TransitionTo(entity.StateSubmitted); err != nil {
				return err
			}
			inv.SubmittedAt = &now
		}
		inv.CDC = snap.CDC
		inv.QRData = snap.QRData

		if res.Accepted {
			if err := inv.TransitionTo(entity.StateAccepted); err != nil {
				return err
			}
			inv.AuthorityCode = res.Code
			inv.AuthorityMessage = res.Message
			inv.AcceptedAt = &now
			// Una factura contado aceptada queda saldada en el acto.
			if inv.Kind == entity.KindCash {
				inv.PaymentState = entity.PaymentPaid
			}
		} else {
			if err := inv.TransitionTo(entity.StateRejected); err != nil {
				return err
			}
			inv.AuthorityCode = res.Code
			inv.AuthorityMessage = res.Message
		}
		return invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Guard disparado: otro envío concurrente ya logró la aceptación.
		fresh, err := c.invoiceRepo.GetByID(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		return c.outcomeFromAttempt(fresh, existing), nil
	}

	evt := c.log.Info()
	if !res.Accepted {
		evt = c.log.Warn()
	}
	evt.Str("invoice_id", inv.ID).
		Str("document_number", snap.DocumentNumber).
		Str("outcome", string(outcome)).
		Str("authority_code", res.Code).
		Msg("respuesta de SIFEN aplicada")

	return &dto.SubmissionOutcomeResponse{
		InvoiceID:        inv.ID,
		DocumentNumber:   snap.DocumentNumber,
		State:            string(inv.State),
		Outcome:          string(outcome),
		CDC:              inv.CDC,
		AuthorityCode:    res.Code,
		AuthorityMessage: res.Message,
		BatchID:          batchID,
	}, nil
}

// recordTimeout deja la factura SUBMITTED con un intento TIMEOUT. No se asume
// éxito ni falla: la petición pudo haber llegado a SIFEN.
func (c *SubmissionCoordinator) recordTimeout(ctx context.Context, inv *entity.Invoice, snap *infrasifen.DocumentSnapshot) (*dto.SubmissionOutcomeResponse, error) {
	err := c.txRunner.RunBilling(ctx, func(
		invoices repository.InvoiceRepository,
		attempts repository.SubmissionAttemptRepository,
		_ repository.ContingencyQueueRepository,
	) error {
		created, _, err := attempts.CreateIfNoneAccepted(ctx, &entity.SubmissionAttempt{
			InvoiceID: inv.ID,
			Outcome:   entity.OutcomeTimeout,
		})
		if err != nil || !created {
			return err
		}
		if inv.State == entity.StateIssued {
			if err := inv.TransitionTo(entity.StateSubmitted); err != nil {
				return err
			}
			now := time.Now().UTC()
			inv.SubmittedAt = &now
		}
		inv.CDC = snap.CDC
		inv.QRData = snap.QRData
		return invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	c.log.Warn().
		Str("invoice_id", inv.ID).
		Str("document_number", snap.DocumentNumber).
		Str("cdc", snap.CDC).
		Msg("timeout hablando con SIFEN: factura pendiente de reconciliación")

	return &dto.SubmissionOutcomeResponse{
		InvoiceID:      inv.ID,
		DocumentNumber: snap.DocumentNumber,
		State:          string(inv.State),
		Outcome:        string(entity.OutcomeTimeout),
		CDC:            inv.CDC,
	}, nil
}

// queueContingency encola el documento firmado para entrega diferida. El CDC ya
// existe: el documento puede entregarse a la contraparte de inmediato y la
// confirmación de SIFEN llega cuando el drenador procese la cola.
func (c *SubmissionCoordinator) queueContingency(ctx context.Context, inv *entity.Invoice, snap *infrasifen.DocumentSnapshot) (*dto.SubmissionOutcomeResponse, error) {
	err := c.txRunner.RunBilling(ctx, func(
		invoices repository.InvoiceRepository,
		attempts repository.SubmissionAttemptRepository,
		queue repository.ContingencyQueueRepository,
	) error {
		created, _, err := attempts.CreateIfNoneAccepted(ctx, &entity.SubmissionAttempt{
			InvoiceID: inv.ID,
			Outcome:   entity.OutcomeContingencyQueued,
		})
		if err != nil || !created {
			return err
		}
		if err := queue.Enqueue(ctx, &entity.ContingencyItem{
			InvoiceID:      inv.ID,
			DocumentNumber: snap.DocumentNumber,
			CDC:            snap.CDC,
			Filename:       snap.Filename,
			XML:            snap.XML,
		}); err != nil && !errors.Is(err, domain.ErrDuplicate) {
			return err
		}
		if inv.State == entity.StateIssued {
			if err := inv.TransitionTo(entity.StateSubmitted); err != nil {
				return err
			}
			now := time.Now().UTC()
			inv.SubmittedAt = &now
		}
		inv.CDC = snap.CDC
		inv.QRData = snap.QRData
		return invoices.Update(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	c.log.Warn().
		Str("invoice_id", inv.ID).
		Str("document_number", snap.DocumentNumber).
		Msg("SIFEN inaccesible: documento encolado en contingencia")

	return &dto.SubmissionOutcomeResponse{
		InvoiceID:      inv.ID,
		DocumentNumber: snap.DocumentNumber,
		State:          string(inv.State),
		Outcome:        string(entity.OutcomeContingencyQueued),
		CDC:            inv.CDC,
	}, nil
}

// pendingOutcome respuesta para un documento que SIFEN aún no resuelve: la
// factura sigue SUBMITTED y el resultado queda pendiente de reconciliación.
func (c *SubmissionCoordinator) pendingOutcome(inv *entity.Invoice, batchID string) *dto.SubmissionOutcomeResponse {
	return &dto.SubmissionOutcomeResponse{
		InvoiceID:      inv.ID,
		DocumentNumber: inv.DocumentNumber(),
		State:          string(inv.State),
		Outcome:        string(entity.OutcomeTimeout),
		CDC:            inv.CDC,
		BatchID:        batchID,
	}
}

// ── lecturas de resultado ─────────────────────────────────────────────────────

func (c *SubmissionCoordinator) acceptedOutcome(ctx context.Context, inv *entity.Invoice) (*dto.SubmissionOutcomeResponse, error) {
	accepted, err := c.attemptRepo.GetAccepted(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	if accepted == nil {
		// Estado ACCEPTED sin intento registrado no debería existir; se
		// responde con lo persistido en la factura.
		return &dto.SubmissionOutcomeResponse{
			InvoiceID:        inv.ID,
			DocumentNumber:   inv.DocumentNumber(),
			State:            string(inv.State),
			Outcome:          string(entity.OutcomeAccepted),
			CDC:              inv.CDC,
			AuthorityCode:    inv.AuthorityCode,
			AuthorityMessage: inv.AuthorityMessage,
		}, nil
	}
	return c.outcomeFromAttempt(inv, accepted), nil
}

func (c *SubmissionCoordinator) currentOutcome(ctx context.Context, inv *entity.Invoice) (*dto.SubmissionOutcomeResponse, error) {
	if inv.State == entity.StateAccepted {
		return c.acceptedOutcome(ctx, inv)
	}
	outcome := entity.OutcomeRejected
	return &dto.SubmissionOutcomeResponse{
		InvoiceID:        inv.ID,
		DocumentNumber:   inv.DocumentNumber(),
		State:            string(inv.State),
		Outcome:          string(outcome),
		CDC:              inv.CDC,
		AuthorityCode:    inv.AuthorityCode,
		AuthorityMessage: inv.AuthorityMessage,
	}, nil
}

func (c *SubmissionCoordinator) outcomeFromAttempt(inv *entity.Invoice, att *entity.SubmissionAttempt) *dto.SubmissionOutcomeResponse {
	return &dto.SubmissionOutcomeResponse{
		InvoiceID:        inv.ID,
		DocumentNumber:   inv.DocumentNumber(),
		State:            string(inv.State),
		Outcome:          string(att.Outcome),
		CDC:              inv.CDC,
		AuthorityCode:    att.AuthorityCode,
		AuthorityMessage: att.AuthorityMessage,
		BatchID:          att.BatchID,
	}
}
