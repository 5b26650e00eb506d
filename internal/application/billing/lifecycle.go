package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gestlog/logistica-api/internal/application/dto"
	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
	"github.com/gestlog/logistica-api/internal/domain/fiscal"
	"github.com/gestlog/logistica-api/internal/domain/repository"
	"github.com/gestlog/logistica-api/pkg/logger"
	pkgsifen "github.com/gestlog/logistica-api/pkg/sifen"
)

// SeriesConfig serie fiscal autorizada bajo la que emite esta instancia.
type SeriesConfig struct {
	Establecimiento string
	PuntoExpedicion string
	Timbrado        string
}

// LifecycleUseCase transiciones locales del ciclo de vida: emitir, anular,
// enmendar y registrar pagos. Las transiciones que decide SIFEN
// (SUBMITTED→ACCEPTED/REJECTED) viven en el coordinador de envío.
type LifecycleUseCase struct {
	invoiceRepo repository.InvoiceRepository
	clientRepo  repository.ClientRepository
	attemptRepo repository.SubmissionAttemptRepository
	series      SeriesConfig
	log         *logger.Logger
}

// NewLifecycleUseCase construye el caso de uso.
func NewLifecycleUseCase(
	invoiceRepo repository.InvoiceRepository,
	clientRepo repository.ClientRepository,
	attemptRepo repository.SubmissionAttemptRepository,
	series SeriesConfig,
	log *logger.Logger,
) *LifecycleUseCase {
	return &LifecycleUseCase{
		invoiceRepo: invoiceRepo,
		clientRepo:  clientRepo,
		attemptRepo: attemptRepo,
		series:      series,
		log:         log,
	}
}

// Issue emite la factura: congela totales, copia la identidad del cliente y
// consume el siguiente número de la serie. El número se asigna recién acá, no
// al crear el DRAFT: un borrador descartado no deja hueco en la numeración.
func (uc *LifecycleUseCase) Issue(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := uc.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inv.CanTransitionTo(entity.StateIssued) {
		return nil, &domain.InvalidStateTransitionError{From: string(inv.State), To: string(entity.StateIssued)}
	}

	lines, err := uc.invoiceRepo.GetLinesByInvoiceID(ctx, id)
	if err != nil {
		return nil, err
	}
	totals, err := fiscal.ComputeTotals(lines, inv.Currency)
	if err != nil {
		return nil, err
	}
	if inv.Kind == entity.KindCredit && inv.DueDate == nil {
		return nil, domain.NewValidationError("due_date", "una factura a crédito requiere fecha de vencimiento")
	}

	// Identidad del cliente al momento de emitir; ediciones posteriores del
	// registro no alteran el documento.
	client, err := uc.clientRepo.GetByID(ctx, inv.ClientID)
	if err != nil {
		return nil, err
	}
	if err := pkgsifen.ValidateRUCVerificationDigit(client.RUC); err != nil {
		return nil, domain.NewValidationError("client_ruc", err.Error())
	}

	applyTotals(inv, totals)
	inv.ClientName = client.Name
	inv.ClientRUC = client.RUC

	// El número se conserva si ya fue asignado (re-emisión tras enmienda):
	// los números de la serie nunca se reusan ni se devuelven.
	if inv.Numero == 0 {
		n, err := uc.invoiceRepo.NextNumber(ctx, uc.series.Establecimiento, uc.series.PuntoExpedicion)
		if err != nil {
			return nil, err
		}
		inv.Numero = n
		inv.Establecimiento = uc.series.Establecimiento
		inv.PuntoExpedicion = uc.series.PuntoExpedicion
		inv.Timbrado = uc.series.Timbrado
	}

	now := time.Now().UTC()
	inv.IssueDate = now
	if inv.Kind == entity.KindCredit {
		inv.OutstandingBalance = inv.GrandTotal
	} else {
		inv.OutstandingBalance = decimal.Zero
	}
	if err := inv.TransitionTo(entity.StateIssued); err != nil {
		return nil, err
	}
	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}

	uc.log.Info().
		Str("invoice_id", inv.ID).
		Str("document_number", inv.DocumentNumber()).
		Str("grand_total", inv.GrandTotal.String()).
		Msg("factura emitida")
	return toInvoiceResponse(inv, lines), nil
}

// Cancel anula la factura. Con un envío pendiente (SUBMITTED) no se puede
// anular: primero hay que reconciliar con SIFEN. Tras ACCEPTED la anulación
// solo marca: el documento y sus artefactos fiscales se conservan.
func (uc *LifecycleUseCase) Cancel(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := uc.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := inv.TransitionTo(entity.StateCancelled); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	inv.CancelledAt = &now
	inv.UpdatedAt = now
	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}
	lines, err := uc.invoiceRepo.GetLinesByInvoiceID(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.log.Info().Str("invoice_id", inv.ID).Msg("factura anulada")
	return toInvoiceResponse(inv, lines), nil
}

// AmendToDraft regresa una factura REJECTED a DRAFT para corregirla y
// reemitirla. Exige que no exista ningún intento ACCEPTED y limpia los
// artefactos fiscales del intento rechazado (CDC, QR, respuesta de SIFEN).
func (uc *LifecycleUseCase) AmendToDraft(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := uc.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if accepted, err := uc.attemptRepo.GetAccepted(ctx, id); err != nil {
		return nil, err
	} else if accepted != nil {
		return nil, domain.ErrInvoiceLocked
	}
	if err := inv.TransitionTo(entity.StateDraft); err != nil {
		return nil, err
	}
	inv.ClearFiscalArtifacts()
	inv.UpdatedAt = time.Now().UTC()
	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}
	lines, err := uc.invoiceRepo.GetLinesByInvoiceID(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.log.Info().Str("invoice_id", inv.ID).Msg("factura rechazada enmendada a DRAFT")
	return toInvoiceResponse(inv, lines), nil
}

// RegisterPayment registra un pago parcial o total sobre el saldo pendiente.
// El eje de pago es ortogonal al fiscal: pagar no toca el estado del documento.
func (uc *LifecycleUseCase) RegisterPayment(ctx context.Context, id string, in dto.RegisterPaymentRequest) (*dto.InvoiceResponse, error) {
	inv, err := uc.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.State == entity.StateDraft || inv.State == entity.StateCancelled {
		return nil, domain.NewValidationError("state", "solo se registran pagos sobre facturas emitidas")
	}
	if inv.Kind != entity.KindCredit {
		return nil, domain.NewValidationError("kind", "una factura contado no lleva pagos diferidos")
	}
	if !in.Amount.GreaterThan(decimal.Zero) {
		return nil, domain.NewValidationError("amount", "el monto debe ser mayor que cero")
	}
	if in.Amount.GreaterThan(inv.OutstandingBalance) {
		return nil, domain.NewValidationError("amount", "el monto excede el saldo pendiente")
	}

	inv.OutstandingBalance = inv.OutstandingBalance.Sub(in.Amount)
	if inv.OutstandingBalance.IsZero() {
		inv.PaymentState = entity.PaymentPaid
	} else {
		inv.PaymentState = entity.PaymentPartial
		inv.RefreshPaymentState(time.Now().UTC())
	}
	inv.UpdatedAt = time.Now().UTC()
	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}
	lines, err := uc.invoiceRepo.GetLinesByInvoiceID(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.log.Info().
		Str("invoice_id", inv.ID).
		Str("amount", in.Amount.String()).
		Str("payment_state", string(inv.PaymentState)).
		Msg("pago registrado")
	return toInvoiceResponse(inv, lines), nil
}
