package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestlog/logistica-api/internal/application/dto"
	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
	"github.com/gestlog/logistica-api/internal/domain/fiscal"
	"github.com/gestlog/logistica-api/internal/domain/repository"
	"github.com/gestlog/logistica-api/pkg/logger"
	pkgsifen "github.com/gestlog/logistica-api/pkg/sifen"
)

// InvoiceUseCase casos de uso de creación y edición de facturas en DRAFT.
// Una factura en DRAFT reserva ID pero no consume número de la serie; se puede
// editar o descartar sin dejar hueco en la numeración legal.
type InvoiceUseCase struct {
	invoiceRepo repository.InvoiceRepository
	clientRepo  repository.ClientRepository
	orderRepo   repository.OrderRepository
	attemptRepo repository.SubmissionAttemptRepository
	log         *logger.Logger
}

// NewInvoiceUseCase construye el caso de uso.
func NewInvoiceUseCase(
	invoiceRepo repository.InvoiceRepository,
	clientRepo repository.ClientRepository,
	orderRepo repository.OrderRepository,
	attemptRepo repository.SubmissionAttemptRepository,
	log *logger.Logger,
) *InvoiceUseCase {
	return &InvoiceUseCase{
		invoiceRepo: invoiceRepo,
		clientRepo:  clientRepo,
		orderRepo:   orderRepo,
		attemptRepo: attemptRepo,
		log:         log,
	}
}

// CreateInvoice crea una factura en DRAFT. Las líneas son opcionales al crear;
// la emisión exige al menos una.
func (uc *InvoiceUseCase) CreateInvoice(ctx context.Context, in dto.CreateInvoiceRequest) (*dto.InvoiceResponse, error) {
	kind := entity.InvoiceKind(in.Kind)
	if kind != entity.KindCash && kind != entity.KindCredit {
		return nil, domain.NewValidationError("kind", "debe ser CASH o CREDIT")
	}
	currency := in.Currency
	if currency == "" {
		currency = pkgsifen.CurrencyGuarani
	}
	if !pkgsifen.ValidCurrencies[currency] {
		return nil, domain.NewValidationError("currency", "moneda no soportada: "+currency)
	}
	if in.ClientID == "" {
		return nil, domain.NewValidationError("client_id", "el cliente es obligatorio")
	}
	if _, err := uc.clientRepo.GetByID(ctx, in.ClientID); err != nil {
		return nil, err
	}
	if in.OrderID != "" {
		if _, err := uc.orderRepo.GetByID(ctx, in.OrderID); err != nil {
			return nil, err
		}
	}

	lines, err := linesFromRequest(in.Lines, currency)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inv := &entity.Invoice{
		ID:                 uuid.New().String(),
		Kind:               kind,
		Currency:           currency,
		ClientID:           in.ClientID,
		OrderID:            in.OrderID,
		State:              entity.StateDraft,
		PaymentState:       entity.PaymentPending,
		DueDate:            in.DueDate,
		Subtotal:           decimal.Zero,
		Tax5:               decimal.Zero,
		Tax10:              decimal.Zero,
		TaxTotal:           decimal.Zero,
		GrandTotal:         decimal.Zero,
		OutstandingBalance: decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if len(lines) > 0 {
		applyTotals(inv, mustTotals(lines, currency))
	}

	if err := uc.invoiceRepo.Create(ctx, inv); err != nil {
		return nil, err
	}
	for _, line := range lines {
		line.InvoiceID = inv.ID
		if err := uc.invoiceRepo.CreateLine(ctx, line); err != nil {
			return nil, err
		}
	}

	uc.log.Info().Str("invoice_id", inv.ID).Str("client_id", inv.ClientID).Msg("factura creada en DRAFT")
	return toInvoiceResponse(inv, lines), nil
}

// GetInvoice obtiene la factura con sus líneas. El eje de pago se refresca al
// leer: OVERDUE es un estado derivado, no persistido por un job.
func (uc *InvoiceUseCase) GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := uc.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.RefreshPaymentState(time.Now().UTC())
	lines, err := uc.invoiceRepo.GetLinesByInvoiceID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toInvoiceResponse(inv, lines), nil
}

// UpdateLines reemplaza las líneas de una factura en DRAFT y recalcula totales.
// Fuera de DRAFT la factura está bloqueada para edición.
func (uc *InvoiceUseCase) UpdateLines(ctx context.Context, id string, in dto.UpdateLinesRequest) (*dto.InvoiceResponse, error) {
	inv, err := uc.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.State != entity.StateDraft {
		return nil, domain.ErrInvoiceLocked
	}
	// Cinturón extra: una factura con intento ACCEPTED jamás se edita, en
	// ningún estado.
	if accepted, err := uc.attemptRepo.GetAccepted(ctx, id); err != nil {
		return nil, err
	} else if accepted != nil {
		return nil, domain.ErrInvoiceLocked
	}

	lines, err := linesFromRequest(in.Lines, inv.Currency)
	if err != nil {
		return nil, err
	}
	totals, err := fiscal.ComputeTotals(lines, inv.Currency)
	if err != nil {
		return nil, err
	}
	applyTotals(inv, totals)

	if err := uc.invoiceRepo.ReplaceLines(ctx, id, lines); err != nil {
		return nil, err
	}
	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}
	return toInvoiceResponse(inv, lines), nil
}

// RecomputeTotals recalcula los totales desde las líneas persistidas. Operación
// de mantenimiento: para la misma factura siempre produce el mismo resultado.
func (uc *InvoiceUseCase) RecomputeTotals(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := uc.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.State != entity.StateDraft {
		return nil, domain.ErrInvoiceLocked
	}
	lines, err := uc.invoiceRepo.GetLinesByInvoiceID(ctx, id)
	if err != nil {
		return nil, err
	}
	totals, err := fiscal.ComputeTotals(lines, inv.Currency)
	if err != nil {
		return nil, err
	}
	applyTotals(inv, totals)
	if err := uc.invoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}
	return toInvoiceResponse(inv, lines), nil
}

// ListAttempts pista de auditoría de envíos de la factura.
func (uc *InvoiceUseCase) ListAttempts(ctx context.Context, id string) ([]*dto.AttemptResponse, error) {
	if _, err := uc.invoiceRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	attempts, err := uc.attemptRepo.ListByInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, &dto.AttemptResponse{
			Number:           a.Number,
			Outcome:          string(a.Outcome),
			AuthorityCode:    a.AuthorityCode,
			AuthorityMessage: a.AuthorityMessage,
			BatchID:          a.BatchID,
			CreatedAt:        a.CreatedAt,
		})
	}
	return out, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// linesFromRequest materializa y valida las líneas con montos calculados por el
// motor fiscal (redondeo por línea).
func linesFromRequest(in []dto.InvoiceLineRequest, currency string) ([]*entity.InvoiceLine, error) {
	lines := make([]*entity.InvoiceLine, 0, len(in))
	for i, req := range in {
		if req.Description == "" {
			return nil, domain.NewLineValidationError(i, "description", "la descripción es obligatoria")
		}
		unit := req.UnitMeasure
		if unit == "" {
			unit = pkgsifen.UnitUnidad
		}
		if !pkgsifen.ValidUnitMeasures[unit] {
			return nil, domain.NewLineValidationError(i, "unitMeasure", "unidad de medida no soportada: "+unit)
		}
		lines = append(lines, &entity.InvoiceLine{
			ID:           uuid.New().String(),
			Ordinal:      i + 1,
			Description:  req.Description,
			ExternalCode: req.ExternalCode,
			UnitMeasure:  unit,
			Quantity:     req.Quantity,
			UnitPrice:    req.UnitPrice,
			TaxRate:      req.TaxRate,
		})
	}
	if len(lines) == 0 {
		return lines, nil
	}
	// Validación de cantidades y tasas, y montos por línea
	if _, err := fiscal.ComputeTotals(lines, currency); err != nil {
		return nil, err
	}
	for _, line := range lines {
		line.Subtotal, line.TaxAmount = fiscal.LineAmounts(line, currency)
	}
	return lines, nil
}

// mustTotals solo para líneas ya validadas por linesFromRequest.
func mustTotals(lines []*entity.InvoiceLine, currency string) *fiscal.Totals {
	t, _ := fiscal.ComputeTotals(lines, currency)
	return t
}

func applyTotals(inv *entity.Invoice, t *fiscal.Totals) {
	inv.Subtotal = t.Subtotal
	inv.Tax5 = t.Tax5
	inv.Tax10 = t.Tax10
	inv.TaxTotal = t.TaxTotal
	inv.GrandTotal = t.GrandTotal
	inv.UpdatedAt = time.Now().UTC()
}

func toInvoiceResponse(inv *entity.Invoice, lines []*entity.InvoiceLine) *dto.InvoiceResponse {
	resp := &dto.InvoiceResponse{
		ID:                 inv.ID,
		Timbrado:           inv.Timbrado,
		Kind:               string(inv.Kind),
		Currency:           inv.Currency,
		ClientID:           inv.ClientID,
		ClientName:         inv.ClientName,
		ClientRUC:          inv.ClientRUC,
		OrderID:            inv.OrderID,
		State:              string(inv.State),
		PaymentState:       string(inv.PaymentState),
		DueDate:            inv.DueDate,
		Subtotal:           inv.Subtotal,
		Tax5:               inv.Tax5,
		Tax10:              inv.Tax10,
		TaxTotal:           inv.TaxTotal,
		GrandTotal:         inv.GrandTotal,
		OutstandingBalance: inv.OutstandingBalance,
		CDC:                inv.CDC,
		QRData:             inv.QRData,
		AuthorityCode:      inv.AuthorityCode,
		AuthorityMessage:   inv.AuthorityMessage,
		SubmittedAt:        inv.SubmittedAt,
		AcceptedAt:         inv.AcceptedAt,
		CancelledAt:        inv.CancelledAt,
		Lines:              make([]dto.InvoiceLineResponse, 0, len(lines)),
	}
	if inv.Numero > 0 {
		resp.DocumentNumber = inv.DocumentNumber()
	}
	if !inv.IssueDate.IsZero() {
		issue := inv.IssueDate
		resp.IssueDate = &issue
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, dto.InvoiceLineResponse{
			ID:           line.ID,
			Ordinal:      line.Ordinal,
			Description:  line.Description,
			ExternalCode: line.ExternalCode,
			UnitMeasure:  line.UnitMeasure,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			TaxRate:      line.TaxRate,
			Subtotal:     line.Subtotal,
			TaxAmount:    line.TaxAmount,
		})
	}
	return resp
}
