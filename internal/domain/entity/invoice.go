package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gestlog/logistica-api/internal/domain"
)

// InvoiceState eje fiscal del ciclo de vida. Los estados terminales ACCEPTED y
// REJECTED los decide SIFEN; el estado nunca regresa de un terminal a SUBMITTED.
type InvoiceState string

const (
	StateDraft     InvoiceState = "DRAFT"     // Editable; reserva ID, sin número legal consumido
	StateIssued    InvoiceState = "ISSUED"    // Emitida: totales congelados, número de serie asignado
	StateSubmitted InvoiceState = "SUBMITTED" // Enviada a SIFEN, respuesta pendiente
	StateAccepted  InvoiceState = "ACCEPTED"  // Aprobada por SIFEN (artefactos fiscales completos)
	StateRejected  InvoiceState = "REJECTED"  // Rechazada por SIFEN (código/mensaje textuales)
	StateCancelled InvoiceState = "CANCELLED" // Anulada; tras ACCEPTED solo se marca, no se borra
)

// PaymentState eje de pago, ortogonal al eje fiscal.
type PaymentState string

const (
	PaymentPending PaymentState = "PENDING"
	PaymentPartial PaymentState = "PARTIAL"
	PaymentPaid    PaymentState = "PAID"
	PaymentOverdue PaymentState = "OVERDUE"
)

// InvoiceKind condición de la operación.
type InvoiceKind string

const (
	KindCash   InvoiceKind = "CASH"   // Contado
	KindCredit InvoiceKind = "CREDIT" // Crédito (con vencimiento y saldo pendiente)
)

// fiscalTransitions tabla de transiciones permitidas del eje fiscal.
// SUBMITTED→ACCEPTED/REJECTED las dispara la respuesta de SIFEN; el resto, acciones locales.
var fiscalTransitions = map[InvoiceState][]InvoiceState{
	StateDraft:     {StateIssued, StateCancelled},
	StateIssued:    {StateSubmitted, StateCancelled},
	StateSubmitted: {StateAccepted, StateRejected},
	StateAccepted:  {StateCancelled},
	StateRejected:  {StateDraft, StateCancelled},
	StateCancelled: {},
}

// Invoice cabecera de una factura. La serie fiscal (establecimiento, punto de
// expedición, timbrado) y el número secuencial componen el número legal del documento.
type Invoice struct {
	ID              string
	Establecimiento string // código de establecimiento (ej: "001")
	PuntoExpedicion string // código de punto de expedición (ej: "001")
	Numero          int64  // secuencial dentro de la serie; 0 = aún sin asignar (DRAFT)
	Timbrado        string // número de autorización de la serie

	Kind     InvoiceKind
	Currency string // ISO 4217 (PYG, USD)

	ClientID   string
	ClientName string // copia desnormalizada del registro de clientes al emitir
	ClientRUC  string // ídem; ediciones posteriores del registro no afectan documentos emitidos
	OrderID    string // referencia opcional al pedido de origen (solo lectura)

	State        InvoiceState
	PaymentState PaymentState
	IssueDate    time.Time
	DueDate      *time.Time // solo CREDIT

	// Totales derivados; nunca se mutan de forma independiente.
	Subtotal           decimal.Decimal
	Tax5               decimal.Decimal
	Tax10              decimal.Decimal
	TaxTotal           decimal.Decimal
	GrandTotal         decimal.Decimal
	OutstandingBalance decimal.Decimal // significativo solo para CREDIT; CASH siempre cero

	// Artefactos fiscales. CDC y QRData se calculan al congelar el documento;
	// código, mensaje y AcceptedAt los escribe el coordinador una sola vez al aceptar.
	CDC              string
	QRData           string
	AuthorityCode    string
	AuthorityMessage string
	SubmittedAt      *time.Time
	AcceptedAt       *time.Time
	CancelledAt      *time.Time // marca de anulación; los artefactos fiscales se conservan

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentNumber número legal compuesto: establecimiento-punto-secuencial (ej: "001-001-0000123").
func (i *Invoice) DocumentNumber() string {
	return fmt.Sprintf("%s-%s-%07d", i.Establecimiento, i.PuntoExpedicion, i.Numero)
}

// CanTransitionTo indica si la tabla de transiciones permite pasar al estado destino.
func (i *Invoice) CanTransitionTo(to InvoiceState) bool {
	for _, allowed := range fiscalTransitions[i.State] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionTo aplica la transición o falla con InvalidStateTransitionError
// nombrando el estado actual y el solicitado.
func (i *Invoice) TransitionTo(to InvoiceState) error {
	if !i.CanTransitionTo(to) {
		return &domain.InvalidStateTransitionError{From: string(i.State), To: string(to)}
	}
	i.State = to
	return nil
}

// RefreshPaymentState marca OVERDUE una factura CREDIT con saldo pendiente y
// vencimiento superado. PAID es terminal en el eje de pago.
func (i *Invoice) RefreshPaymentState(now time.Time) {
	if i.Kind != KindCredit || i.PaymentState == PaymentPaid {
		return
	}
	if i.DueDate != nil && now.After(*i.DueDate) && i.OutstandingBalance.GreaterThan(decimal.Zero) {
		i.PaymentState = PaymentOverdue
	}
}

// ClearFiscalArtifacts limpia CDC, QR y respuesta de SIFEN. Solo se usa en la
// enmienda REJECTED→DRAFT, que exige que no exista ningún intento ACCEPTED.
func (i *Invoice) ClearFiscalArtifacts() {
	i.CDC = ""
	i.QRData = ""
	i.AuthorityCode = ""
	i.AuthorityMessage = ""
	i.SubmittedAt = nil
	i.AcceptedAt = nil
}
