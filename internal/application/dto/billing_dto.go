package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateInvoiceRequest body para POST /api/invoices. La factura nace en DRAFT:
// sin número legal consumido, editable hasta emitir.
type CreateInvoiceRequest struct {
	ClientID string               `json:"client_id"`
	OrderID  string               `json:"order_id,omitempty"`
	Kind     string               `json:"kind"`     // CASH | CREDIT
	Currency string               `json:"currency"` // PYG | USD
	DueDate  *time.Time           `json:"due_date,omitempty"` // obligatorio para CREDIT al emitir
	Lines    []InvoiceLineRequest `json:"lines,omitempty"`
}

// InvoiceLineRequest línea de factura en requests.
type InvoiceLineRequest struct {
	Description  string          `json:"description"`
	ExternalCode string          `json:"external_code,omitempty"`
	UnitMeasure  string          `json:"unit_measure,omitempty"` // default "77" (unidad)
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxRate      int             `json:"tax_rate"` // 0, 5 o 10
}

// UpdateLinesRequest body para PUT /api/invoices/:id/lines (solo DRAFT).
type UpdateLinesRequest struct {
	Lines []InvoiceLineRequest `json:"lines"`
}

// RegisterPaymentRequest body para POST /api/invoices/:id/payments.
type RegisterPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// InvoiceResponse factura con detalle para las respuestas.
type InvoiceResponse struct {
	ID             string     `json:"id"`
	DocumentNumber string     `json:"document_number,omitempty"` // vacío en DRAFT: aún sin número
	Timbrado       string     `json:"timbrado,omitempty"`
	Kind           string     `json:"kind"`
	Currency       string     `json:"currency"`
	ClientID       string     `json:"client_id"`
	ClientName     string     `json:"client_name,omitempty"`
	ClientRUC      string     `json:"client_ruc,omitempty"`
	OrderID        string     `json:"order_id,omitempty"`
	State          string     `json:"state"`
	PaymentState   string     `json:"payment_state"`
	IssueDate      *time.Time `json:"issue_date,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`

	Subtotal           decimal.Decimal `json:"subtotal"`
	Tax5               decimal.Decimal `json:"tax5"`
	Tax10              decimal.Decimal `json:"tax10"`
	TaxTotal           decimal.Decimal `json:"tax_total"`
	GrandTotal         decimal.Decimal `json:"grand_total"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`

	CDC              string     `json:"cdc,omitempty"`
	QRData           string     `json:"qr_data,omitempty"`
	AuthorityCode    string     `json:"authority_code,omitempty"`
	AuthorityMessage string     `json:"authority_message,omitempty"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`

	Lines []InvoiceLineResponse `json:"lines"`
}

// InvoiceLineResponse línea de detalle en la respuesta.
type InvoiceLineResponse struct {
	ID           string          `json:"id"`
	Ordinal      int             `json:"ordinal"`
	Description  string          `json:"description"`
	ExternalCode string          `json:"external_code,omitempty"`
	UnitMeasure  string          `json:"unit_measure"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxRate      int             `json:"tax_rate"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
}

// SubmissionOutcomeResponse resultado de un envío individual a SIFEN.
// Outcome es el conjunto cerrado ACCEPTED|REJECTED|TIMEOUT|CONTINGENCY_QUEUED.
type SubmissionOutcomeResponse struct {
	InvoiceID        string `json:"invoice_id"`
	DocumentNumber   string `json:"document_number"`
	State            string `json:"state"`
	Outcome          string `json:"outcome"`
	CDC              string `json:"cdc,omitempty"`
	AuthorityCode    string `json:"authority_code,omitempty"`
	AuthorityMessage string `json:"authority_message,omitempty"`
	BatchID          string `json:"batch_id,omitempty"`
}

// BatchOutcomeResponse resultado de un lote: un outcome por documento,
// indexado por número legal.
type BatchOutcomeResponse struct {
	BatchID  string                                `json:"batch_id"`
	Outcomes map[string]*SubmissionOutcomeResponse `json:"outcomes"`
}

// AttemptResponse intento de envío en la pista de auditoría.
type AttemptResponse struct {
	Number           int       `json:"number"`
	Outcome          string    `json:"outcome"`
	AuthorityCode    string    `json:"authority_code,omitempty"`
	AuthorityMessage string    `json:"authority_message,omitempty"`
	BatchID          string    `json:"batch_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ErrorResponse cuerpo uniforme de error de la API.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
