// Package sifen implementa la generación del documento electrónico (rDE),
// la firma y el cliente del web service de SIFEN.
package sifen

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IssuerParams identidad fiscal del emisor y serie autorizada (de configuración).
type IssuerParams struct {
	RUC         string // con dígito verificador
	LegalName   string
	Address     string
	Timbrado    string
	CSC         string // código de seguridad del contribuyente
	Environment string // "1" producción, "2" pruebas
}

// DocumentSnapshot representación canónica e inmutable de una factura lista
// para envío: XML firmado, CDC y payload de verificación. Congelada desde una
// factura en estado ISSUED o SUBMITTED; no muta la factura.
type DocumentSnapshot struct {
	InvoiceID      string
	DocumentNumber string
	CDC            string
	QRData         string
	IssueDate      time.Time
	Currency       string
	Subtotal       decimal.Decimal
	TaxTotal       decimal.Decimal
	GrandTotal     decimal.Decimal
	XML            []byte // rDE firmado
	Filename       string // ej: "800123450-001-001-0000123.xml"
}

// SubmitResult respuesta de SIFEN para un documento. Pending marca una
// respuesta sin veredicto: el documento sigue en procesamiento o la consulta no
// lo encontró; en ese caso Code/Message traen el código de la consulta, no un
// rechazo del documento.
type SubmitResult struct {
	Accepted bool
	Pending  bool
	Code     string // dCodRes devuelto por SIFEN (ej: "0260" = autorizado)
	Message  string // dMsgRes textual; se propaga sin parafrasear
}

// Resolved indica si SIFEN emitió un veredicto sobre el documento. Un resultado
// sin resolver nunca se registra como rechazo: la factura queda pendiente de
// reconciliación.
func (r *SubmitResult) Resolved() bool {
	return r.Accepted || (!r.Pending && r.Code != "")
}

// BatchResult respuesta de SIFEN para un lote. Los resultados se indexan por
// CDC: pueden llegar en cualquier orden, nunca se correlaciona por posición.
type BatchResult struct {
	BatchID string
	Results map[string]*SubmitResult
}

// AuthorityClient puerto de salida hacia el web service de SIFEN.
// La implementación concreta usa SOAP; para tests se inyecta un doble.
type AuthorityClient interface {
	// Submit envía un documento individual (vía síncrona).
	Submit(ctx context.Context, snap *DocumentSnapshot) (*SubmitResult, error)
	// SubmitBatch envía un lote; cada documento tiene resultado independiente.
	SubmitBatch(ctx context.Context, snaps []*DocumentSnapshot) (*BatchResult, error)
	// QueryStatus consulta el estado de un documento por su CDC.
	QueryStatus(ctx context.Context, cdc string) (*SubmitResult, error)
	// QueryBatch consulta el estado de un lote por su identificador.
	QueryBatch(ctx context.Context, batchID string) (*BatchResult, error)
	// Ping verifica la disponibilidad del servicio (gatillo del modo contingencia).
	Ping(ctx context.Context) error
}
