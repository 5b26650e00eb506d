package entity

import "github.com/shopspring/decimal"

// InvoiceLine una línea de detalle de la factura. Subtotal y TaxAmount los
// calcula el motor de impuestos con redondeo por línea; no se editan a mano.
type InvoiceLine struct {
	ID           string
	InvoiceID    string
	Ordinal      int    // posición de la línea dentro de la factura (1..n)
	Description  string
	ExternalCode string // código externo del producto (opcional)
	UnitMeasure  string // código de unidad de medida (UNI, KGM, ...)
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	TaxRate      int // porcentaje de IVA: 0, 5 o 10
	Subtotal     decimal.Decimal
	TaxAmount    decimal.Decimal
}
