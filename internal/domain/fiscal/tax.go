// Package fiscal contiene el cálculo puro de obligaciones fiscales: totales de
// IVA con aritmética de punto fijo y el código de control (CDC) del documento.
package fiscal

import (
	"github.com/shopspring/decimal"

	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
)

// Tasas de IVA admitidas (porcentaje).
var validTaxRates = map[int]bool{0: true, 5: true, 10: true}

// Totals totales derivados de una factura. Invariante:
// GrandTotal = Subtotal + TaxTotal y TaxTotal = Tax5 + Tax10.
type Totals struct {
	Subtotal   decimal.Decimal
	Tax5       decimal.Decimal
	Tax10      decimal.Decimal
	TaxTotal   decimal.Decimal
	GrandTotal decimal.Decimal
}

// MinorUnitExponent decimales de la unidad menor de la moneda.
// El guaraní no tiene subunidad; el resto de las monedas soportadas usan 2.
func MinorUnitExponent(currency string) int32 {
	if currency == "PYG" {
		return 0
	}
	return 2
}

// LineAmounts calcula subtotal e IVA de una línea, redondeados a la precisión
// de la moneda. El redondeo es POR LÍNEA, antes de sumar: el desglose impreso
// del documento debe cuadrar al guaraní/centavo con estos valores.
func LineAmounts(line *entity.InvoiceLine, currency string) (subtotal, tax decimal.Decimal) {
	exp := MinorUnitExponent(currency)
	subtotal = line.Quantity.Mul(line.UnitPrice).Round(exp)
	tax = subtotal.Mul(decimal.NewFromInt(int64(line.TaxRate))).Div(decimal.NewFromInt(100)).Round(exp)
	return subtotal, tax
}

// ComputeTotals valida las líneas y acumula subtotal e IVA por tasa.
// Puro y determinista: sin efectos, mismo input produce siempre el mismo output.
// Una línea inválida produce ValidationError con el índice de la línea ofensora.
func ComputeTotals(lines []*entity.InvoiceLine, currency string) (*Totals, error) {
	if len(lines) == 0 {
		return nil, domain.NewValidationError("lines", "la factura debe tener al menos una línea")
	}
	t := &Totals{
		Subtotal:   decimal.Zero,
		Tax5:       decimal.Zero,
		Tax10:      decimal.Zero,
		TaxTotal:   decimal.Zero,
		GrandTotal: decimal.Zero,
	}
	for i, line := range lines {
		if !line.Quantity.GreaterThan(decimal.Zero) {
			return nil, domain.NewLineValidationError(i, "quantity", "la cantidad debe ser mayor que cero")
		}
		if line.UnitPrice.LessThan(decimal.Zero) {
			return nil, domain.NewLineValidationError(i, "unitPrice", "el precio unitario no puede ser negativo")
		}
		if !validTaxRates[line.TaxRate] {
			return nil, domain.NewLineValidationError(i, "taxRate", "la tasa de IVA debe ser 0, 5 o 10")
		}
		subtotal, tax := LineAmounts(line, currency)
		t.Subtotal = t.Subtotal.Add(subtotal)
		switch line.TaxRate {
		case 5:
			t.Tax5 = t.Tax5.Add(tax)
		case 10:
			t.Tax10 = t.Tax10.Add(tax)
		}
	}
	t.TaxTotal = t.Tax5.Add(t.Tax10)
	t.GrandTotal = t.Subtotal.Add(t.TaxTotal)
	return t, nil
}
