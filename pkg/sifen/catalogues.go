// Package sifen contiene catálogos, validaciones y puertos compartidos para la
// facturación electrónica SIFEN (Paraguay).
package sifen

// =============================================================================
// Tipos de documento electrónico (dTipDE)
// =============================================================================

const (
	DocTypeFacturaElectronica  = "1" // Factura electrónica
	DocTypeAutofactura         = "4" // Autofactura electrónica
	DocTypeNotaCredito         = "5" // Nota de crédito electrónica
	DocTypeNotaDebito          = "6" // Nota de débito electrónica
	DocTypeNotaRemision        = "7" // Nota de remisión electrónica
)

// =============================================================================
// Condición de la operación (iCondOpe)
// =============================================================================

const (
	CondContado = "1" // Contado
	CondCredito = "2" // Crédito
)

// =============================================================================
// Tasas de IVA vigentes (porcentaje). El 5% aplica a canasta básica e inmuebles;
// el 10% es la tasa general; el 0% a exentas.
// =============================================================================

var ValidTaxRates = map[int]bool{0: true, 5: true, 10: true}

// =============================================================================
// Unidades de medida (códigos usados en las líneas del documento)
// =============================================================================

const (
	UnitUnidad        = "77"  // Unidad
	UnitKilogram      = "83"  // Kilogramo
	UnitGram          = "84"  // Gramo
	UnitLitre         = "88"  // Litro
	UnitMetre         = "2366" // Metro
	UnitSquareMetre   = "109" // Metro cuadrado
	UnitCubicMetre    = "110" // Metro cúbico
	UnitHour          = "100" // Hora
	UnitDay           = "104" // Día
)

// ValidUnitMeasures unidades aceptadas en líneas de factura.
var ValidUnitMeasures = map[string]bool{
	UnitUnidad:      true,
	UnitKilogram:    true,
	UnitGram:        true,
	UnitLitre:       true,
	UnitMetre:       true,
	UnitSquareMetre: true,
	UnitCubicMetre:  true,
	UnitHour:        true,
	UnitDay:         true,
}

// =============================================================================
// Monedas (cMoneOpe). PYG no tiene subunidad; USD usa 2 decimales.
// =============================================================================

const (
	CurrencyGuarani = "PYG"
	CurrencyDollar  = "USD"
)

// ValidCurrencies monedas de operación soportadas.
var ValidCurrencies = map[string]bool{
	CurrencyGuarani: true,
	CurrencyDollar:  true,
}

// =============================================================================
// Tipo de emisión (iTipEmi)
// =============================================================================

const (
	EmissionNormal       = "1" // Emisión normal
	EmissionContingencia = "2" // Emisión en contingencia
)
