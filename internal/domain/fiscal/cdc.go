// Cálculo del CDC (código de control del documento electrónico).
// Algoritmo: SHA-384 sobre la concatenación estricta de identidad del emisor,
// número de documento, totales y credencial de firma (CSC). Determinista:
// el mismo documento produce siempre el mismo CDC.

package fiscal

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Códigos de tasa de IVA en la cadena CDC.
const (
	CodIVA5  = "05"
	CodIVA10 = "10"
)

// CDCParams datos para calcular el CDC, en el orden exigido por la cadena.
type CDCParams struct {
	NumDoc      string          // número legal completo, ej: "001-001-0000123"
	FecEmision  string          // fecha de emisión YYYY-MM-DD
	Subtotal    decimal.Decimal // total sin impuestos
	IVA5        decimal.Decimal // IVA tasa 5%
	IVA10       decimal.Decimal // IVA tasa 10%
	Total       decimal.Decimal // total a pagar
	RUCEmisor   string          // RUC del emisor (se usan solo los dígitos)
	RUCReceptor string          // RUC o documento del receptor (solo dígitos)
	Timbrado    string          // número de timbrado de la serie
	CSC         string          // código de seguridad del contribuyente (credencial)
	Ambiente    string          // "1" = producción, "2" = pruebas
}

// CDCCalculator calcula el CDC de un documento.
type CDCCalculator struct{}

// NewCDCCalculator crea el servicio.
func NewCDCCalculator() *CDCCalculator {
	return &CDCCalculator{}
}

// Calculate genera el CDC (hash hexadecimal SHA-384) a partir de los parámetros.
// Cadena (sin separadores): NumDoc + FecEmision + Subtotal + "05" + IVA5 +
// "10" + IVA10 + Total + RUCEmisor + RUCReceptor + Timbrado + CSC + Ambiente.
// Montos sin separador de miles, punto decimal, 2 decimales (ej: 1500.00).
func (c *CDCCalculator) Calculate(p *CDCParams) (string, error) {
	if p == nil {
		return "", fmt.Errorf("fiscal: CDCParams es obligatorio")
	}
	numDoc := strings.Join(strings.Fields(p.NumDoc), "")
	if numDoc == "" {
		return "", fmt.Errorf("fiscal: NumDoc es obligatorio")
	}
	if p.FecEmision == "" {
		return "", fmt.Errorf("fiscal: FecEmision es obligatoria (YYYY-MM-DD)")
	}
	rucEmisor := onlyDigits(p.RUCEmisor)
	rucReceptor := onlyDigits(p.RUCReceptor)
	if rucEmisor == "" {
		return "", fmt.Errorf("fiscal: RUCEmisor es obligatorio para el CDC")
	}
	if rucReceptor == "" {
		return "", fmt.Errorf("fiscal: RUCReceptor es obligatorio para el CDC")
	}
	if p.Timbrado == "" {
		return "", fmt.Errorf("fiscal: Timbrado es obligatorio para el CDC")
	}
	if p.CSC == "" {
		return "", fmt.Errorf("fiscal: CSC es obligatorio para el CDC")
	}
	ambiente := p.Ambiente
	if ambiente == "" {
		ambiente = "1"
	}

	// Orden estricto de la cadena, sin separadores
	cadena := numDoc +
		p.FecEmision +
		formatAmount(p.Subtotal) +
		CodIVA5 + formatAmount(p.IVA5) +
		CodIVA10 + formatAmount(p.IVA10) +
		formatAmount(p.Total) +
		rucEmisor +
		rucReceptor +
		p.Timbrado +
		p.CSC +
		ambiente

	hash := sha512.Sum384([]byte(cadena))
	return hex.EncodeToString(hash[:]), nil
}

// formatAmount montos para la cadena CDC: sin miles, punto decimal, 2 decimales.
func formatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// onlyDigits deja solo dígitos 0-9 (para RUC y documento del receptor).
func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
