package sifen

import (
	"fmt"
	"unicode"
)

// Dígito verificador del RUC: módulo 11 con pesos 2..11 aplicados de derecha a
// izquierda sobre la base (sin el DV). Si el resto es 0 o 1, el DV es 0.

// ComputeRUCVerificationDigit calcula el dígito verificador para la base del RUC.
func ComputeRUCVerificationDigit(ruc string) (byte, error) {
	digits := extractDigits(ruc)
	if len(digits) == 0 {
		return 0, fmt.Errorf("sifen: el RUC no contiene dígitos")
	}
	return computeDV(digits), nil
}

// ValidateRUCVerificationDigit valida un RUC completo con DV. Acepta formatos
// "80012345-0", "80.012.345-0" o "800123450": el último dígito es el DV.
func ValidateRUCVerificationDigit(ruc string) error {
	digits := extractDigits(ruc)
	if len(digits) < 2 {
		return fmt.Errorf("sifen: RUC demasiado corto: se requieren base y dígito verificador")
	}
	base := digits[:len(digits)-1]
	got := digits[len(digits)-1]
	expected := computeDV(base)
	if got != expected {
		return fmt.Errorf("sifen: dígito verificador del RUC inválido: esperado %c, recibido %c", expected, got)
	}
	return nil
}

func computeDV(base []byte) byte {
	k := 2
	sum := 0
	for i := len(base) - 1; i >= 0; i-- {
		sum += int(base[i]-'0') * k
		k++
		if k > 11 {
			k = 2
		}
	}
	remainder := sum % 11
	if remainder <= 1 {
		return '0'
	}
	return byte('0' + (11 - remainder))
}

func extractDigits(s string) []byte {
	var out []byte
	for _, r := range s {
		if unicode.IsDigit(r) {
			out = append(out, byte(r))
		}
	}
	return out
}
