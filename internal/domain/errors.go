package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio simples (sin datos adicionales).
var (
	ErrNotFound = errors.New("recurso no encontrado")
	// ErrInvoiceLocked: la factura tiene un intento ACCEPTED; líneas, partes y
	// totales son inmutables (solo queda el eje de pago y la anulación).
	ErrInvoiceLocked = errors.New("factura aceptada por SIFEN: inmutable")
	// ErrPendingAuthority: hay un envío pendiente de reconciliación (TIMEOUT).
	// El caller debe consultar el estado con PollStatus, no reenviar a ciegas.
	ErrPendingAuthority = errors.New("envío pendiente de reconciliación con SIFEN: consultar estado")
	ErrDuplicate        = errors.New("recurso duplicado")
)

// ValidationError entrada malformada (línea sin cantidad, tasa inválida, etc.).
// Line es el índice de la línea ofensora, o -1 si el error no refiere a una línea.
type ValidationError struct {
	Line    int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("validación: línea %d, %s: %s", e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("validación: %s: %s", e.Field, e.Message)
}

// NewValidationError crea un error de validación general (sin línea).
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Line: -1, Field: field, Message: message}
}

// NewLineValidationError crea un error de validación asociado a una línea.
func NewLineValidationError(line int, field, message string) *ValidationError {
	return &ValidationError{Line: line, Field: field, Message: message}
}

// InvalidStateTransitionError transición no permitida por la tabla del ciclo de vida.
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("transición de estado inválida: %s → %s", e.From, e.To)
}

// AuthorityRejectionError SIFEN examinó la petición y la rechazó (p.ej. un
// lote que no pasó la validación de recepción). Code y Message se conservan
// textuales: tienen valor legal y nunca se parafrasean.
type AuthorityRejectionError struct {
	Code    string
	Message string
}

func (e *AuthorityRejectionError) Error() string {
	return fmt.Sprintf("rechazo SIFEN [%s]: %s", e.Code, e.Message)
}

// SigningError el colaborador de firma no pudo producir la firma (certificado
// vencido o inválido). Bloquea el envío; nunca llega a la red ni altera la factura.
type SigningError struct {
	Reason string
	Err    error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("firma digital: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("firma digital: %s", e.Reason)
}

func (e *SigningError) Unwrap() error { return e.Err }

// TransportError falla de red o timeout hablando con SIFEN. Nunca se interpreta
// como aceptación ni rechazo: la factura queda SUBMITTED pendiente de reconciliación.
type TransportError struct {
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transporte SIFEN: timeout: %v", e.Err)
	}
	return fmt.Sprintf("transporte SIFEN: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
