package entity

import "time"

// AttemptOutcome resultado de un intento de entrega a SIFEN. Conjunto cerrado:
// todo consumidor debe hacer match exhaustivo sobre estas variantes.
type AttemptOutcome string

const (
	OutcomeAccepted          AttemptOutcome = "ACCEPTED"
	OutcomeRejected          AttemptOutcome = "REJECTED"
	OutcomeTimeout           AttemptOutcome = "TIMEOUT"
	OutcomeContingencyQueued AttemptOutcome = "CONTINGENCY_QUEUED"
)

// SubmissionAttempt registro append-only de cada llamada a SIFEN por factura.
// Nunca se muta después de creado: es la pista de auditoría y la base del
// guard de idempotencia (a lo sumo un intento ACCEPTED por factura).
type SubmissionAttempt struct {
	ID               string
	InvoiceID        string
	Number           int // número de intento (1..n) dentro de la factura
	Outcome          AttemptOutcome
	AuthorityCode    string // código devuelto por SIFEN (vacío en TIMEOUT/CONTINGENCY)
	AuthorityMessage string // mensaje textual de SIFEN, nunca parafraseado
	BatchID          string // lote al que perteneció el envío, si fue por lote
	CreatedAt        time.Time
}
