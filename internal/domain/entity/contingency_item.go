package entity

import "time"

// ContingencyItem documento encolado localmente cuando SIFEN está inaccesible.
// Conserva el XML firmado y el CDC generado localmente: el documento puede
// entregarse de inmediato a la contraparte y la confirmación llega después.
// El drenador periódico procesa la cola en orden de llegada.
type ContingencyItem struct {
	ID             string
	InvoiceID      string
	DocumentNumber string
	CDC            string
	Filename       string
	XML            []byte // rDE firmado, listo para reenviar
	Attempts       int    // reintentos de entrega ya realizados
	Delivered      bool
	EnqueuedAt     time.Time
	DeliveredAt    *time.Time
}
