package entity

import "time"

// Client identidad de facturación que expone el registro de clientes (colaborador
// externo, solo lectura). Al emitir, la factura guarda una copia desnormalizada
// de Name y RUC para que ediciones posteriores no alteren documentos emitidos.
type Client struct {
	ID        string
	Name      string
	RUC       string // RUC con dígito verificador (ej: "80012345-1")
	Address   string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
