package entity

import "time"

// Order referencia de solo lectura al pedido de origen en el sistema de
// órdenes/inventario. El núcleo de facturación solo la consulta para validar
// el vínculo; no gestiona cantidades ni estados del pedido.
type Order struct {
	ID        string
	Number    string
	ClientID  string
	CreatedAt time.Time
}
