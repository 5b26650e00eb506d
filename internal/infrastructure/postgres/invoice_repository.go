package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
	"github.com/gestlog/logistica-api/internal/domain/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo implementación de InvoiceRepository (usable con pool o tx).
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

const invoiceColumns = `
	id, establecimiento, punto_expedicion, numero, timbrado,
	kind, currency, client_id, client_name, client_ruc, order_id,
	state, payment_state, issue_date, due_date,
	subtotal, tax5, tax10, tax_total, grand_total, outstanding_balance,
	cdc, qr_data, authority_code, authority_message,
	submitted_at, accepted_at, cancelled_at, created_at, updated_at`

// Create persiste la cabecera de la factura.
func (r *InvoiceRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`
	_, err := r.q.Exec(ctx, query,
		inv.ID, inv.Establecimiento, inv.PuntoExpedicion, inv.Numero, inv.Timbrado,
		inv.Kind, inv.Currency, inv.ClientID, nullIfEmpty(inv.ClientName), nullIfEmpty(inv.ClientRUC), nullIfEmpty(inv.OrderID),
		inv.State, inv.PaymentState, inv.IssueDate, inv.DueDate,
		inv.Subtotal, inv.Tax5, inv.Tax10, inv.TaxTotal, inv.GrandTotal, inv.OutstandingBalance,
		nullIfEmpty(inv.CDC), nullIfEmpty(inv.QRData), nullIfEmpty(inv.AuthorityCode), nullIfEmpty(inv.AuthorityMessage),
		inv.SubmittedAt, inv.AcceptedAt, inv.CancelledAt, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("factura duplicada: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// Update actualiza la cabecera completa. El estado, los totales y los
// artefactos fiscales siempre se escriben juntos: el dominio ya garantizó su
// coherencia antes de llegar acá.
func (r *InvoiceRepo) Update(ctx context.Context, inv *entity.Invoice) error {
	inv.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE invoices SET
			establecimiento = $2, punto_expedicion = $3, numero = $4, timbrado = $5,
			kind = $6, currency = $7, client_id = $8, client_name = $9, client_ruc = $10, order_id = $11,
			state = $12, payment_state = $13, issue_date = $14, due_date = $15,
			subtotal = $16, tax5 = $17, tax10 = $18, tax_total = $19, grand_total = $20, outstanding_balance = $21,
			cdc = $22, qr_data = $23, authority_code = $24, authority_message = $25,
			submitted_at = $26, accepted_at = $27, cancelled_at = $28, updated_at = $29
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		inv.ID, inv.Establecimiento, inv.PuntoExpedicion, inv.Numero, inv.Timbrado,
		inv.Kind, inv.Currency, inv.ClientID, nullIfEmpty(inv.ClientName), nullIfEmpty(inv.ClientRUC), nullIfEmpty(inv.OrderID),
		inv.State, inv.PaymentState, inv.IssueDate, inv.DueDate,
		inv.Subtotal, inv.Tax5, inv.Tax10, inv.TaxTotal, inv.GrandTotal, inv.OutstandingBalance,
		nullIfEmpty(inv.CDC), nullIfEmpty(inv.QRData), nullIfEmpty(inv.AuthorityCode), nullIfEmpty(inv.AuthorityMessage),
		inv.SubmittedAt, inv.AcceptedAt, inv.CancelledAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID obtiene una factura por ID.
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	return r.scanOne(r.q.QueryRow(ctx, query, id))
}

// GetByCDC obtiene una factura por su código de control (consulta pública de estado).
func (r *InvoiceRepo) GetByCDC(ctx context.Context, cdc string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE cdc = $1`
	return r.scanOne(r.q.QueryRow(ctx, query, cdc))
}

func (r *InvoiceRepo) scanOne(row pgx.Row) (*entity.Invoice, error) {
	var inv entity.Invoice
	var clientName, clientRUC, orderID, cdc, qrData, authCode, authMsg *string
	err := row.Scan(
		&inv.ID, &inv.Establecimiento, &inv.PuntoExpedicion, &inv.Numero, &inv.Timbrado,
		&inv.Kind, &inv.Currency, &inv.ClientID, &clientName, &clientRUC, &orderID,
		&inv.State, &inv.PaymentState, &inv.IssueDate, &inv.DueDate,
		&inv.Subtotal, &inv.Tax5, &inv.Tax10, &inv.TaxTotal, &inv.GrandTotal, &inv.OutstandingBalance,
		&cdc, &qrData, &authCode, &authMsg,
		&inv.SubmittedAt, &inv.AcceptedAt, &inv.CancelledAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	inv.ClientName = derefStr(clientName)
	inv.ClientRUC = derefStr(clientRUC)
	inv.OrderID = derefStr(orderID)
	inv.CDC = derefStr(cdc)
	inv.QRData = derefStr(qrData)
	inv.AuthorityCode = derefStr(authCode)
	inv.AuthorityMessage = derefStr(authMsg)
	return &inv, nil
}

// CreateLine persiste una línea de detalle.
func (r *InvoiceRepo) CreateLine(ctx context.Context, line *entity.InvoiceLine) error {
	if line.ID == "" {
		line.ID = uuid.New().String()
	}
	query := `
		INSERT INTO invoice_lines (id, invoice_id, ordinal, description, external_code, unit_measure, quantity, unit_price, tax_rate, subtotal, tax_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.q.Exec(ctx, query,
		line.ID, line.InvoiceID, line.Ordinal, line.Description, nullIfEmpty(line.ExternalCode),
		line.UnitMeasure, line.Quantity, line.UnitPrice, line.TaxRate, line.Subtotal, line.TaxAmount,
	)
	if err != nil {
		return fmt.Errorf("insert invoice line: %w", err)
	}
	return nil
}

// ReplaceLines borra y reinserta las líneas (edición en DRAFT).
func (r *InvoiceRepo) ReplaceLines(ctx context.Context, invoiceID string, lines []*entity.InvoiceLine) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("delete invoice lines: %w", err)
	}
	for _, line := range lines {
		line.InvoiceID = invoiceID
		if err := r.CreateLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

// GetLinesByInvoiceID obtiene las líneas en orden.
func (r *InvoiceRepo) GetLinesByInvoiceID(ctx context.Context, invoiceID string) ([]*entity.InvoiceLine, error) {
	query := `
		SELECT id, invoice_id, ordinal, description, external_code, unit_measure, quantity, unit_price, tax_rate, subtotal, tax_amount
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY ordinal`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	defer rows.Close()

	var lines []*entity.InvoiceLine
	for rows.Next() {
		var line entity.InvoiceLine
		var externalCode *string
		if err := rows.Scan(
			&line.ID, &line.InvoiceID, &line.Ordinal, &line.Description, &externalCode,
			&line.UnitMeasure, &line.Quantity, &line.UnitPrice, &line.TaxRate, &line.Subtotal, &line.TaxAmount,
		); err != nil {
			return nil, fmt.Errorf("scan invoice line: %w", err)
		}
		line.ExternalCode = derefStr(externalCode)
		lines = append(lines, &line)
	}
	return lines, rows.Err()
}

// NextNumber asigna el siguiente secuencial de la serie de forma atómica.
// El UPSERT con RETURNING garantiza que dos emisiones concurrentes nunca
// obtienen el mismo número, sin lock explícito.
func (r *InvoiceRepo) NextNumber(ctx context.Context, establecimiento, puntoExpedicion string) (int64, error) {
	query := `
		INSERT INTO invoice_series (establecimiento, punto_expedicion, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (establecimiento, punto_expedicion)
		DO UPDATE SET last_number = invoice_series.last_number + 1
		RETURNING last_number`
	var n int64
	if err := r.q.QueryRow(ctx, query, establecimiento, puntoExpedicion).Scan(&n); err != nil {
		return 0, fmt.Errorf("next invoice number: %w", err)
	}
	return n, nil
}
