package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestlog/logistica-api/internal/application/billing"
	"github.com/gestlog/logistica-api/internal/application/dto"
	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
)

func TestIssueRequiresAtLeastOneLine(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})

	created, err := env.invoiceUC.CreateInvoice(context.Background(), dto.CreateInvoiceRequest{
		ClientID: testClientID,
		Kind:     string(entity.KindCash),
		Currency: "PYG",
	})
	require.NoError(t, err)
	assert.Equal(t, string(entity.StateDraft), created.State)
	assert.Empty(t, created.DocumentNumber) // DRAFT no consume número

	_, err = env.lifecycleUC.Issue(context.Background(), created.ID)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "lines", vErr.Field)

	// El borrador sigue editable
	inv, err := env.invoices.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateDraft, inv.State)
}

func TestIssueFreezesTotalsAndAllocatesSequentialNumbers(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})

	first := issuedInvoice(t, env, string(entity.KindCash))
	second := issuedInvoice(t, env, string(entity.KindCash))

	invA, _ := env.invoices.GetByID(context.Background(), first)
	invB, _ := env.invoices.GetByID(context.Background(), second)
	assert.Equal(t, "001-001-0000001", invA.DocumentNumber())
	assert.Equal(t, "001-001-0000002", invB.DocumentNumber())
	assert.Equal(t, testTimbrado, invA.Timbrado)

	// 3 × 300.000 PYG al 10%: subtotal 900.000, IVA 90.000, total 990.000
	assert.True(t, invA.Subtotal.Equal(decimal.NewFromInt(900000)))
	assert.True(t, invA.Tax10.Equal(decimal.NewFromInt(90000)))
	assert.True(t, invA.TaxTotal.Equal(decimal.NewFromInt(90000)))
	assert.True(t, invA.GrandTotal.Equal(decimal.NewFromInt(990000)))
	// Identidad del cliente copiada al emitir
	assert.Equal(t, testClientRUC, invA.ClientRUC)
	assert.NotEmpty(t, invA.ClientName)
}

func TestIssueCreditRequiresDueDate(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})

	created, err := env.invoiceUC.CreateInvoice(context.Background(), dto.CreateInvoiceRequest{
		ClientID: testClientID,
		Kind:     string(entity.KindCredit),
		Currency: "PYG",
		Lines:    serviceLines(),
	})
	require.NoError(t, err)

	_, err = env.lifecycleUC.Issue(context.Background(), created.ID)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "due_date", vErr.Field)
}

func TestIssueCreditOpensOutstandingBalance(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})

	id := issuedInvoice(t, env, string(entity.KindCredit))
	inv, _ := env.invoices.GetByID(context.Background(), id)
	assert.True(t, inv.OutstandingBalance.Equal(inv.GrandTotal))
	assert.Equal(t, entity.PaymentPending, inv.PaymentState)
}

func TestUpdateLinesOnlyInDraft(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})

	id := issuedInvoice(t, env, string(entity.KindCash))
	_, err := env.invoiceUC.UpdateLines(context.Background(), id, dto.UpdateLinesRequest{Lines: serviceLines()})
	require.ErrorIs(t, err, domain.ErrInvoiceLocked)
}

func TestUpdateLinesRecomputesTotalsDeterministically(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})

	created, err := env.invoiceUC.CreateInvoice(context.Background(), dto.CreateInvoiceRequest{
		ClientID: testClientID,
		Kind:     string(entity.KindCash),
		Currency: "PYG",
		Lines:    serviceLines(),
	})
	require.NoError(t, err)

	// Mezcla de tasas: 1.000.000 exento + 200.000 al 5% + 900.000 al 10%
	updated, err := env.invoiceUC.UpdateLines(context.Background(), created.ID, dto.UpdateLinesRequest{
		Lines: []dto.InvoiceLineRequest{
			{Description: "Flete exento", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1000000), TaxRate: 0},
			{Description: "Canasta básica", Quantity: decimal.NewFromInt(4), UnitPrice: decimal.NewFromInt(50000), TaxRate: 5},
			{Description: "Servicio general", Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(300000), TaxRate: 10},
		},
	})
	require.NoError(t, err)
	assert.True(t, updated.Subtotal.Equal(decimal.NewFromInt(2100000)), "subtotal: %s", updated.Subtotal)
	assert.True(t, updated.Tax5.Equal(decimal.NewFromInt(10000)))
	assert.True(t, updated.Tax10.Equal(decimal.NewFromInt(90000)))
	assert.True(t, updated.TaxTotal.Equal(decimal.NewFromInt(100000)))
	assert.True(t, updated.GrandTotal.Equal(decimal.NewFromInt(2200000)))

	// Recomputar sin cambiar líneas no mueve un guaraní
	recomputed, err := env.invoiceUC.RecomputeTotals(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, recomputed.GrandTotal.Equal(updated.GrandTotal))
}

func TestCancelRules(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})

	// DRAFT se anula sin más
	created, err := env.invoiceUC.CreateInvoice(context.Background(), dto.CreateInvoiceRequest{
		ClientID: testClientID, Kind: string(entity.KindCash), Currency: "PYG",
	})
	require.NoError(t, err)
	cancelled, err := env.lifecycleUC.Cancel(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(entity.StateCancelled), cancelled.State)
	assert.NotNil(t, cancelled.CancelledAt)

	// CANCELLED es terminal
	_, err = env.lifecycleUC.Issue(context.Background(), created.ID)
	var stErr *domain.InvalidStateTransitionError
	require.ErrorAs(t, err, &stErr)
}

func TestCancelAcceptedKeepsFiscalArtifacts(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})
	env.authority.script = []scriptedCall{{res: acceptedResult()}}

	id := issuedInvoice(t, env, string(entity.KindCash))
	out, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)

	cancelled, err := env.lifecycleUC.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(entity.StateCancelled), cancelled.State)
	// La anulación marca, no borra: CDC y respuesta de SIFEN se conservan
	assert.Equal(t, out.CDC, cancelled.CDC)
	assert.Equal(t, "0260", cancelled.AuthorityCode)

	// Y la factura anulada queda inmutable
	_, err = env.invoiceUC.UpdateLines(context.Background(), id, dto.UpdateLinesRequest{Lines: serviceLines()})
	require.ErrorIs(t, err, domain.ErrInvoiceLocked)
}

func TestCancelWhilePendingAuthorityIsRejected(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{MaxRetries: 0})
	env.authority.script = []scriptedCall{
		{err: &domain.TransportError{Err: context.DeadlineExceeded, Timeout: true}},
	}

	id := issuedInvoice(t, env, string(entity.KindCash))
	_, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)

	// SUBMITTED no admite anulación: primero reconciliar con SIFEN
	_, err = env.lifecycleUC.Cancel(context.Background(), id)
	var stErr *domain.InvalidStateTransitionError
	require.ErrorAs(t, err, &stErr)
}

func TestRegisterPaymentAxis(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})

	id := issuedInvoice(t, env, string(entity.KindCredit))
	inv, _ := env.invoices.GetByID(context.Background(), id)
	total := inv.GrandTotal

	// Pago parcial
	half := total.Div(decimal.NewFromInt(2)).Round(0)
	resp, err := env.lifecycleUC.RegisterPayment(context.Background(), id, dto.RegisterPaymentRequest{Amount: half})
	require.NoError(t, err)
	assert.Equal(t, string(entity.PaymentPartial), resp.PaymentState)
	assert.True(t, resp.OutstandingBalance.Equal(total.Sub(half)))

	// Sobrepago rechazado
	_, err = env.lifecycleUC.RegisterPayment(context.Background(), id, dto.RegisterPaymentRequest{Amount: total})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)

	// Saldo a cero: PAID, terminal en el eje de pago
	resp, err = env.lifecycleUC.RegisterPayment(context.Background(), id, dto.RegisterPaymentRequest{Amount: total.Sub(half)})
	require.NoError(t, err)
	assert.Equal(t, string(entity.PaymentPaid), resp.PaymentState)
	assert.True(t, resp.OutstandingBalance.IsZero())
}

func TestOverdueIsDerivedOnRead(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})

	created, err := env.invoiceUC.CreateInvoice(context.Background(), dto.CreateInvoiceRequest{
		ClientID: testClientID,
		Kind:     string(entity.KindCredit),
		Currency: "PYG",
		Lines:    serviceLines(),
	})
	require.NoError(t, err)

	// Vencimiento en el pasado inmediato
	due := time.Now().UTC().Add(-24 * time.Hour)
	inv, _ := env.invoices.GetByID(context.Background(), created.ID)
	inv.DueDate = &due
	require.NoError(t, env.invoices.Update(context.Background(), inv))

	_, err = env.lifecycleUC.Issue(context.Background(), created.ID)
	require.NoError(t, err)

	got, err := env.invoiceUC.GetInvoice(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(entity.PaymentOverdue), got.PaymentState)
}
