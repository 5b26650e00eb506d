package entity_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
)

// allowedTransitions réplica de la tabla del ciclo de vida: todo par que no
// figure aquí debe fallar con InvalidStateTransitionError.
var allowedTransitions = map[entity.InvoiceState][]entity.InvoiceState{
	entity.StateDraft:     {entity.StateIssued, entity.StateCancelled},
	entity.StateIssued:    {entity.StateSubmitted, entity.StateCancelled},
	entity.StateSubmitted: {entity.StateAccepted, entity.StateRejected},
	entity.StateAccepted:  {entity.StateCancelled},
	entity.StateRejected:  {entity.StateDraft, entity.StateCancelled},
	entity.StateCancelled: {},
}

var allStates = []entity.InvoiceState{
	entity.StateDraft, entity.StateIssued, entity.StateSubmitted,
	entity.StateAccepted, entity.StateRejected, entity.StateCancelled,
}

// TestTransitionTo_ClausuraTabla recorre todos los pares (desde, hacia):
// solo las transiciones de la tabla deben pasar; el resto falla con
// InvalidStateTransitionError nombrando ambos estados.
func TestTransitionTo_ClausuraTabla(t *testing.T) {
	for _, from := range allStates {
		for _, to := range allStates {
			inv := &entity.Invoice{State: from}
			err := inv.TransitionTo(to)

			if contains(allowedTransitions[from], to) {
				require.NoError(t, err, "transición %s → %s debe permitirse", from, to)
				assert.Equal(t, to, inv.State)
			} else {
				var stErr *domain.InvalidStateTransitionError
				require.ErrorAs(t, err, &stErr, "transición %s → %s debe rechazarse", from, to)
				assert.Equal(t, string(from), stErr.From)
				assert.Equal(t, string(to), stErr.To)
				assert.Equal(t, from, inv.State, "un rechazo no debe mutar el estado")
			}
		}
	}
}

func contains(states []entity.InvoiceState, s entity.InvoiceState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func TestDocumentNumber_Formato(t *testing.T) {
	inv := &entity.Invoice{Establecimiento: "001", PuntoExpedicion: "002", Numero: 123}
	assert.Equal(t, "001-002-0000123", inv.DocumentNumber())
}

// TestRefreshPaymentState_Vencida una factura CREDIT con saldo y vencimiento
// superado pasa a OVERDUE; una CASH nunca cambia por vencimiento.
func TestRefreshPaymentState_Vencida(t *testing.T) {
	due := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	inv := &entity.Invoice{
		Kind:               entity.KindCredit,
		PaymentState:       entity.PaymentPending,
		DueDate:            &due,
		OutstandingBalance: decimal.NewFromInt(500_000),
	}

	inv.RefreshPaymentState(due.AddDate(0, 0, 5))
	assert.Equal(t, entity.PaymentOverdue, inv.PaymentState)

	cash := &entity.Invoice{Kind: entity.KindCash, PaymentState: entity.PaymentPaid}
	cash.RefreshPaymentState(time.Now())
	assert.Equal(t, entity.PaymentPaid, cash.PaymentState)
}

// TestRefreshPaymentState_PagadaEsTerminal PAID no regresa a OVERDUE aunque
// el vencimiento haya pasado.
func TestRefreshPaymentState_PagadaEsTerminal(t *testing.T) {
	due := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	inv := &entity.Invoice{
		Kind:         entity.KindCredit,
		PaymentState: entity.PaymentPaid,
		DueDate:      &due,
	}

	inv.RefreshPaymentState(due.AddDate(0, 1, 0))
	assert.Equal(t, entity.PaymentPaid, inv.PaymentState)
}

func TestClearFiscalArtifacts(t *testing.T) {
	now := time.Now()
	inv := &entity.Invoice{
		CDC:              "abc",
		QRData:           "qr",
		AuthorityCode:    "0260",
		AuthorityMessage: "Autorizado",
		SubmittedAt:      &now,
		AcceptedAt:       &now,
	}

	inv.ClearFiscalArtifacts()

	assert.Empty(t, inv.CDC)
	assert.Empty(t, inv.QRData)
	assert.Empty(t, inv.AuthorityCode)
	assert.Empty(t, inv.AuthorityMessage)
	assert.Nil(t, inv.SubmittedAt)
	assert.Nil(t, inv.AcceptedAt)
}
