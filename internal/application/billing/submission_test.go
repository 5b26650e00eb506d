package billing_test

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestlog/logistica-api/internal/application/billing"
	"github.com/gestlog/logistica-api/internal/application/dto"
	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/internal/domain/entity"
	infrasifen "github.com/gestlog/logistica-api/internal/infrastructure/sifen"
	"github.com/gestlog/logistica-api/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Entorno de test
// ──────────────────────────────────────────────────────────────────────────────

const (
	testClientID  = "00000000-0000-0000-0000-000000000001"
	testClientRUC = "80098765-9" // DV válido (módulo 11)
	testIssuerRUC = "80012345-0"
	testTimbrado  = "12558946"
	testCSC       = "ABCD0000000000000000000000000000"
)

type testEnv struct {
	invoices  *fakeInvoiceRepo
	attempts  *fakeAttemptRepo
	queue     *fakeQueueRepo
	authority *fakeAuthority

	invoiceUC   *billing.InvoiceUseCase
	lifecycleUC *billing.LifecycleUseCase
	coordinator *billing.SubmissionCoordinator
	drainer     *billing.ContingencyDrainer
}

func newTestEnv(t *testing.T, cfg billing.SubmissionConfig) *testEnv {
	t.Helper()

	invoices := newFakeInvoiceRepo()
	attempts := newFakeAttemptRepo()
	queue := newFakeQueueRepo()
	authority := newFakeAuthority()
	clients := &fakeClientRepo{clients: map[string]*entity.Client{
		testClientID: {ID: testClientID, Name: "Transportes Ñandutí S.A.", RUC: testClientRUC},
	}}
	orders := &fakeOrderRepo{orders: map[string]*entity.Order{}}
	txRunner := &fakeTxRunner{invoices: invoices, attempts: attempts, queue: queue}
	log := logger.New(logger.Config{Env: "production", Level: "error"})

	issuer := infrasifen.IssuerParams{
		RUC:         testIssuerRUC,
		LegalName:   "Gestlog Paraguay S.A.",
		Timbrado:    testTimbrado,
		CSC:         testCSC,
		Environment: "2",
	}
	series := billing.SeriesConfig{Establecimiento: "001", PuntoExpedicion: "001", Timbrado: testTimbrado}

	coordinator := billing.NewSubmissionCoordinator(
		txRunner, invoices, attempts,
		infrasifen.NewDocumentBuilderService(),
		nil, tls.Certificate{},
		authority, issuer, cfg, log,
	)

	return &testEnv{
		invoices:    invoices,
		attempts:    attempts,
		queue:       queue,
		authority:   authority,
		invoiceUC:   billing.NewInvoiceUseCase(invoices, clients, orders, attempts, log),
		lifecycleUC: billing.NewLifecycleUseCase(invoices, clients, attempts, series, log),
		coordinator: coordinator,
		drainer:     billing.NewContingencyDrainer(queue, invoices, coordinator, authority, log),
	}
}

// serviceLines tres líneas gravadas al 10%: 3 × 300.000 PYG.
func serviceLines() []dto.InvoiceLineRequest {
	return []dto.InvoiceLineRequest{{
		Description: "Servicio de transporte",
		Quantity:    decimal.NewFromInt(3),
		UnitPrice:   decimal.NewFromInt(300000),
		TaxRate:     10,
	}}
}

// issuedInvoice crea y emite una factura lista para enviar.
func issuedInvoice(t *testing.T, env *testEnv, kind string) string {
	t.Helper()
	var due *time.Time
	if kind == string(entity.KindCredit) {
		d := time.Now().UTC().AddDate(0, 1, 0)
		due = &d
	}
	created, err := env.invoiceUC.CreateInvoice(context.Background(), dto.CreateInvoiceRequest{
		ClientID: testClientID,
		Kind:     kind,
		Currency: "PYG",
		DueDate:  due,
		Lines:    serviceLines(),
	})
	require.NoError(t, err)
	_, err = env.lifecycleUC.Issue(context.Background(), created.ID)
	require.NoError(t, err)
	return created.ID
}

func acceptedResult() *infrasifen.SubmitResult {
	return &infrasifen.SubmitResult{Accepted: true, Code: "0260", Message: "Autorizado el DE"}
}

// ──────────────────────────────────────────────────────────────────────────────
// Envío síncrono
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitAcceptedRecordsArtifacts(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})
	env.authority.script = []scriptedCall{{res: acceptedResult()}}

	id := issuedInvoice(t, env, string(entity.KindCash))
	out, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, string(entity.OutcomeAccepted), out.Outcome)
	assert.Equal(t, string(entity.StateAccepted), out.State)
	assert.Len(t, out.CDC, 96)
	assert.Equal(t, "0260", out.AuthorityCode)
	assert.Equal(t, "Autorizado el DE", out.AuthorityMessage)

	inv, err := env.invoices.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAccepted, inv.State)
	assert.Equal(t, out.CDC, inv.CDC)
	assert.NotEmpty(t, inv.QRData)
	assert.NotNil(t, inv.AcceptedAt)
	// Una contado aceptada queda saldada en el acto
	assert.Equal(t, entity.PaymentPaid, inv.PaymentState)

	attempts, err := env.attempts.ListByInvoice(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, entity.OutcomeAccepted, attempts[0].Outcome)
}

func TestSubmitIdempotentAfterAccepted(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})
	env.authority.script = []scriptedCall{{res: acceptedResult()}}

	id := issuedInvoice(t, env, string(entity.KindCash))
	first, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)

	// El reenvío devuelve el resultado registrado sin tocar la red
	second, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first.CDC, second.CDC)
	assert.Equal(t, string(entity.OutcomeAccepted), second.Outcome)
	assert.Equal(t, 1, env.authority.calls())

	attempts, _ := env.attempts.ListByInvoice(context.Background(), id)
	assert.Len(t, attempts, 1)
}

func TestSubmitTimeoutLeavesPendingReconciliation(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{MaxRetries: 0})
	env.authority.script = []scriptedCall{
		{err: &domain.TransportError{Err: errors.New("deadline exceeded"), Timeout: true}},
	}

	id := issuedInvoice(t, env, string(entity.KindCash))
	out, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeTimeout), out.Outcome)
	assert.Equal(t, string(entity.StateSubmitted), out.State)
	require.Len(t, out.CDC, 96)

	// Reenviar a ciegas está prohibido mientras haya un envío pendiente
	_, err = env.coordinator.Submit(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrPendingAuthority)

	// SIFEN sí había recibido el documento: la consulta por CDC lo resuelve
	env.authority.statusRes[out.CDC] = acceptedResult()
	resolved, err := env.coordinator.PollStatus(context.Background(), out.CDC)
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeAccepted), resolved.Outcome)

	inv, _ := env.invoices.GetByID(context.Background(), id)
	assert.Equal(t, entity.StateAccepted, inv.State)
	assert.NotNil(t, inv.AcceptedAt)

	attempts, _ := env.attempts.ListByInvoice(context.Background(), id)
	require.Len(t, attempts, 2)
	assert.Equal(t, entity.OutcomeTimeout, attempts[0].Outcome)
	assert.Equal(t, entity.OutcomeAccepted, attempts[1].Outcome)

	// Un segundo poll no duplica la aceptación
	again, err := env.coordinator.PollStatus(context.Background(), out.CDC)
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeAccepted), again.Outcome)
	attempts, _ = env.attempts.ListByInvoice(context.Background(), id)
	assert.Len(t, attempts, 2)
}

func TestSubmitRejectedKeepsVerbatimResponse(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})
	env.authority.script = []scriptedCall{{res: &infrasifen.SubmitResult{
		Accepted: false,
		Code:     "0420",
		Message:  "CDC no corresponde con el contenido del DE",
	}}}

	id := issuedInvoice(t, env, string(entity.KindCash))
	out, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeRejected), out.Outcome)
	assert.Equal(t, "0420", out.AuthorityCode)
	assert.Equal(t, "CDC no corresponde con el contenido del DE", out.AuthorityMessage)

	inv, _ := env.invoices.GetByID(context.Background(), id)
	assert.Equal(t, entity.StateRejected, inv.State)
	assert.Equal(t, "0420", inv.AuthorityCode)

	// Un rechazo nunca se reintenta automáticamente ni admite reenvío directo
	_, err = env.coordinator.Submit(context.Background(), id)
	var stErr *domain.InvalidStateTransitionError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, 1, env.authority.calls())

	// La enmienda regresa a DRAFT y limpia los artefactos del intento rechazado
	amended, err := env.lifecycleUC.AmendToDraft(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(entity.StateDraft), amended.State)
	assert.Empty(t, amended.CDC)
	assert.Empty(t, amended.AuthorityCode)

	// La pista de auditoría del rechazo se conserva
	attempts, _ := env.attempts.ListByInvoice(context.Background(), id)
	require.Len(t, attempts, 1)
	assert.Equal(t, "0420", attempts[0].AuthorityCode)
}

func TestPollStatusWithoutVerdictKeepsSubmitted(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{MaxRetries: 0})
	env.authority.script = []scriptedCall{
		{err: &domain.TransportError{Err: errors.New("deadline exceeded"), Timeout: true}},
	}

	id := issuedInvoice(t, env, string(entity.KindCash))
	out, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)

	// SIFEN todavía no vio el documento: la consulta responde "CDC inexistente"
	// al tope, sin veredicto. Eso jamás se registra como rechazo.
	env.authority.statusRes[out.CDC] = &infrasifen.SubmitResult{
		Pending: true, Code: "0422", Message: "CDC inexistente",
	}
	pending, err := env.coordinator.PollStatus(context.Background(), out.CDC)
	require.NoError(t, err)
	assert.Equal(t, string(entity.StateSubmitted), pending.State)
	assert.Equal(t, string(entity.OutcomeTimeout), pending.Outcome)
	assert.Empty(t, pending.AuthorityCode)

	inv, _ := env.invoices.GetByID(context.Background(), id)
	assert.Equal(t, entity.StateSubmitted, inv.State)
	assert.Empty(t, inv.AuthorityCode)
	attempts, _ := env.attempts.ListByInvoice(context.Background(), id)
	assert.Len(t, attempts, 1) // solo el TIMEOUT original, sin rechazo fantasma

	// Cuando SIFEN resuelve, la misma consulta cierra el ciclo
	env.authority.statusRes[out.CDC] = acceptedResult()
	resolved, err := env.coordinator.PollStatus(context.Background(), out.CDC)
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeAccepted), resolved.Outcome)
}

func TestSubmitConnectionFailureKeepsIssuedAndAudits(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{MaxRetries: 0})
	env.authority.script = []scriptedCall{
		{err: &domain.TransportError{Err: errors.New("connection refused")}},
		{res: acceptedResult()},
	}

	id := issuedInvoice(t, env, string(entity.KindCash))
	_, err := env.coordinator.Submit(context.Background(), id)
	var tErr *domain.TransportError
	require.ErrorAs(t, err, &tErr)

	// La conexión nunca se estableció: la factura sigue emitida y reenviable,
	// pero la llamada fallida queda en la pista de auditoría.
	inv, _ := env.invoices.GetByID(context.Background(), id)
	assert.Equal(t, entity.StateIssued, inv.State)
	attempts, _ := env.attempts.ListByInvoice(context.Background(), id)
	require.Len(t, attempts, 1)
	assert.Equal(t, entity.OutcomeTimeout, attempts[0].Outcome)

	out, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeAccepted), out.Outcome)
	attempts, _ = env.attempts.ListByInvoice(context.Background(), id)
	require.Len(t, attempts, 2)
	assert.Equal(t, entity.OutcomeAccepted, attempts[1].Outcome)
}

func TestSubmitRetriesTransportFailuresWithBackoff(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{MaxRetries: 2})
	env.authority.script = []scriptedCall{
		{err: &domain.TransportError{Err: errors.New("connection reset")}},
		{err: &domain.TransportError{Err: errors.New("connection reset")}},
		{res: acceptedResult()},
	}

	id := issuedInvoice(t, env, string(entity.KindCash))
	out, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeAccepted), out.Outcome)
	assert.Equal(t, 3, env.authority.calls())
}

// ──────────────────────────────────────────────────────────────────────────────
// Lotes
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitBatchMixedOutcomes(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})

	ids := []string{
		issuedInvoice(t, env, string(entity.KindCash)),
		issuedInvoice(t, env, string(entity.KindCash)),
		issuedInvoice(t, env, string(entity.KindCash)),
	}

	// El segundo documento del lote se rechaza; el resto se acepta.
	// Los resultados van indexados por CDC, nunca por posición.
	env.authority.batchFn = func(snaps []*infrasifen.DocumentSnapshot) (*infrasifen.BatchResult, error) {
		res := &infrasifen.BatchResult{
			BatchID: "lote-001",
			Results: make(map[string]*infrasifen.SubmitResult, len(snaps)),
		}
		for i, snap := range snaps {
			if i == 1 {
				res.Results[snap.CDC] = &infrasifen.SubmitResult{
					Accepted: false, Code: "0160", Message: "Timbrado vencido",
				}
				continue
			}
			res.Results[snap.CDC] = acceptedResult()
		}
		return res, nil
	}

	out, err := env.coordinator.SubmitBatch(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, "lote-001", out.BatchID)
	require.Len(t, out.Outcomes, 3)

	// Cada documento con su resultado independiente, por número legal
	states := map[string]int{}
	for docNum, o := range out.Outcomes {
		assert.NotEmpty(t, docNum)
		assert.Equal(t, "lote-001", o.BatchID)
		states[o.Outcome]++
	}
	assert.Equal(t, 2, states[string(entity.OutcomeAccepted)])
	assert.Equal(t, 1, states[string(entity.OutcomeRejected)])

	// El rechazo de uno no contagia al resto
	rejected := 0
	for _, id := range ids {
		inv, _ := env.invoices.GetByID(context.Background(), id)
		if inv.State == entity.StateRejected {
			rejected++
		} else {
			assert.Equal(t, entity.StateAccepted, inv.State)
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestSubmitBatchPendingResultsReconcileLater(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})
	id := issuedInvoice(t, env, string(entity.KindCash))

	// SIFEN confirma la recepción del lote pero aún no resuelve los documentos
	env.authority.batchFn = func(_ []*infrasifen.DocumentSnapshot) (*infrasifen.BatchResult, error) {
		return &infrasifen.BatchResult{BatchID: "lote-002", Results: map[string]*infrasifen.SubmitResult{}}, nil
	}

	out, err := env.coordinator.SubmitBatch(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, out.Outcomes, 1)
	for _, o := range out.Outcomes {
		assert.Equal(t, string(entity.OutcomeTimeout), o.Outcome)
		assert.Equal(t, string(entity.StateSubmitted), o.State)
	}

	// Más tarde el lote aparece resuelto
	inv, _ := env.invoices.GetByID(context.Background(), id)
	env.authority.batchFn = nil
	env.authority.batchRes = &infrasifen.BatchResult{
		BatchID: "lote-002",
		Results: map[string]*infrasifen.SubmitResult{inv.CDC: acceptedResult()},
	}
	resolved, err := env.coordinator.PollBatch(context.Background(), "lote-002")
	require.NoError(t, err)
	require.Len(t, resolved.Outcomes, 1)
	for _, o := range resolved.Outcomes {
		assert.Equal(t, string(entity.OutcomeAccepted), o.Outcome)
	}

	fresh, _ := env.invoices.GetByID(context.Background(), id)
	assert.Equal(t, entity.StateAccepted, fresh.State)
}

func TestSubmitBatchResolvesAlreadyAcceptedMembers(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})
	env.authority.script = []scriptedCall{{res: acceptedResult()}}

	first := issuedInvoice(t, env, string(entity.KindCash))
	second := issuedInvoice(t, env, string(entity.KindCash))

	// La primera ya fue aceptada por la vía síncrona
	firstOut, err := env.coordinator.Submit(context.Background(), first)
	require.NoError(t, err)

	var batched int
	env.authority.batchFn = func(snaps []*infrasifen.DocumentSnapshot) (*infrasifen.BatchResult, error) {
		batched = len(snaps)
		res := &infrasifen.BatchResult{BatchID: "lote-003", Results: map[string]*infrasifen.SubmitResult{}}
		for _, snap := range snaps {
			res.Results[snap.CDC] = acceptedResult()
		}
		return res, nil
	}

	// El duplicado no tumba el lote: su outcome registrado entra al mapa y
	// solo la segunda viaja a SIFEN
	out, err := env.coordinator.SubmitBatch(context.Background(), []string{first, second})
	require.NoError(t, err)
	require.Len(t, out.Outcomes, 2)
	assert.Equal(t, 1, batched)

	invFirst, _ := env.invoices.GetByID(context.Background(), first)
	dup := out.Outcomes[invFirst.DocumentNumber()]
	require.NotNil(t, dup)
	assert.Equal(t, string(entity.OutcomeAccepted), dup.Outcome)
	assert.Equal(t, firstOut.CDC, dup.CDC)

	attempts, _ := env.attempts.ListByInvoice(context.Background(), first)
	assert.Len(t, attempts, 1) // el reenvío en lote no duplica la aceptación
}

func TestSubmitBatchRefusedLeavesInvoicesIssued(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{})
	id := issuedInvoice(t, env, string(entity.KindCash))

	env.authority.batchFn = func(_ []*infrasifen.DocumentSnapshot) (*infrasifen.BatchResult, error) {
		return nil, &domain.AuthorityRejectionError{Code: "0301", Message: "XML del lote mal formado"}
	}

	_, err := env.coordinator.SubmitBatch(context.Background(), []string{id})
	var rejErr *domain.AuthorityRejectionError
	require.ErrorAs(t, err, &rejErr)
	assert.Equal(t, "0301", rejErr.Code)

	// El rechazo del sobre no toca los documentos: siguen emitidos
	inv, _ := env.invoices.GetByID(context.Background(), id)
	assert.Equal(t, entity.StateIssued, inv.State)
	attempts, _ := env.attempts.ListByInvoice(context.Background(), id)
	assert.Empty(t, attempts)
}

// ──────────────────────────────────────────────────────────────────────────────
// Contingencia
// ──────────────────────────────────────────────────────────────────────────────

func TestContingencyQueueAndDrain(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{ContingencyEnabled: true})
	env.authority.pingErr = &domain.TransportError{Err: errors.New("no route to host")}

	id := issuedInvoice(t, env, string(entity.KindCash))
	out, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeContingencyQueued), out.Outcome)
	assert.Equal(t, string(entity.StateSubmitted), out.State)
	// El CDC existe aunque SIFEN no haya visto el documento: se puede entregar
	// la representación al receptor de inmediato
	assert.Len(t, out.CDC, 96)
	assert.Equal(t, 1, env.queue.pendingCount())
	assert.Equal(t, 0, env.authority.calls())

	// SIFEN vuelve: el drenador entrega en orden de llegada
	env.authority.pingErr = nil
	env.authority.script = []scriptedCall{{res: acceptedResult()}}
	delivered, err := env.drainer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, env.queue.pendingCount())

	inv, _ := env.invoices.GetByID(context.Background(), id)
	assert.Equal(t, entity.StateAccepted, inv.State)

	attempts, _ := env.attempts.ListByInvoice(context.Background(), id)
	require.Len(t, attempts, 2)
	assert.Equal(t, entity.OutcomeContingencyQueued, attempts[0].Outcome)
	assert.Equal(t, entity.OutcomeAccepted, attempts[1].Outcome)
}

func TestDrainStopsWhileAuthorityStillDown(t *testing.T) {
	env := newTestEnv(t, billing.SubmissionConfig{ContingencyEnabled: true})
	env.authority.pingErr = &domain.TransportError{Err: errors.New("no route to host")}

	id := issuedInvoice(t, env, string(entity.KindCash))
	_, err := env.coordinator.Submit(context.Background(), id)
	require.NoError(t, err)

	// El WS sigue caído: la pasada registra el reintento y no vacía la cola
	env.authority.script = []scriptedCall{{err: &domain.TransportError{Err: errors.New("still down")}}}
	delivered, err := env.drainer.Drain(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, env.queue.pendingCount())

	items, _ := env.queue.ListPending(context.Background(), 10)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
}
