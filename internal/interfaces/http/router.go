// Package http expone la API REST del servicio de facturación.
package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gestlog/logistica-api/internal/application/billing"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	InvoiceUC   *billing.InvoiceUseCase
	LifecycleUC *billing.LifecycleUseCase
	Coordinator *billing.SubmissionCoordinator
	Health      *HealthHandler
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", deps.Health.Health)

	api := app.Group("/api")

	invoices := api.Group("/invoices")
	invoiceHandler := NewInvoiceHandler(deps.InvoiceUC, deps.LifecycleUC)
	invoices.Post("/", invoiceHandler.Create)
	invoices.Get("/:id", invoiceHandler.GetByID)
	invoices.Put("/:id/lines", invoiceHandler.UpdateLines)
	invoices.Post("/:id/recompute", invoiceHandler.Recompute)
	invoices.Post("/:id/issue", invoiceHandler.Issue)
	invoices.Post("/:id/cancel", invoiceHandler.Cancel)
	invoices.Post("/:id/amend", invoiceHandler.Amend)
	invoices.Post("/:id/payments", invoiceHandler.RegisterPayment)
	invoices.Get("/:id/attempts", invoiceHandler.ListAttempts)

	submissionHandler := NewSubmissionHandler(deps.Coordinator)
	invoices.Post("/:id/submit", submissionHandler.Submit)

	submissions := api.Group("/submissions")
	submissions.Post("/batch", submissionHandler.SubmitBatch)
	submissions.Get("/batch/:batchId/status", submissionHandler.BatchStatus)
	submissions.Get("/:cdc/status", submissionHandler.Status)
}
