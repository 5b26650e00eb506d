package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gestlog/logistica-api/internal/application/billing"
	"github.com/gestlog/logistica-api/internal/application/dto"
)

// SubmissionHandler maneja el envío fiscal a SIFEN y las consultas de estado.
type SubmissionHandler struct {
	coordinator *billing.SubmissionCoordinator
}

// NewSubmissionHandler construye el handler.
func NewSubmissionHandler(coordinator *billing.SubmissionCoordinator) *SubmissionHandler {
	return &SubmissionHandler{coordinator: coordinator}
}

// Submit envía una factura emitida por la vía síncrona.
// POST /api/invoices/:id/submit
func (h *SubmissionHandler) Submit(c *fiber.Ctx) error {
	out, err := h.coordinator.Submit(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// SubmitBatch envía varias facturas en un lote.
// POST /api/submissions/batch
func (h *SubmissionHandler) SubmitBatch(c *fiber.Ctx) error {
	var in struct {
		InvoiceIDs []string `json:"invoice_ids"`
	}
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	out, err := h.coordinator.SubmitBatch(c.Context(), in.InvoiceIDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// Status reconcilia por CDC un envío pendiente.
// GET /api/submissions/:cdc/status
func (h *SubmissionHandler) Status(c *fiber.Ctx) error {
	out, err := h.coordinator.PollStatus(c.Context(), c.Params("cdc"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// BatchStatus reconcilia un lote pendiente por su identificador.
// GET /api/submissions/batch/:batchId/status
func (h *SubmissionHandler) BatchStatus(c *fiber.Ctx) error {
	out, err := h.coordinator.PollBatch(c.Context(), c.Params("batchId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}
