package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gestlog/logistica-api/internal/application/billing"
	"github.com/gestlog/logistica-api/internal/application/dto"
)

// InvoiceHandler maneja las peticiones HTTP del ciclo de vida de facturas.
type InvoiceHandler struct {
	invoiceUC   *billing.InvoiceUseCase
	lifecycleUC *billing.LifecycleUseCase
}

// NewInvoiceHandler construye el handler.
func NewInvoiceHandler(invoiceUC *billing.InvoiceUseCase, lifecycleUC *billing.LifecycleUseCase) *InvoiceHandler {
	return &InvoiceHandler{invoiceUC: invoiceUC, lifecycleUC: lifecycleUC}
}

// Create crea una factura en DRAFT.
// POST /api/invoices
func (h *InvoiceHandler) Create(c *fiber.Ctx) error {
	var in dto.CreateInvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	inv, err := h.invoiceUC.CreateInvoice(c.Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(inv)
}

// GetByID obtiene una factura con sus líneas.
// GET /api/invoices/:id
func (h *InvoiceHandler) GetByID(c *fiber.Ctx) error {
	inv, err := h.invoiceUC.GetInvoice(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(inv)
}

// UpdateLines reemplaza las líneas de una factura en DRAFT.
// PUT /api/invoices/:id/lines
func (h *InvoiceHandler) UpdateLines(c *fiber.Ctx) error {
	var in dto.UpdateLinesRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	inv, err := h.invoiceUC.UpdateLines(c.Context(), c.Params("id"), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(inv)
}

// Recompute recalcula los totales desde las líneas persistidas.
// POST /api/invoices/:id/recompute
func (h *InvoiceHandler) Recompute(c *fiber.Ctx) error {
	inv, err := h.invoiceUC.RecomputeTotals(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(inv)
}

// Issue emite la factura: congela totales y consume el número de la serie.
// POST /api/invoices/:id/issue
func (h *InvoiceHandler) Issue(c *fiber.Ctx) error {
	inv, err := h.lifecycleUC.Issue(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(inv)
}

// Cancel anula la factura.
// POST /api/invoices/:id/cancel
func (h *InvoiceHandler) Cancel(c *fiber.Ctx) error {
	inv, err := h.lifecycleUC.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(inv)
}

// Amend regresa una factura rechazada a DRAFT para corregirla.
// POST /api/invoices/:id/amend
func (h *InvoiceHandler) Amend(c *fiber.Ctx) error {
	inv, err := h.lifecycleUC.AmendToDraft(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(inv)
}

// RegisterPayment registra un pago parcial o total.
// POST /api/invoices/:id/payments
func (h *InvoiceHandler) RegisterPayment(c *fiber.Ctx) error {
	var in dto.RegisterPaymentRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	inv, err := h.lifecycleUC.RegisterPayment(c.Context(), c.Params("id"), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(inv)
}

// ListAttempts pista de auditoría de envíos de la factura.
// GET /api/invoices/:id/attempts
func (h *InvoiceHandler) ListAttempts(c *fiber.Ctx) error {
	attempts, err := h.invoiceUC.ListAttempts(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(attempts)
}
