package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/gestlog/logistica-api/internal/application/dto"
	"github.com/gestlog/logistica-api/internal/domain"
)

// respondError traduce la taxonomía de errores del dominio a HTTP. Los errores
// con datos (validación, transición, rechazo) conservan su mensaje; el código
// y mensaje de SIFEN nunca se parafrasean.
func respondError(c *fiber.Ctx, err error) error {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: vErr.Error()})
	}
	var stErr *domain.InvalidStateTransitionError
	if errors.As(err, &stErr) {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_STATE", Message: stErr.Error()})
	}
	var rejErr *domain.AuthorityRejectionError
	if errors.As(err, &rejErr) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "AUTHORITY_REJECTED", Message: rejErr.Error()})
	}
	var sigErr *domain.SigningError
	if errors.As(err, &sigErr) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "SIGNING", Message: sigErr.Error()})
	}
	var tErr *domain.TransportError
	if errors.As(err, &tErr) {
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "TRANSPORT", Message: tErr.Error()})
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "recurso no encontrado"})
	case errors.Is(err, domain.ErrInvoiceLocked):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "LOCKED", Message: err.Error()})
	case errors.Is(err, domain.ErrPendingAuthority):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "PENDING_AUTHORITY", Message: err.Error()})
	case errors.Is(err, domain.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}
