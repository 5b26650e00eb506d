package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	infrasifen "github.com/gestlog/logistica-api/internal/infrastructure/sifen"
)

// HealthHandler reporta el estado del servicio y sus colaboradores: la base de
// datos y la disponibilidad del WS de SIFEN (el gatillo del modo contingencia).
type HealthHandler struct {
	appName   string
	pool      *pgxpool.Pool
	authority infrasifen.AuthorityClient
}

// NewHealthHandler construye el handler. authority puede ser nil (sin chequeo SIFEN).
func NewHealthHandler(appName string, pool *pgxpool.Pool, authority infrasifen.AuthorityClient) *HealthHandler {
	return &HealthHandler{appName: appName, pool: pool, authority: authority}
}

// Health estado del servicio.
// GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "ok"
	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			dbStatus = "down"
		}
	}

	sifenStatus := "ok"
	if h.authority != nil {
		if err := h.authority.Ping(ctx); err != nil {
			sifenStatus = "unreachable"
		}
	} else {
		sifenStatus = "disabled"
	}

	status := "ok"
	code := fiber.StatusOK
	if dbStatus != "ok" {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":  status,
		"service": h.appName,
		"db":      dbStatus,
		"sifen":   sifenStatus,
	})
}
