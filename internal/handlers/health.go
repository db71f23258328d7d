package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wellis321/cv-app-sub000/internal/database"
)

// HealthHandler reports process liveness and database reachability.
type HealthHandler struct {
	db      *database.DB
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.DB) *HealthHandler {
	return &HealthHandler{db: db, started: time.Now()}
}

// Check responds 200 when the database answers a ping, 503 otherwise.
// GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := fiber.StatusOK
	dbStatus := "ok"
	if err := h.db.Ping(); err != nil {
		status = fiber.StatusServiceUnavailable
		dbStatus = "unreachable"
	}

	return c.Status(status).JSON(fiber.Map{
		"status":         dbStatus,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}
