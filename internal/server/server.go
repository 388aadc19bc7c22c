// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the pipeline over HTTP for chat transports that
// cannot link it in-process.
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/pipeline"
	"github.com/pdiddy/recall-engine/pkg/types"
)

// Handler runs one message through the pipeline and reports the result.
type Handler interface {
	Handle(ctx context.Context, msg types.IncomingMessage, onResult pipeline.ResultFunc)
}

// Check reports the health of one dependency for /health.
type Check func(ctx context.Context) error

// New builds the fiber app with every route registered.
func New(cfg types.ServerConfig, h Handler, checks map[string]Check, log *logger.Logger) *fiber.App {
	log = logger.OrNop(log).With("service", "HTTPServer")
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	})
	app.Use(requestLogger(log))

	NewHealthHandler(checks).Register(app)
	v1 := app.Group("/api/v1")
	NewMessageHandler(h).Register(v1)
	return app
}

func requestLogger(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		log.Debug("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"elapsed", time.Since(start),
		)
		return err
	}
}

func errorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			log.Error("request failed", "path", c.Path(), "error", err)
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}

// MessageRequest is the body of POST /api/v1/messages.
type MessageRequest struct {
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageResponse lists deliveries in order: the private answer for the
// author, then the public message for the room.
type MessageResponse struct {
	Private *types.InstantAnswer  `json:"private"`
	Public  types.IncomingMessage `json:"public"`
}

// MessageHandler wires HTTP to the pipeline.
type MessageHandler struct {
	h Handler
}

func NewMessageHandler(h Handler) *MessageHandler {
	return &MessageHandler{h: h}
}

// Register mounts POST /messages on the given router group.
func (mh *MessageHandler) Register(r fiber.Router) {
	r.Post("/messages", mh.post)
}

func (mh *MessageHandler) post(c *fiber.Ctx) error {
	var req MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}
	if strings.TrimSpace(req.Room) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "room is required")
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	msg := types.IncomingMessage{Text: req.Text, Author: req.Author, Room: req.Room, Timestamp: req.Timestamp}
	var resp MessageResponse
	mh.h.Handle(c.UserContext(), msg, func(orig types.IncomingMessage, answer *types.InstantAnswer) {
		resp = MessageResponse{Private: answer, Public: orig}
	})
	return c.JSON(resp)
}

// HealthHandler reports the state of each configured dependency.
type HealthHandler struct {
	checks map[string]Check
}

func NewHealthHandler(checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Register mounts GET /health.
func (hh *HealthHandler) Register(r fiber.Router) {
	r.Get("/health", hh.health)
}

func (hh *HealthHandler) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := fiber.Map{}
	for name, check := range hh.checks {
		if err := check(ctx); err != nil {
			deps[name] = "error: " + err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "connected"
	}
	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"status": status, "dependencies": deps})
}
