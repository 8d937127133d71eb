// Package ops serves the operational endpoints: liveness and
// prometheus metrics.
package ops

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	router *fiber.App
	log    *slog.Logger
}

func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log}
}

func (server *Server) setupRouter() {
	router := fiber.New()
	router.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	router.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	server.router = router
}

func (server *Server) StartServer(ctx context.Context, addr string) {
	server.setupRouter()
	server.log.Info("ops server starting", "address", addr)
	err := server.router.Listen(addr, fiber.ListenConfig{
		GracefulContext: ctx,
		OnShutdownSuccess: func() {
			server.log.Info("ops server stopped")
		},
	})
	if err != nil {
		server.log.Error("ops server failed", "error", err)
	}
}
