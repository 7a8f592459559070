package handler

import (
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer exposes h over HTTP. Every route except /metrics goes through
// Handle, so both runtimes share one code path.
func NewServer(h *Handler, logger *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(otelfiber.Middleware())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.All("/*", func(c *fiber.Ctx) error {
		resp, err := h.Handle(c.UserContext(), toProxyRequest(c))
		if err != nil {
			logger.Error("handler failed", "err", err, "path", c.Path())
			return fiber.ErrInternalServerError
		}
		for k, v := range resp.Headers {
			c.Set(k, v)
		}
		return c.Status(resp.StatusCode).SendString(resp.Body)
	})

	return app
}

func toProxyRequest(c *fiber.Ctx) events.APIGatewayProxyRequest {
	headers := make(map[string]string)
	for k, v := range c.GetReqHeaders() {
		headers[k] = strings.Join(v, ",")
	}
	query := make(map[string]string)
	for k, v := range c.Queries() {
		query[k] = v
	}
	return events.APIGatewayProxyRequest{
		HTTPMethod:            c.Method(),
		Path:                  c.Path(),
		Headers:               headers,
		QueryStringParameters: query,
		Body:                  string(c.Body()),
	}
}
