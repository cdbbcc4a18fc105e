package http

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/integration-service/internal/observability"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// RegisterMiddlewares attaches request tagging, deadlines, error rendering
// and request logging, outermost first.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestIDMiddleware())
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
}

// requestIDMiddleware echoes a caller's X-Request-ID or mints one, so error
// bodies and log lines can be matched to integration audit records.
func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, id)
		c.Locals("request_id", id)
		return c.Next()
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := apperrors.ToDomainError(err)
				requestID, _ := c.Locals("request_id").(string)
				if metrics != nil {
					metrics.RecordError(c.Path(), c.Method(), domainErr.Code)
				}
				body := fiber.Map{
					"code":       domainErr.Code,
					"message":    domainErr.Message,
					"request_id": requestID,
				}
				if len(domainErr.Details) > 0 {
					body["details"] = domainErr.Details
				}
				fields := []zap.Field{
					zap.String("code", domainErr.Code),
					zap.String("path", c.Path()),
					zap.String("request_id", requestID),
				}
				switch {
				case domainErr.HTTPStatus >= 500:
					logger.Error("request failed", append(fields, zap.Error(domainErr))...)
				case domainErr.HTTPStatus == fiber.StatusUnauthorized || domainErr.HTTPStatus == fiber.StatusForbidden:
					logger.Warn("request denied", fields...)
				default:
					logger.Debug("request rejected", fields...)
				}
				response := fiber.Map{"error": body}
				c.Status(domainErr.HTTPStatus)
				_ = c.JSON(response)
				err = nil
			}
		}()
		return c.Next()
	}
}
