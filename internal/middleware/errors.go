package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mintledger/internal/apperror"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler renders handler errors as JSON. Kinded errors map onto their
// HTTP status; anything unclassified is reported as an internal error
// without its message.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		body := errorBody{Code: "INTERNAL", Message: "internal error"}
		status := statusOf(err)

		var fe *fiber.Error
		switch kind := apperror.KindOf(err); {
		case kind != "":
			body.Code = string(kind)
			body.Message = err.Error()
			body.Retryable = apperror.Retryable(err)
			if kind == apperror.KindUnavailable {
				body.Message = "service temporarily unavailable"
			}
		case errors.As(err, &fe):
			body.Code = codeForStatus(fe.Code)
			body.Message = fe.Message
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
		}
		body.RequestID, _ = c.Locals(requestIDKey).(string)

		return c.Status(status).JSON(fiber.Map{"error": body})
	}
}

func statusOf(err error) int {
	if kind := apperror.KindOf(err); kind != "" {
		return apperror.HTTPStatus(kind)
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusUnprocessableEntity:
		return "UNPROCESSABLE"
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	case fiber.StatusServiceUnavailable:
		return "UNAVAILABLE"
	}
	if status >= fiber.StatusInternalServerError {
		return "INTERNAL"
	}
	return "ERROR"
}
