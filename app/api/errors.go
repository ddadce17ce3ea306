package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"pdfrag/types"
)

// ErrorHandler renders every error returned by a handler as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var valErr types.ValidationError
	if errors.As(err, &valErr) {
		return c.Status(valErr.Status).JSON(valErr)
	}

	apiErr := toError(err)
	if apiErr.Code >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "err", err)
	} else {
		slog.Debug("request rejected", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "err", err)
	}
	return c.Status(apiErr.Code).JSON(apiErr)
}

func toError(err error) Error {
	var (
		apiErr   Error
		fiberErr *fiber.Error
		embErr   *types.EmbeddingUnavailableError
		readErr  *types.StoreReadError
		writeErr *types.StoreWriteError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &fiberErr):
		return NewError(fiberErr.Code, fiberErr.Message)
	case errors.Is(err, types.ErrEmptyQuery):
		return NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, types.ErrNotFound):
		return NewError(fiber.StatusNotFound, err.Error())
	case errors.As(err, &embErr):
		return NewError(fiber.StatusServiceUnavailable, "embedding service unavailable")
	case errors.As(err, &readErr), errors.As(err, &writeErr):
		return NewError(fiber.StatusInternalServerError, "storage failure")
	default:
		return NewError(fiber.StatusInternalServerError, "internal server error")
	}
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func NewValidationError(errors map[string]string) types.ValidationError {
	return types.NewValidationError(errors)
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrInvalidID() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid id given",
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}

func ErrConflict(msg string) Error {
	return Error{
		Code:    fiber.StatusConflict,
		Message: msg,
	}
}
