package httpapi

import (
	"errors"
	"net/http"

	"github.com/StudioVBG/TALOK-sub009/internal/model"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Message string              `json:"message"`
	Errors  []*model.FieldError `json:"errors,omitempty"`
}

// ErrorHandler переводит ошибки сервисов в HTTP-ответы
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := errorResponse(err)
		if code >= http.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
	}
}

func errorResponse(err error) (int, ErrorResponse) {
	if fields := model.FieldErrors(err); len(fields) > 0 {
		return http.StatusBadRequest, ErrorResponse{Message: "validation failed", Errors: fields}
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Message: err.Error()}
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Message: err.Error()}
	case errors.Is(err, model.ErrCapacityExceeded),
		errors.Is(err, model.ErrStaleSlot),
		errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, ErrorResponse{Message: err.Error()}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, ErrorResponse{Message: msg}
	}

	return http.StatusInternalServerError, ErrorResponse{Message: "internal server error"}
}
