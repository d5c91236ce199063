package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	mw "github.com/ecoscout/ecoscout-go/internal/api/middleware"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// ErrorResponse is the body of every error reply. Detail repeats Message for
// clients written against the FastAPI service.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
	Detail        string `json:"detail"`
}

// NewErrorResponse creates an error body with a fresh correlation id.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: mw.GenerateCorrelationID(),
		Detail:        message,
	}
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.IsCategory(err, errors.CategoryUnsupportedMedia),
		errors.IsCategory(err, errors.CategoryMediaDecode),
		errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// HandleError logs err and replies with an ErrorResponse.
func (s *Server) HandleError(c echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)
	ctx := c.Request().Context()
	if id := logger.TraceIDFromContext(ctx); id != "" {
		resp.CorrelationID = id
	}

	fields := []logger.Field{
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", c.Request().URL.Path),
		logger.String("method", c.Request().Method),
		logger.String("ip", c.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log := s.log.WithContext(ctx)
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Warn("API error", fields...)
	}

	return c.JSON(code, resp)
}

// httpErrorHandler renders errors returned by handlers and middleware,
// echo.HTTPError included, as ErrorResponse.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
		var cause error
		if he.Internal != nil {
			cause = he.Internal
		}
		_ = s.HandleError(c, cause, message, he.Code)
		return
	}

	code := statusFor(err)
	_ = s.HandleError(c, err, http.StatusText(code), code)
}
