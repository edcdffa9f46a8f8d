package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"vidblog/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Messages returned to the uploader.
const (
	MsgUnsupportedType = "Unsupported file type. Please upload a video or audio file."
	MsgFileTooLarge    = "File size exceeds the limit"
	MsgFileRequired    = "file required"
	MsgInternal        = "Internal Server Error"
)

// Outcome labels used for logging and metrics.
const (
	outcomeAccepted        = "accepted"
	outcomeUnsupportedType = "unsupported_type"
	outcomeTooLarge        = "too_large"
	outcomeMissingFile     = "missing_file"
	outcomeParseError      = "parse_error"
	outcomeHTTPError       = "http_error"
	outcomeProcessingError = "processing_error"
	outcomeInternalError   = "internal_error"
)

// statusCoder is implemented by errors that declare their own HTTP status.
type statusCoder interface {
	StatusCode() int
}

// publicMessager is implemented by errors whose message is safe to return.
type publicMessager interface {
	PublicMessage() string
}

// translate maps any handler error to the status, body message and outcome
// label of the single response that will be sent for it.
func translate(err error) (status int, message string, outcome string) {
	var (
		parseErr *service.ParseError
		httpErr  *echo.HTTPError
		coded    statusCoder
	)

	switch {
	case errors.Is(err, service.ErrUnsupportedType):
		return http.StatusBadRequest, MsgUnsupportedType, outcomeUnsupportedType
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusBadRequest, MsgFileTooLarge, outcomeTooLarge
	case errors.Is(err, service.ErrFileRequired):
		return http.StatusBadRequest, MsgFileRequired, outcomeMissingFile
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, parseErr.Error(), outcomeParseError
	case errors.As(err, &httpErr):
		return httpErr.Code, httpErrorMessage(httpErr), outcomeHTTPError
	case errors.As(err, &coded):
		message := MsgInternal
		var public publicMessager
		if errors.As(err, &public) && public.PublicMessage() != "" {
			message = public.PublicMessage()
		}
		return coded.StatusCode(), message, outcomeProcessingError
	default:
		return http.StatusInternalServerError, MsgInternal, outcomeInternalError
	}
}

func httpErrorMessage(he *echo.HTTPError) string {
	switch m := he.Message.(type) {
	case string:
		if m != "" {
			return m
		}
	case error:
		return m.Error()
	case nil:
	default:
		return fmt.Sprint(m)
	}
	if text := http.StatusText(he.Code); text != "" {
		return text
	}
	return MsgInternal
}

// ErrorHandler is the terminal echo error handler. Every failure becomes one
// {"message": ...} response. When a response was already committed (for
// example a processor wrote its reply and then failed) nothing more is
// written and the error is only logged.
func ErrorHandler(err error, c echo.Context) {
	req := c.Request()

	if c.Response().Committed {
		slog.Warn("error after response was sent",
			"method", req.Method,
			"path", req.URL.Path,
			"error", err,
		)
		return
	}

	status, message, outcome := translate(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"outcome", outcome,
			"error", err,
		)
	} else {
		slog.Info("request rejected",
			"path", req.URL.Path,
			"status", status,
			"outcome", outcome,
			"reason", message,
		)
	}

	if req.Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, echo.Map{"message": message})
	}
	if err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}
