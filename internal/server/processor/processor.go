// Package processor holds the collaborators an accepted upload is handed to.
// A Processor either writes the HTTP response itself or returns an error for
// the API error handler to translate.
package processor

import (
	"fmt"
	"net/http"

	"vidblog/internal/server/service"

	"github.com/labstack/echo/v4"
)

// AcceptedMessage is the default success message shown to the uploader.
const AcceptedMessage = "Upload received. Your blog post is being generated."

// Processor turns a staged upload into downstream work.
type Processor interface {
	Process(c echo.Context, upload *service.StoredUpload) error
}

// Func adapts a function to the Processor interface.
type Func func(c echo.Context, upload *service.StoredUpload) error

func (f Func) Process(c echo.Context, upload *service.StoredUpload) error {
	return f(c, upload)
}

// Response is the success body written by the built-in processors.
type Response struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// Error is a processing failure that carries the status to report.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status, defaulting to 500.
func (e *Error) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// PublicMessage is the text safe to show the client.
func (e *Error) PublicMessage() string {
	return e.Message
}

// Acknowledger accepts the upload without further work. It is used when no
// downstream pipeline is configured.
type Acknowledger struct{}

func (Acknowledger) Process(c echo.Context, upload *service.StoredUpload) error {
	return c.JSON(http.StatusOK, Response{Message: AcceptedMessage, ID: upload.StorageID})
}
