package client

import (
	"context"
	"errors"
	"sync"
)

// NoFileMessage is shown when submitting without a selected file.
const NoFileMessage = "Please upload a video or audio file."

// ErrSubmitInFlight is returned when Submit is called while a previous
// submission has not settled.
var ErrSubmitInFlight = errors.New("an upload is already in progress")

type State int

const (
	StateIdle State = iota
	StateInFlight
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlight:
		return "in-flight"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Uploader sends one file to the gateway. *Client implements it.
type Uploader interface {
	Upload(ctx context.Context, path string) (*UploadResult, error)
}

// Outcome is the message a settled submission displays.
type Outcome struct {
	OK      bool
	Message string
}

// Form holds a single file selection and drives at most one submission at
// a time.
type Form struct {
	uploader Uploader

	mu      sync.Mutex
	file    string
	state   State
	outcome Outcome
}

func NewForm(uploader Uploader) *Form {
	return &Form{uploader: uploader}
}

// Select replaces any previously selected file.
func (f *Form) Select(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.file = path
}

func (f *Form) Selected() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file
}

func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Outcome returns the message of the last settled submission.
func (f *Form) Outcome() Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// CanSubmit reports whether a file is selected and nothing is in flight.
func (f *Form) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file != "" && f.state != StateInFlight
}

// Submit uploads the selected file and returns the outcome to display. The
// returned error is the underlying cause of a failed outcome, for logging.
// Submitting with no file selected makes no request and leaves the form idle.
func (f *Form) Submit(ctx context.Context) (Outcome, error) {
	f.mu.Lock()
	if f.state == StateInFlight {
		f.mu.Unlock()
		return Outcome{}, ErrSubmitInFlight
	}
	if f.file == "" {
		f.outcome = Outcome{Message: NoFileMessage}
		f.mu.Unlock()
		return f.outcome, nil
	}
	path := f.file
	f.state = StateInFlight
	f.mu.Unlock()

	outcome := Outcome{Message: GenericErrorMessage}
	defer func() {
		f.mu.Lock()
		f.state = StateResolved
		f.outcome = outcome
		f.mu.Unlock()
	}()

	result, err := f.uploader.Upload(ctx, path)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			outcome.Message = apiErr.Message
		}
		return outcome, err
	}

	outcome = Outcome{OK: true, Message: result.Message}
	return outcome, nil
}
