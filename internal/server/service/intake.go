package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"vidblog/internal/server/database"
	"vidblog/internal/server/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// MaxUploadSize is the fixed ceiling for a single upload (30 MiB).
const MaxUploadSize int64 = 30 * 1024 * 1024

// FileField is the multipart field the upload must be sent in.
const FileField = "file"

// Sentinel errors for the intake pipeline.
var (
	ErrFileRequired    = errors.New("file required")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
)

var errUnexpectedFile = errors.New("unexpected field: only one file may be uploaded")

var errInvalidExtension = errors.New("invalid file name extension")

// MaxExtensionLen bounds the extension copied into the stored file name,
// including the leading dot.
const MaxExtensionLen = 16

// ParseError reports a multipart body that could not be read.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// StoredUpload references an accepted file in the staging directory.
type StoredUpload struct {
	StorageID    string
	Extension    string
	Path         string
	OriginalName string
	MimeType     string
	Size         int64
	Digest       string
	ReceivedAt   time.Time
}

// Name is the file name the upload is staged under.
func (u *StoredUpload) Name() string {
	return u.StorageID + u.Extension
}

// Ledger records accepted uploads and their processing outcome.
type Ledger interface {
	Record(ctx context.Context, upload *database.Upload) error
	MarkSettled(ctx context.Context, storageID, status string) error
}

// IntakeService validates multipart uploads and stages accepted files.
type IntakeService struct {
	store   storage.Store
	ledger  Ledger
	maxSize int64
}

// NewIntakeService creates an intake service. ledger may be nil.
func NewIntakeService(store storage.Store, ledger Ledger) *IntakeService {
	return &IntakeService{
		store:   store,
		ledger:  ledger,
		maxSize: MaxUploadSize,
	}
}

// Accept consumes the multipart stream and stages the single file part.
// Validation order is presence, declared type, then size; the type is
// checked before anything is written. Only one file part is allowed and
// other fields are ignored.
func (s *IntakeService) Accept(ctx context.Context, mr *multipart.Reader) (*StoredUpload, error) {
	var upload *StoredUpload

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.discard(upload)
			return nil, classifyReadError(err)
		}

		if part.FormName() != FileField || part.FileName() == "" {
			_, err := io.Copy(io.Discard, part)
			part.Close()
			if err != nil {
				s.discard(upload)
				return nil, classifyReadError(err)
			}
			continue
		}

		if upload != nil {
			part.Close()
			s.discard(upload)
			return nil, &ParseError{Err: errUnexpectedFile}
		}

		upload, err = s.stage(part)
		part.Close()
		if err != nil {
			return nil, err
		}
	}

	if upload == nil {
		return nil, ErrFileRequired
	}

	if s.ledger != nil {
		if err := s.ledger.Record(ctx, upload.record()); err != nil {
			s.discard(upload)
			return nil, fmt.Errorf("failed to record upload %s: %w", upload.StorageID, err)
		}
	}

	slog.Info("upload staged",
		"storage_id", upload.StorageID,
		"mime_type", upload.MimeType,
		"size", upload.Size,
		"digest", upload.Digest,
	)
	return upload, nil
}

// Settle records the processor outcome for an accepted upload. The staged
// file is left in place either way; retention removes it later.
func (s *IntakeService) Settle(ctx context.Context, upload *StoredUpload, procErr error) {
	status := database.StatusDispatched
	if procErr != nil {
		status = database.StatusFailed
		slog.Warn("processing failed", "storage_id", upload.StorageID, "error", procErr)
	}

	if s.ledger == nil {
		return
	}
	if err := s.ledger.MarkSettled(ctx, upload.StorageID, status); err != nil {
		slog.Error("failed to settle upload", "storage_id", upload.StorageID, "error", err)
	}
}

func (s *IntakeService) stage(part *multipart.Part) (*StoredUpload, error) {
	mimeType := part.Header.Get("Content-Type")
	if !IsAcceptableType(mimeType) {
		return nil, ErrUnsupportedType
	}

	ext := Extension(part.FileName())
	if !ValidExtension(ext) {
		return nil, &ParseError{Err: errInvalidExtension}
	}

	storageID, err := NewStorageID()
	if err != nil {
		return nil, err
	}

	upload := &StoredUpload{
		StorageID:    storageID,
		Extension:    ext,
		OriginalName: part.FileName(),
		MimeType:     mimeType,
		ReceivedAt:   time.Now().UTC(),
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init digest: %w", err)
	}
	src := &sourceReader{r: io.TeeReader(part, hasher)}

	n, err := s.store.Save(upload.Name(), src, s.maxSize)
	switch {
	case errors.Is(err, storage.ErrLimitExceeded):
		return nil, ErrFileTooLarge
	case src.err != nil:
		return nil, classifyReadError(src.err)
	case err != nil:
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if n == 0 {
		s.discard(upload)
		return nil, ErrFileRequired
	}

	upload.Size = n
	upload.Path = s.store.Path(upload.Name())
	upload.Digest = hex.EncodeToString(hasher.Sum(nil))
	return upload, nil
}

func (s *IntakeService) discard(upload *StoredUpload) {
	if upload == nil {
		return
	}
	if err := s.store.Delete(upload.Name()); err != nil {
		slog.Error("failed to discard staged upload", "storage_id", upload.StorageID, "error", err)
	}
}

func (u *StoredUpload) record() *database.Upload {
	return &database.Upload{
		StorageID:    u.StorageID,
		OriginalName: ledgerText(u.OriginalName, 255),
		Extension:    u.Extension,
		MimeType:     ledgerText(u.MimeType, 255),
		Size:         u.Size,
		Digest:       u.Digest,
		Status:       database.StatusStaged,
		ReceivedAt:   u.ReceivedAt,
	}
}

// sourceReader remembers the first non-EOF error from the request stream,
// so transport failures can be told apart from storage failures.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

func classifyReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ErrFileTooLarge
	}
	return &ParseError{Err: err}
}

// IsAcceptableType reports whether a declared MIME type is video or audio.
func IsAcceptableType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.HasPrefix(mimeType, "video/") || strings.HasPrefix(mimeType, "audio/")
}

// NewStorageID returns a random (version 4) UUID string.
func NewStorageID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate storage ID: %w", err)
	}
	return id.String(), nil
}

// Extension returns the extension of the base of name, dot included.
// Leading dots do not start an extension, so ".bashrc" has none.
func Extension(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimLeft(name, ".")
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return ""
	}
	return name[dot:]
}

// ValidExtension reports whether ext can be used in a stored file name:
// empty, or a dot followed by printable characters other than separators,
// at most MaxExtensionLen bytes in total.
func ValidExtension(ext string) bool {
	if ext == "" {
		return true
	}
	if len(ext) > MaxExtensionLen || !utf8.ValidString(ext) {
		return false
	}
	for _, r := range ext {
		if unicode.IsControl(r) || !unicode.IsPrint(r) || r == '/' || r == '\\' || r == ':' {
			return false
		}
	}
	return true
}

// ledgerText makes client-supplied text safe for a VARCHAR(n) column.
func ledgerText(s string, n int) string {
	s = strings.ReplaceAll(strings.ToValidUTF8(s, "?"), "\x00", "")
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
