package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"vidblog/internal/server/database"
	"vidblog/internal/server/storage"

	"github.com/google/uuid"
)

// --- Helpers ---

type testPart struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

func buildMultipart(t *testing.T, parts ...testPart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		disposition := `form-data; name="` + p.field + `"`
		if p.filename != "" {
			disposition += `; filename="` + p.filename + `"`
		}
		h.Set("Content-Disposition", disposition)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		pw, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		if _, err := pw.Write(p.content); err != nil {
			t.Fatalf("part write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("writer close: %v", err)
	}
	return &buf, w.Boundary()
}

func filePart(filename, contentType string, content []byte) testPart {
	return testPart{field: FileField, filename: filename, contentType: contentType, content: content}
}

type fakeLedger struct {
	mu        sync.Mutex
	recorded  []*database.Upload
	settled   map[string]string
	recordErr error
}

func (l *fakeLedger) Record(_ context.Context, u *database.Upload) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recordErr != nil {
		return l.recordErr
	}
	l.recorded = append(l.recorded, u)
	return nil
}

func (l *fakeLedger) MarkSettled(_ context.Context, id, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.settled == nil {
		l.settled = make(map[string]string)
	}
	l.settled[id] = status
	return nil
}

func newTestService(t *testing.T) (*IntakeService, string, *fakeLedger) {
	t.Helper()
	dir := t.TempDir()
	ledger := &fakeLedger{}
	return NewIntakeService(storage.NewFileSystemStore(dir), ledger), dir, ledger
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func accept(t *testing.T, svc *IntakeService, body io.Reader, boundary string) (*StoredUpload, error) {
	t.Helper()
	return svc.Accept(context.Background(), multipart.NewReader(body, boundary))
}

// --- Accept ---

func TestAccept(t *testing.T) {
	t.Run("stages a video upload", func(t *testing.T) {
		svc, dir, ledger := newTestService(t)
		content := bytes.Repeat([]byte("v"), 4096)
		body, boundary := buildMultipart(t, filePart("holiday.mp4", "video/mp4", content))

		upload, err := accept(t, svc, body, boundary)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := uuid.Parse(upload.StorageID); err != nil {
			t.Errorf("storage ID is not a UUID: %q", upload.StorageID)
		}
		if upload.Extension != ".mp4" {
			t.Errorf("expected .mp4, got %q", upload.Extension)
		}
		if upload.Path != filepath.Join(dir, upload.StorageID+".mp4") {
			t.Errorf("unexpected path %s", upload.Path)
		}
		if upload.Size != int64(len(content)) {
			t.Errorf("expected size %d, got %d", len(content), upload.Size)
		}
		if len(upload.Digest) != 64 {
			t.Errorf("expected 32-byte hex digest, got %q", upload.Digest)
		}

		stored, err := os.ReadFile(upload.Path)
		if err != nil {
			t.Fatalf("stored file missing: %v", err)
		}
		if !bytes.Equal(stored, content) {
			t.Error("stored content does not match upload")
		}

		if names := dirEntries(t, dir); len(names) != 1 {
			t.Errorf("expected exactly one file, got %v", names)
		}
		if len(ledger.recorded) != 1 || ledger.recorded[0].Status != database.StatusStaged {
			t.Errorf("expected one staged ledger row, got %+v", ledger.recorded)
		}
	})

	t.Run("stages audio without an extension", func(t *testing.T) {
		svc, dir, _ := newTestService(t)
		body, boundary := buildMultipart(t, filePart("recording", "audio/mpeg", []byte("mp3")))

		upload, err := accept(t, svc, body, boundary)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if upload.Extension != "" {
			t.Errorf("expected no extension, got %q", upload.Extension)
		}
		if upload.Path != filepath.Join(dir, upload.StorageID) {
			t.Errorf("unexpected path %s", upload.Path)
		}
	})

	t.Run("ignores other form fields", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		body, boundary := buildMultipart(t,
			testPart{field: "title", content: []byte("My trip")},
			filePart("a.webm", "video/webm", []byte("webm")),
			testPart{field: "tags", content: []byte("travel")},
		)

		if _, err := accept(t, svc, body, boundary); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("missing file field", func(t *testing.T) {
		svc, dir, _ := newTestService(t)
		body, boundary := buildMultipart(t, testPart{field: "title", content: []byte("x")})

		_, err := accept(t, svc, body, boundary)
		if !errors.Is(err, ErrFileRequired) {
			t.Fatalf("expected ErrFileRequired, got %v", err)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("expected nothing written, got %v", names)
		}
	})

	t.Run("file field without a filename counts as missing", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		body, boundary := buildMultipart(t, testPart{field: FileField, content: []byte("not a file")})

		if _, err := accept(t, svc, body, boundary); !errors.Is(err, ErrFileRequired) {
			t.Fatalf("expected ErrFileRequired, got %v", err)
		}
	})

	t.Run("empty file is rejected and removed", func(t *testing.T) {
		svc, dir, ledger := newTestService(t)
		body, boundary := buildMultipart(t, filePart("empty.mp4", "video/mp4", nil))

		if _, err := accept(t, svc, body, boundary); !errors.Is(err, ErrFileRequired) {
			t.Fatalf("expected ErrFileRequired, got %v", err)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("expected nothing left behind, got %v", names)
		}
		if len(ledger.recorded) != 0 {
			t.Error("empty upload must not be recorded")
		}
	})

	t.Run("unsupported type writes nothing", func(t *testing.T) {
		for _, ct := range []string{"image/png", "application/pdf", "text/plain", "", "application/octet-stream"} {
			t.Run(ct, func(t *testing.T) {
				svc, dir, _ := newTestService(t)
				body, boundary := buildMultipart(t, filePart("x.bin", ct, make([]byte, 1024)))

				_, err := accept(t, svc, body, boundary)
				if !errors.Is(err, ErrUnsupportedType) {
					t.Fatalf("expected ErrUnsupportedType, got %v", err)
				}
				if names := dirEntries(t, dir); len(names) != 0 {
					t.Errorf("expected nothing written, got %v", names)
				}
			})
		}
	})

	t.Run("oversized file is aborted and removed", func(t *testing.T) {
		svc, dir, ledger := newTestService(t)
		svc.maxSize = 1024
		body, boundary := buildMultipart(t, filePart("long.wav", "audio/wav", make([]byte, 1025)))

		_, err := accept(t, svc, body, boundary)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("expected ErrFileTooLarge, got %v", err)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("expected nothing left behind, got %v", names)
		}
		if len(ledger.recorded) != 0 {
			t.Error("oversized upload must not be recorded")
		}
	})

	t.Run("overlong extension is a parse error", func(t *testing.T) {
		svc, dir, ledger := newTestService(t)
		name := "clip." + strings.Repeat("a", 240)
		body, boundary := buildMultipart(t, filePart(name, "video/mp4", []byte("data")))

		_, err := accept(t, svc, body, boundary)

		var parseErr *ParseError
		if !errors.As(err, &parseErr) || !errors.Is(err, errInvalidExtension) {
			t.Fatalf("expected invalid extension ParseError, got %v", err)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("expected nothing written, got %v", names)
		}
		if len(ledger.recorded) != 0 {
			t.Error("rejected upload must not be recorded")
		}
	})

	t.Run("file exactly at the limit is accepted", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		svc.maxSize = 1024
		body, boundary := buildMultipart(t, filePart("exact.wav", "audio/wav", make([]byte, 1024)))

		upload, err := accept(t, svc, body, boundary)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if upload.Size != 1024 {
			t.Errorf("expected 1024 bytes, got %d", upload.Size)
		}
	})

	t.Run("body cap is reported as size failure", func(t *testing.T) {
		svc, dir, _ := newTestService(t)
		body, boundary := buildMultipart(t, filePart("clip.mov", "video/quicktime", make([]byte, 8192)))
		limited := http.MaxBytesReader(nil, io.NopCloser(body), 4096)

		_, err := accept(t, svc, limited, boundary)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("expected ErrFileTooLarge, got %v", err)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("expected nothing left behind, got %v", names)
		}
	})

	t.Run("second file part is rejected and first is discarded", func(t *testing.T) {
		svc, dir, ledger := newTestService(t)
		body, boundary := buildMultipart(t,
			filePart("one.mp4", "video/mp4", []byte("first")),
			filePart("two.mp4", "video/mp4", []byte("second")),
		)

		_, err := accept(t, svc, body, boundary)
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("expected ParseError, got %v", err)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("expected nothing left behind, got %v", names)
		}
		if len(ledger.recorded) != 0 {
			t.Error("rejected upload must not be recorded")
		}
	})

	t.Run("truncated body is a parse error", func(t *testing.T) {
		svc, dir, _ := newTestService(t)
		body, boundary := buildMultipart(t, filePart("cut.mp4", "video/mp4", bytes.Repeat([]byte("x"), 512)))
		truncated := bytes.NewReader(body.Bytes()[:body.Len()/2])

		_, err := accept(t, svc, truncated, boundary)
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("expected ParseError, got %v", err)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("expected nothing left behind, got %v", names)
		}
	})

	t.Run("ledger failure discards the staged file", func(t *testing.T) {
		svc, dir, ledger := newTestService(t)
		ledger.recordErr = errors.New("db down")
		body, boundary := buildMultipart(t, filePart("a.mp4", "video/mp4", []byte("data")))

		_, err := accept(t, svc, body, boundary)
		if err == nil || !strings.Contains(err.Error(), "db down") {
			t.Fatalf("expected wrapped ledger error, got %v", err)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("expected staged file to be removed, got %v", names)
		}
	})

	t.Run("works without a ledger", func(t *testing.T) {
		svc := NewIntakeService(storage.NewFileSystemStore(t.TempDir()), nil)
		body, boundary := buildMultipart(t, filePart("a.m4a", "audio/mp4", []byte("data")))

		upload, err := accept(t, svc, body, boundary)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		svc.Settle(context.Background(), upload, nil)
	})

	t.Run("missing directory is a storage error", func(t *testing.T) {
		svc := NewIntakeService(storage.NewFileSystemStore(filepath.Join(t.TempDir(), "gone")), nil)
		body, boundary := buildMultipart(t, filePart("a.mp4", "video/mp4", []byte("data")))

		_, err := accept(t, svc, body, boundary)
		var parseErr *ParseError
		if err == nil || errors.As(err, &parseErr) {
			t.Fatalf("expected a plain storage error, got %v", err)
		}
	})
}

func TestSettle(t *testing.T) {
	svc, _, ledger := newTestService(t)
	upload := &StoredUpload{StorageID: "ok-id"}
	failed := &StoredUpload{StorageID: "bad-id"}

	svc.Settle(context.Background(), upload, nil)
	svc.Settle(context.Background(), failed, errors.New("pipeline down"))

	if ledger.settled["ok-id"] != database.StatusDispatched {
		t.Errorf("expected dispatched, got %q", ledger.settled["ok-id"])
	}
	if ledger.settled["bad-id"] != database.StatusFailed {
		t.Errorf("expected failed, got %q", ledger.settled["bad-id"])
	}
}

// --- Policy helpers ---

func TestIsAcceptableType(t *testing.T) {
	tests := []struct {
		mimeType string
		want     bool
	}{
		{"video/mp4", true},
		{"video/quicktime", true},
		{"audio/mpeg", true},
		{"audio/ogg; codecs=opus", true},
		{"Video/MP4", true},
		{"image/png", false},
		{"application/octet-stream", false},
		{"text/video/mp4", false},
		{"videos/mp4", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			if got := IsAcceptableType(tt.mimeType); got != tt.want {
				t.Errorf("IsAcceptableType(%q) = %v, want %v", tt.mimeType, got, tt.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "clip.mp4", ".mp4"},
		{"case preserved", "CLIP.MOV", ".MOV"},
		{"multiple dots", "show.final.mkv", ".mkv"},
		{"no extension", "recording", ""},
		{"dotfile", ".hidden", ""},
		{"dotfile with extension", ".hidden.mp3", ".mp3"},
		{"trailing dot", "clip.", "."},
		{"unix path", "/tmp/evil/../clip.wav", ".wav"},
		{"windows path", `C:\Users\me\clip.flac`, ".flac"},
		{"dot in directory only", "dir.d/file", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extension(tt.input); got != tt.expected {
				t.Errorf("Extension(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidExtension(t *testing.T) {
	tests := []struct {
		name  string
		ext   string
		valid bool
	}{
		{"empty", "", true},
		{"common", ".mp4", true},
		{"trailing dot only", ".", true},
		{"unicode", ".vidéo", true},
		{"at the cap", "." + strings.Repeat("a", MaxExtensionLen-1), true},
		{"over the cap", "." + strings.Repeat("a", MaxExtensionLen), false},
		{"nul byte", ".mp\x004", false},
		{"control character", ".mp\t4", false},
		{"invalid utf-8", ".mp\xff", false},
		{"colon", ".mp4:stream", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidExtension(tt.ext); got != tt.valid {
				t.Errorf("ValidExtension(%q) = %v, want %v", tt.ext, got, tt.valid)
			}
		})
	}
}

func TestNewStorageID(t *testing.T) {
	t.Run("sequential IDs are unique v4 UUIDs", func(t *testing.T) {
		seen := make(map[string]bool, 10000)
		for i := 0; i < 10000; i++ {
			id, err := NewStorageID()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			parsed, err := uuid.Parse(id)
			if err != nil || parsed.Version() != 4 {
				t.Fatalf("expected v4 UUID, got %q", id)
			}
			if seen[id] {
				t.Fatalf("duplicate storage ID generated: %s", id)
			}
			seen[id] = true
		}
	})

	t.Run("concurrent IDs are unique", func(t *testing.T) {
		const workers, perWorker = 8, 1000
		ids := make(chan string, workers*perWorker)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					id, err := NewStorageID()
					if err != nil {
						t.Error(err)
						return
					}
					ids <- id
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := make(map[string]bool, workers*perWorker)
		for id := range ids {
			if seen[id] {
				t.Fatalf("duplicate storage ID generated: %s", id)
			}
			seen[id] = true
		}
	})
}

func TestLedgerText(t *testing.T) {
	t.Run("strips NUL and invalid UTF-8", func(t *testing.T) {
		got := ledgerText("a\x00b\xffc", 255)
		if got != "ab?c" {
			t.Errorf("expected %q, got %q", "ab?c", got)
		}
	})

	t.Run("truncates on a rune boundary", func(t *testing.T) {
		got := ledgerText("ab"+"é", 3)
		if got != "ab" {
			t.Errorf("expected %q, got %q", "ab", got)
		}
	})
}
