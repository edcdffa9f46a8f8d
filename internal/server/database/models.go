package database

import "time"

// Upload statuses recorded in the ledger.
const (
	StatusStaged     = "staged"
	StatusDispatched = "dispatched"
	StatusFailed     = "failed"
)

// Upload is the ledger row for one accepted upload.
type Upload struct {
	StorageID    string
	OriginalName string
	Extension    string
	MimeType     string
	Size         int64
	Digest       string
	Status       string
	ReceivedAt   time.Time
	SettledAt    *time.Time // nil until the processor returns
}

// StoredName is the file name the upload was staged under.
func (u *Upload) StoredName() string {
	return u.StorageID + u.Extension
}

// Stats holds aggregate ledger statistics.
type Stats struct {
	TotalUploads int64
	Staged       int64
	Dispatched   int64
	Failed       int64
	BytesStaged  int64
}
