package processor

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"vidblog/internal/server/service"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"
)

// ObjectPutter is the subset of *s3.Client the forwarder needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Forwarder copies the staged upload into the processing bucket, where
// the media pipeline picks it up.
type S3Forwarder struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Forwarder creates a forwarder writing to s3://bucket/prefix<name>.
func NewS3Forwarder(client ObjectPutter, bucket, prefix string) *S3Forwarder {
	return &S3Forwarder{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (f *S3Forwarder) Process(c echo.Context, upload *service.StoredUpload) error {
	file, err := os.Open(upload.Path)
	if err != nil {
		return &Error{Status: http.StatusInternalServerError, Message: "staged upload unavailable", Err: err}
	}
	defer file.Close()

	key := f.prefix + upload.Name()
	_, err = f.client.PutObject(c.Request().Context(), &s3.PutObjectInput{
		Bucket:        aws.String(f.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(upload.Size),
		ContentType:   aws.String(upload.MimeType),
		Metadata: map[string]string{
			"storage-id":     upload.StorageID,
			"digest-blake2b": upload.Digest,
		},
	})
	if err != nil {
		return &Error{Status: http.StatusBadGateway, Message: "failed to hand off upload for processing", Err: err}
	}

	slog.Info("upload forwarded",
		"storage_id", upload.StorageID,
		"bucket", f.bucket,
		"key", key,
	)
	return c.JSON(http.StatusOK, Response{Message: AcceptedMessage, ID: upload.StorageID})
}
