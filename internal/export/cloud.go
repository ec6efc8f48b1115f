package export

import (
	"context"
	"io"
)

// CloudUploader mirrors finished archive files to object storage.
type CloudUploader interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
}
