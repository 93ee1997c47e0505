package storage

import (
	"errors"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
)

// IsNoSuchKey reports whether err means the object or its bucket is gone.
func IsNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
		return resp.StatusCode == http.StatusNotFound
	}
	// S3-compatible gateways in front of MinIO sometimes return plain text.
	return strings.Contains(strings.ToLower(err.Error()), "specified key does not exist")
}
