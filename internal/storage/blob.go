// Package storage publishes finished dataset files to a blob store.
// Implementations live in the local, gcs and memory subpackages.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// CSVContentType is sent with every uploaded table.
const CSVContentType = "text/csv; charset=utf-8"

// BlobStore stores one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ObjectPath returns the object key of file for a run:
// prefix/runID/basename.
func ObjectPath(prefix, runID, file string) string {
	return path.Join(strings.Trim(prefix, "/"), runID, filepath.Base(file))
}

// UploadFiles copies each local file into store under ObjectPath and returns
// the resulting URIs in the order of files. It stops at the first failure.
func UploadFiles(ctx context.Context, store BlobStore, prefix, runID string, files []string) ([]string, error) {
	uris := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f) // #nosec G304 -- paths come from the run's own output config.
		if err != nil {
			return uris, fmt.Errorf("read %s: %w", f, err)
		}
		uri, err := store.PutObject(ctx, ObjectPath(prefix, runID, f), CSVContentType, bytes.NewReader(data))
		if err != nil {
			return uris, fmt.Errorf("upload %s: %w", f, err)
		}
		uris = append(uris, uri)
	}
	return uris, nil
}
