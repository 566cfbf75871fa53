// Package blobs opens and creates weight blobs on local disk or in Google Cloud Storage.
package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

const (
	gcsScheme  = "gs://"
	fileScheme = "file://"
)

// ErrInvalidURL is returned for malformed blob locations.
var ErrInvalidURL = errors.New("invalid blob url")

// Location is a parsed blob address.
type Location struct {
	Bucket string // Empty for local files.
	Object string // Object key, or the local path.
}

// IsGCS reports whether the blob lives in Google Cloud Storage.
func (l Location) IsGCS() bool {
	return l.Bucket != ""
}

// String renders the location back as a URL or path.
func (l Location) String() string {
	if l.IsGCS() {
		return gcsScheme + l.Bucket + "/" + l.Object
	}
	return l.Object
}

// Parse accepts gs://bucket/object, file:///path and plain paths.
func Parse(uri string) (Location, error) {
	switch {
	case strings.HasPrefix(uri, gcsScheme):
		bucket, object, ok := strings.Cut(strings.TrimPrefix(uri, gcsScheme), "/")
		if !ok || bucket == "" || object == "" {
			return Location{}, fmt.Errorf("%w: %q must be gs://bucket/object", ErrInvalidURL, uri)
		}
		return Location{Bucket: bucket, Object: object}, nil
	case strings.HasPrefix(uri, fileScheme):
		path := strings.TrimPrefix(uri, fileScheme)
		if path == "" {
			return Location{}, fmt.Errorf("%w: %q has no path", ErrInvalidURL, uri)
		}
		return Location{Object: path}, nil
	case strings.Contains(uri, "://"):
		return Location{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURL, uri)
	case uri == "":
		return Location{}, fmt.Errorf("%w: empty location", ErrInvalidURL)
	default:
		return Location{Object: uri}, nil
	}
}

// ReadAll reads the whole blob at uri.
func ReadAll(ctx context.Context, uri string) ([]byte, error) {
	log := klog.FromContext(ctx)

	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}

	if !loc.IsGCS() {
		data, err := os.ReadFile(loc.Object)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", loc.Object, err)
		}
		return data, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	log.Info("downloading blob from GCS", "source", loc.String())

	startedAt := time.Now()
	r, err := client.Bucket(loc.Bucket).Object(loc.Object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("opening object from GCS %q: %w", loc.String(), os.ErrNotExist)
		}
		return nil, fmt.Errorf("opening object from GCS %q: %w", loc.String(), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("downloading from GCS: %w", err)
	}

	log.Info("downloaded blob from GCS", "source", loc.String(), "bytes", len(data), "duration", time.Since(startedAt))
	return data, nil
}

// Write stores data at uri. Local files are replaced atomically.
func Write(ctx context.Context, uri string, data []byte) error {
	log := klog.FromContext(ctx)

	loc, err := Parse(uri)
	if err != nil {
		return err
	}

	if !loc.IsGCS() {
		return writeToFile(ctx, loc.Object, data)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	log.Info("uploading blob to GCS", "destination", loc.String(), "bytes", len(data))

	w := client.Bucket(loc.Bucket).Object(loc.Object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer: %w", err)
	}
	return nil
}

func writeToFile(ctx context.Context, destinationPath string, data []byte) error {
	log := klog.FromContext(ctx)

	dir := filepath.Dir(destinationPath)
	tempFile, err := os.CreateTemp(dir, "swiglu")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	log.V(2).Info("wrote blob", "path", destinationPath, "bytes", len(data))
	return nil
}
