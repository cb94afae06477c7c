package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// DownloadURL returns the public HTTPS address of an object. The whole path is
// escaped as a single segment, so slashes become %2F.
func DownloadURL(bucket, objectName string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, url.PathEscape(objectName))
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, content string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := io.Copy(writer, strings.NewReader(content)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			slog.Info("Object already exists, skipping write.", "gcsObject", objectName)
			return nil // Not a failure in an idempotent workflow.
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// BucketArchiver stores raw OCR payloads in a bucket, one object per record.
type BucketArchiver struct {
	bucket *storage.BucketHandle
}

func NewBucketArchiver(client *storage.Client, bucketName string) *BucketArchiver {
	return &BucketArchiver{bucket: client.Bucket(bucketName)}
}

func (a *BucketArchiver) Archive(ctx context.Context, objectName, content string) error {
	return SaveToGCSAtomically(ctx, a.bucket, objectName, content)
}

// ObjectVisitor is called once per listed object.
type ObjectVisitor func(attrs *storage.ObjectAttrs) error

// WalkObjects lists every object under prefix and hands its attributes to visit.
// Listing stops at the first error returned by visit.
func WalkObjects(ctx context.Context, client *storage.Client, bucketName, prefix string, visit ObjectVisitor) error {
	it := client.Bucket(bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects in %s: %w", bucketName, err)
		}
		if err := visit(attrs); err != nil {
			return err
		}
	}
}
