// Package s3 archives finalized event media to an S3-compatible bucket.
package s3

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pirwatch/internal/history"
	"pirwatch/internal/pipeline"
)

// ObjectStore is the subset of *minio.Client used by the archiver.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver uploads an event's animation and stills.
type Archiver struct {
	store  ObjectStore
	bucket string
}

func NewMinioArchiver(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return NewArchiver(client, bucket), nil
}

// NewArchiver uses an existing object store.
func NewArchiver(store ObjectStore, bucket string) *Archiver {
	return &Archiver{store: store, bucket: bucket}
}

// EnsureBucket creates the bucket when it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	log.Printf("[Archive] Created bucket %s", a.bucket)
	return nil
}

// ObjectPrefix is the folder holding one record's media.
func ObjectPrefix(rec history.Record) string {
	return path.Join(rec.Timestamp.Format("2006/01/02"), rec.ID)
}

// ArchiveRecord uploads every media file of rec and returns the object
// names written. Missing paths are skipped.
func (a *Archiver) ArchiveRecord(ctx context.Context, rec history.Record) ([]string, error) {
	files := make([]string, 0, len(rec.AllImagePaths)+1)
	if rec.AnimationPath != "" {
		files = append(files, rec.AnimationPath)
	}
	files = append(files, rec.AllImagePaths...)

	prefix := ObjectPrefix(rec)
	objects := make([]string, 0, len(files))
	for _, file := range files {
		object := path.Join(prefix, filepath.Base(file))
		_, err := a.store.FPutObject(ctx, a.bucket, object, file, minio.PutObjectOptions{
			ContentType: contentType(file),
			UserMetadata: map[string]string{
				"event-id": rec.ID,
				"outcome":  string(rec.Outcome),
			},
		})
		if err != nil {
			return objects, fmt.Errorf("failed to upload %s: %w", file, err)
		}
		objects = append(objects, object)
	}
	return objects, nil
}

// Run archives every finalized event received on ch until ctx is done
// or ch is closed.
func (a *Archiver) Run(ctx context.Context, ch <-chan pipeline.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != pipeline.EventFinalized || ev.Record == nil {
				continue
			}
			objects, err := a.ArchiveRecord(ctx, *ev.Record)
			if err != nil {
				log.Printf("[Archive] %v", err)
				continue
			}
			log.Printf("[Archive] Uploaded %d objects for event %s", len(objects), ev.Record.ID)
		}
	}
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".gif":
		return "image/gif"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
