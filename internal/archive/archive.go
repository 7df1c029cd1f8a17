// Package archive mirrors a run's terminal artifacts to an S3-compatible
// object store, so results outlive workspace teardown and local disks.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vk/photopipe/internal/config"
	"github.com/vk/photopipe/internal/ctxlog"
)

// Uploader pushes artifacts into one bucket under a per-run prefix.
type Uploader struct {
	client *minio.Client
	bucket string
}

// NewUploader builds an uploader from the resolved archive configuration.
func NewUploader(cfg *config.ArchiveConfig) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client for %s: %w", cfg.Endpoint, err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

// Upload implements the pipeline.Archiver interface. files maps
// workspace-relative artifact paths to absolute paths; objects land under
// runs/<run_id>/<relative path> with their sha256 attached as metadata.
func (u *Uploader) Upload(ctx context.Context, runID string, files map[string]string) error {
	logger := ctxlog.FromContext(ctx)
	for rel, abs := range files {
		objectKey := fmt.Sprintf("runs/%s/%s", runID, filepath.ToSlash(rel))

		digest, size, err := fileDigest(abs)
		if err != nil {
			return fmt.Errorf("failed to digest artifact %s: %w", abs, err)
		}

		contentType := mime.TypeByExtension(filepath.Ext(abs))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		_, err = u.client.FPutObject(ctx, u.bucket, objectKey, abs, minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{"sha256": digest},
		})
		if err != nil {
			return fmt.Errorf("failed to upload artifact %s to %s: %w", abs, objectKey, err)
		}
		logger.Info("Artifact archived.", "object", objectKey, "size", size, "sha256", digest)
	}
	return nil
}

func fileDigest(path string) (string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), int64(len(data)), nil
}
