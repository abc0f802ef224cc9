package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/models"
)

// ObjectSettings configure the S3-compatible frame store.
type ObjectSettings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL overrides the endpoint-derived base for returned URLs,
	// for deployments where clients reach the store through a different
	// host than the worker does.
	PublicBaseURL string
}

// Objects uploads frame images to a MinIO bucket.
type Objects struct {
	client  *minio.Client
	bucket  string
	baseURL string
	log     *slog.Logger
}

// NewObjects connects to the object store and ensures the bucket exists
// with a public-read policy, so persisted frame URLs are directly viewable.
func NewObjects(ctx context.Context, s ObjectSettings, log *slog.Logger) (*Objects, error) {
	client, err := minio.New(s.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.AccessKey, s.SecretKey, ""),
		Secure: s.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	o := &Objects{
		client:  client,
		bucket:  s.Bucket,
		baseURL: s.PublicBaseURL,
		log:     log,
	}
	if o.baseURL == "" {
		scheme := "http"
		if s.UseSSL {
			scheme = "https"
		}
		o.baseURL = scheme + "://" + s.Endpoint
	}

	if err := o.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Objects) ensureBucket(ctx context.Context) error {
	if err := o.client.MakeBucket(ctx, o.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, errCheck := o.client.BucketExists(ctx, o.bucket)
		if errCheck != nil || !exists {
			return fmt.Errorf("failed to create bucket %s: %w", o.bucket, err)
		}
	}

	policy := fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"AWS": ["*"]},
			"Action": ["s3:GetObject"],
			"Resource": ["arn:aws:s3:::%s/*"]
		}]
	}`, o.bucket)
	if err := o.client.SetBucketPolicy(ctx, o.bucket, policy); err != nil {
		// Some S3 backends forbid public policies; frames then need
		// authenticated access, which is fine for the pipeline itself.
		o.log.Warn("could not set public-read bucket policy", "bucket", o.bucket, "error", err)
	}
	return nil
}

// UploadFrame stores a frame image under the job's prefix and returns its
// URL. Only frames that survived deduplication and analysis are uploaded.
func (o *Objects) UploadFrame(ctx context.Context, jobID, filePath string, frameIndex int) (string, error) {
	key := fmt.Sprintf("media/%s/frames/frame_%03d.jpg", jobID, frameIndex)
	_, err := o.client.FPutObject(ctx, o.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to upload frame %s: %w", models.ErrPersistence, key, err)
	}
	return o.baseURL + "/" + o.bucket + "/" + key, nil
}
