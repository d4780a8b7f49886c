package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Config configures an S3-compatible disk.
type S3Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Region     string
	UseSSL     bool
	PublicBase string // browser-accessible base URL, e.g. "https://cdn.example.com/images"
	Timeout    time.Duration
}

// S3Backend implements Backend on any S3-compatible store (MinIO locally,
// AWS S3 or a compatible provider in production). Switching providers is a
// matter of endpoint and credentials, no code changes.
type S3Backend struct {
	client     *minio.Client
	bucket     string
	endpoint   string
	secure     bool
	publicBase string
	timeout    time.Duration
}

// NewS3Backend creates a MinIO client, ensures the bucket exists with a
// public-read policy, and returns a ready-to-use backend.
func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("created storage bucket")
	}

	if err := client.SetBucketPolicy(ctx, cfg.Bucket, publicReadPolicy(cfg.Bucket)); err != nil {
		return nil, fmt.Errorf("set bucket policy: %w", err)
	}

	return &S3Backend{
		client:     client,
		bucket:     cfg.Bucket,
		endpoint:   cfg.Endpoint,
		secure:     cfg.UseSSL,
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
		timeout:    cfg.Timeout,
	}, nil
}

// Name identifies the driver kind.
func (s *S3Backend) Name() string { return "s3" }

// Exists reports whether an object is present at path.
func (s *S3Backend) Exists(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	return err == nil
}

// Read returns the full object contents at path.
func (s *S3Backend) Read(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, backendErr(s.Name(), "read", path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, backendErr(s.Name(), "read", path, err)
	}
	return data, nil
}

// Write stores data at path with the given content type.
func (s *S3Backend) Write(ctx context.Context, path string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return backendErr(s.Name(), "write", path, err)
	}
	return nil
}

// Delete removes the object at path. S3 deletes are silent on missing keys,
// so an existence probe decides the return value.
func (s *S3Backend) Delete(ctx context.Context, path string) bool {
	if !s.Exists(ctx, path) {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}) == nil
}

// Copy duplicates the object server-side within the bucket.
func (s *S3Backend) Copy(ctx context.Context, from, to string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	src := minio.CopySrcOptions{Bucket: s.bucket, Object: from}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: to}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return backendErr(s.Name(), "copy", from, err)
	}
	return nil
}

// Move relocates an object via copy-then-delete.
func (s *S3Backend) Move(ctx context.Context, from, to string) error {
	if err := s.Copy(ctx, from, to); err != nil {
		return err
	}
	if !s.Delete(ctx, from) {
		return backendErr(s.Name(), "move", from, errSourceDelete)
	}
	return nil
}

// Size returns the object size in bytes.
func (s *S3Backend) Size(ctx context.Context, path string) (int64, error) {
	info, err := s.stat(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// LastModified returns the object's last modification time.
func (s *S3Backend) LastModified(ctx context.Context, path string) (time.Time, error) {
	info, err := s.stat(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	return info.LastModified, nil
}

// MimeType returns the content type recorded on the object.
func (s *S3Backend) MimeType(ctx context.Context, path string) (string, error) {
	info, err := s.stat(ctx, path)
	if err != nil {
		return "", err
	}
	return info.ContentType, nil
}

// URL returns the permanent URL for the given path.
// For local MinIO: "http://localhost:9000/images/abc.jpg"
// Behind a CDN base: "https://cdn.example.com/images/abc.jpg"
func (s *S3Backend) URL(path string) string {
	if s.publicBase != "" {
		return s.publicBase + "/" + path
	}
	scheme := "http"
	if s.secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, path)
}

// TemporaryURL returns a presigned GET URL valid for ttl.
func (s *S3Backend) TemporaryURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	u, err := s.client.PresignedGetObject(ctx, s.bucket, path, ttl, nil)
	if err != nil {
		return "", backendErr(s.Name(), "presign", path, err)
	}
	return u.String(), nil
}

func (s *S3Backend) stat(ctx context.Context, path string) (minio.ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	info, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return minio.ObjectInfo{}, ErrNotFound
		}
		return minio.ObjectInfo{}, backendErr(s.Name(), "stat", path, err)
	}
	return info, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// publicReadPolicy returns an S3 bucket policy JSON that allows anonymous GET
// on all objects.
func publicReadPolicy(bucket string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
