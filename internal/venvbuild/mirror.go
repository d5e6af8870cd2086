package venvbuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// archiveFetcher downloads a source archive that is missing locally.
type archiveFetcher interface {
	Fetch(rel, dest string) error
}

// MirrorClient wraps the S3 client for an archive mirror bucket.
type MirrorClient struct {
	ctx    context.Context
	Client *s3.Client
	Bucket string
	Prefix string
}

// NewMirrorClient initializes an S3 client from mirror settings. Static
// credentials are used when given; otherwise the default AWS chain applies.
func NewMirrorClient(ctx context.Context, m MirrorSettings) (*MirrorClient, error) {
	options := []func(*config.LoadOptions) error{
		config.WithRegion(m.Region),
	}
	if m.AccessKeyID != "" || m.SecretAccessKey != "" {
		if m.AccessKeyID == "" || m.SecretAccessKey == "" {
			return nil, fmt.Errorf("mirror credentials incomplete (need both VENVBUILD_MIRROR_ACCESS_KEY_ID and VENVBUILD_MIRROR_SECRET_ACCESS_KEY)")
		}
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(m.AccessKeyID, m.SecretAccessKey, "")))
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if m.Endpoint != "" {
			o.BaseEndpoint = aws.String(m.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &MirrorClient{ctx: ctx, Client: client, Bucket: m.Bucket, Prefix: m.Prefix}, nil
}

// key maps an archive path relative to 3rdparty onto a bucket key.
func (c *MirrorClient) key(rel string) string {
	return path.Join(c.Prefix, filepath.ToSlash(rel))
}

// Fetch downloads rel into dest through a temporary file in the same
// directory, so an interrupted download never leaves a partial archive.
func (c *MirrorClient) Fetch(rel, dest string) error {
	out, err := c.Client.GetObject(c.ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(c.key(rel)),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", c.Bucket, c.key(rel), err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fsError("mkdir", filepath.Dir(dest), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return fsError("create", dest, err)
	}
	defer os.Remove(tmp.Name())

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	var w io.Writer = tmp
	if bar := newBar(size, "Downloading "+filepath.Base(rel), true); bar != nil {
		w = io.MultiWriter(tmp, bar)
		defer bar.Finish()
	}

	if _, err := io.Copy(w, out.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fsError("close", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fsError("rename", dest, err)
	}
	return nil
}
