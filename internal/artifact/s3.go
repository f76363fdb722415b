package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/JonMunkholm/opennames/internal/core"
)

// ObjectAPI is the subset of *s3.Client used by S3.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// URLPresigner is the subset of *s3.PresignClient used by S3.
type URLPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Options configures an S3 publisher.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	TTL      time.Duration
}

// S3 uploads artifacts to a bucket and hands the store a presigned GET URL.
type S3 struct {
	objects   ObjectAPI
	presigner URLPresigner
	bucket    string
	prefix    string
	ttl       time.Duration
}

// NewS3 wires an S3 publisher to explicit clients.
func NewS3(objects ObjectAPI, presigner URLPresigner, opts S3Options) *S3 {
	return &S3{
		objects:   objects,
		presigner: presigner,
		bucket:    opts.Bucket,
		prefix:    opts.Prefix,
		ttl:       opts.TTL,
	}
}

// NewS3FromEnv loads AWS credentials from the default chain.
func NewS3FromEnv(ctx context.Context, opts S3Options) (*S3, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3(client, s3.NewPresignClient(client), opts), nil
}

// Key is the object key for ds.
func (p *S3) Key(ds core.DataSource) string {
	return path.Join(p.prefix, ds.Version, ds.FileName)
}

// Publish implements Publisher.
func (p *S3) Publish(ctx context.Context, ds core.DataSource, localPath string) (string, error) {
	const op = "artifact.publish"

	f, err := os.Open(localPath)
	if err != nil {
		return "", core.E(core.KindIO, op, err)
	}
	defer f.Close()

	key := p.Key(ds)
	_, err = p.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", core.E(core.KindPersistence, op, fmt.Errorf("put s3://%s/%s: %w", p.bucket, key, err))
	}

	u, err := p.presign(ctx, op, key)
	if err != nil {
		return "", err
	}

	slog.Debug("artifact uploaded", "bucket", p.bucket, "key", key, "data_source", ds.ID)
	return u, nil
}

// URL implements Publisher. It signs a new GET URL for the uploaded object.
func (p *S3) URL(ctx context.Context, ds core.DataSource) (string, error) {
	return p.presign(ctx, "artifact.url", p.Key(ds))
}

func (p *S3) presign(ctx context.Context, op, key string) (string, error) {
	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return "", core.E(core.KindPersistence, op, fmt.Errorf("presign s3://%s/%s: %w", p.bucket, key, err))
	}
	return req.URL, nil
}

// Remove implements Publisher.
func (p *S3) Remove(ctx context.Context, ds core.DataSource) error {
	key := p.Key(ds)
	_, err := p.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return core.E(core.KindPersistence, "artifact.remove", fmt.Errorf("delete s3://%s/%s: %w", p.bucket, key, err))
	}
	return nil
}
