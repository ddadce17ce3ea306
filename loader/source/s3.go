package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pdfrag/types"
)

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Config struct {
	Bucket string
	Prefix string
	// "us-east-1"
	Region string
	// "http://127.0.0.1:9000"; empty for AWS
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Source offers the matching objects under a bucket prefix. Object ETags
// serve as versions.
type S3Source struct {
	client   S3API
	bucket   string
	prefix   string
	patterns []string
}

// Connect builds an S3 client for cfg. A custom endpoint (minio and friends)
// switches to path-style addressing.
func Connect(cfg S3Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return s3.NewFromConfig(aws.Config{Region: region}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		}
	})
}

// NewS3Source lists objects under prefix, which is treated as a folder:
// "docs" covers "docs/a.pdf" but not "docs-archive/a.pdf".
func NewS3Source(client S3API, bucket, prefix string, patterns ...string) *S3Source {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Source{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		patterns: patterns,
	}
}

func (s *S3Source) ID() string {
	return "s3:" + path.Join(s.bucket, s.prefix)
}

func (s *S3Source) List(ctx context.Context) ([]Entry, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix)
	}

	var entries []Entry
	pages := s3.NewListObjectsV2Paginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, &types.SourceError{SourceID: s.ID(), Op: "list", Err: err}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasPrefix(key, s.prefix) || strings.HasSuffix(key, "/") || !Matches(key, s.patterns) {
				continue
			}
			entries = append(entries, Entry{
				Path:    s.relative(key),
				Version: strings.Trim(aws.ToString(obj.ETag), `"`),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (s *S3Source) relative(key string) string {
	return strings.TrimPrefix(key, s.prefix)
}

// Open downloads the object into memory.
func (s *S3Source) Open(ctx context.Context, p string) (Object, error) {
	key := s.prefix + p
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return memObject{Reader: bytes.NewReader(body)}, nil
}
