package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Store stores blobs in an S3-compatible bucket (AWS S3, DigitalOcean
// Spaces, MinIO). Receipt images are stored private; only the service
// hands out their URLs to owners and admins.
type S3Store struct {
	s3Client *s3.S3
	bucket   string
	endpoint string
	cdnURL   string
}

// S3Config holds configuration for the S3 store
type S3Config struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Endpoint  string
	CDNURL    string
}

// NewS3Store creates a new S3-backed blob store
func NewS3Store(config S3Config) (*S3Store, error) {
	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		),
		Endpoint:         aws.String(config.Endpoint),
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &S3Store{
		s3Client: s3.New(sess),
		bucket:   config.Bucket,
		endpoint: config.Endpoint,
		cdnURL:   config.CDNURL,
	}, nil
}

// SaveFile uploads a blob under category/ownerID/<uuid><ext>
func (s *S3Store) SaveFile(ctx context.Context, category string, ownerID uint, filename string, content []byte, contentType string) (*SavedFile, error) {
	name := secureName(filename)
	key := objectKey(category, ownerID, name)

	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        aws.ReadSeekCloser(bytes.NewReader(content)),
		ACL:         aws.String("private"),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return &SavedFile{
		SecureName: name,
		URL:        s.urlFor(key),
	}, nil
}

// DeleteFile removes a blob
func (s *S3Store) DeleteFile(ctx context.Context, category string, name string) error {
	// The owner segment is embedded in stored URLs, not in secure names,
	// so deletion lists by prefix to find the exact key.
	resp, err := s.s3Client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(category + "/"),
	})
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	for _, obj := range resp.Contents {
		key := aws.StringValue(obj.Key)
		if len(key) >= len(name) && key[len(key)-len(name):] == name {
			_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return fmt.Errorf("failed to delete file: %w", err)
			}
			return nil
		}
	}

	return fmt.Errorf("file %s not found in category %s", name, category)
}

func (s *S3Store) urlFor(key string) string {
	if s.cdnURL != "" {
		return fmt.Sprintf("%s/%s", s.cdnURL, key)
	}
	return fmt.Sprintf("https://%s.%s/%s", s.bucket, s.endpoint, key)
}
