package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	// decoders for the formats browsers upload
	_ "image/gif"
	_ "image/png"

	"mindsync-backend/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

const (
	maxImageSize      = 5 << 20
	compressThreshold = 100 << 10
	maxImageDimension = 800
	jpegQuality       = 70
)

// ImageStore persists an uploaded profile image and returns the value
// saved in the profile's image_url
type ImageStore interface {
	Store(ctx context.Context, userID, contentType string, data []byte) (string, error)
}

// InlineImageStore keeps the image in the profile row as a data URL
type InlineImageStore struct{}

// Store encodes the image as a base64 data URL
func (InlineImageStore) Store(_ context.Context, _ string, contentType string, data []byte) (string, error) {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// S3ImageStore uploads images to a bucket
type S3ImageStore struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3ImageStore creates an S3 backed image store. Static credentials and
// a custom endpoint are used when configured.
func NewS3ImageStore(ctx context.Context, cfg config.AWSConfig) (*S3ImageStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.Region)
	if cfg.Endpoint != "" {
		baseURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.S3Bucket
	}

	return &S3ImageStore{client: client, bucket: cfg.S3Bucket, baseURL: baseURL}, nil
}

// Store uploads the image under avatars/<user>/<uuid> and returns its URL
func (s *S3ImageStore) Store(ctx context.Context, userID, contentType string, data []byte) (string, error) {
	key := fmt.Sprintf("avatars/%s/%s", userID, uuid.New().String())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	return s.baseURL + "/" + key, nil
}

// compressImage scales large images down to maxImageDimension and
// re-encodes them as JPEG. Small or undecodable images are returned as is.
func compressImage(data []byte, contentType string) ([]byte, string) {
	if len(data) <= compressThreshold {
		return data, contentType
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, contentType
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > height && width > maxImageDimension {
		height = height * maxImageDimension / width
		width = maxImageDimension
	} else if height >= width && height > maxImageDimension {
		width = width * maxImageDimension / height
		height = maxImageDimension
	}
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return data, contentType
	}
	if buf.Len() >= len(data) {
		return data, contentType
	}
	return buf.Bytes(), "image/jpeg"
}
