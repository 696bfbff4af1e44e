package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // Bucket created or configured at startup
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the vehicleimage.ObjectStore interface
type Backend struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	config        Config
}

var _ vehicleimage.ObjectStore = (*Backend)(nil)

// New creates a new S3-compatible storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		}
		// Keep presigned PUT URLs free of checksum parameters the browser cannot supply.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	backend := &Backend{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		config:        config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.config.Bucket),
	})
	if err == nil {
		return nil
	}

	// Handle multiple error types for MinIO compatibility
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) && !hasCode(err, "NotFound", "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.config.Bucket),
	}
	// Add location constraint for regions other than us-east-1
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err = b.client.CreateBucket(ctx, createInput)
	if err != nil {
		if hasCode(err, "BucketAlreadyExists", "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// hasCode reports whether err is an S3 API error with one of the codes
func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

// PresignPut returns a presigned URL for uploading an image. The content type
// is part of the signature, so the client must send the same Content-Type.
func (b *Backend) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	result, err := b.presignClient.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
		if contentType != "" {
			opts.ClientOptions = append(opts.ClientOptions, func(o *s3.Options) {
				o.APIOptions = append(o.APIOptions, signContentType(contentType))
			})
		}
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned upload URL: %w", err)
	}
	return result.URL, nil
}

// presignContentType restores the Content-Type header after the presign
// stack strips it from body-less requests, so the signer binds it.
type presignContentType string

func (presignContentType) ID() string { return "VehicleImagePresignContentType" }

func (c presignContentType) HandleBuild(ctx context.Context, in middleware.BuildInput, next middleware.BuildHandler) (
	middleware.BuildOutput, middleware.Metadata, error,
) {
	req, ok := in.Request.(*smithyhttp.Request)
	if !ok {
		return middleware.BuildOutput{}, middleware.Metadata{}, fmt.Errorf("unknown transport type %T", in.Request)
	}
	req.Header.Set("Content-Type", string(c))
	return next.HandleBuild(ctx, in)
}

func signContentType(contentType string) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Build.Add(presignContentType(contentType), middleware.After)
	}
}

// PresignGet returns a presigned URL for displaying an image inline
func (b *Backend) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket:                     aws.String(bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String("inline"),
	}

	result, err := b.presignClient.PresignGetObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned download URL: %w", err)
	}
	return result.URL, nil
}

// Exists checks the object with a HEAD request
func (b *Backend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) || hasCode(err, "NotFound", "NoSuchKey") {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object: %w", err)
}

// Delete deletes an object; S3 reports success for missing keys
func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if hasCode(err, "NoSuchKey") {
			return nil
		}
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// Client exposes the underlying S3 client
func (b *Backend) Client() *s3.Client {
	return b.client
}

// Bucket returns the configured bucket name
func (b *Backend) Bucket() string {
	return b.config.Bucket
}

// uploadCORSRule is the rule browsers need to PUT to presigned URLs and read ETag
func uploadCORSRule(origins []string) types.CORSRule {
	return types.CORSRule{
		AllowedMethods: []string{"GET", "PUT", "POST", "DELETE", "HEAD"},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
		ExposeHeaders:  []string{"ETag"},
		MaxAgeSeconds:  aws.Int32(3600),
	}
}

// EnsureCORS adds the browser upload rule to the bucket unless an equivalent
// rule already exists. Existing rules are kept.
func (b *Backend) EnsureCORS(ctx context.Context, origins []string) (bool, error) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	want := uploadCORSRule(origins)

	var rules []types.CORSRule
	current, err := b.client.GetBucketCors(ctx, &s3.GetBucketCorsInput{
		Bucket: aws.String(b.config.Bucket),
	})
	switch {
	case err == nil:
		rules = current.CORSRules
	case hasCode(err, "NoSuchCORSConfiguration"):
	default:
		return false, fmt.Errorf("failed to read bucket CORS: %w", err)
	}

	for _, rule := range rules {
		if coversRule(rule, want) {
			return false, nil
		}
	}

	_, err = b.client.PutBucketCors(ctx, &s3.PutBucketCorsInput{
		Bucket: aws.String(b.config.Bucket),
		CORSConfiguration: &types.CORSConfiguration{
			CORSRules: append(rules, want),
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to update bucket CORS: %w", err)
	}
	return true, nil
}

// coversRule reports whether have allows every method and origin in want
func coversRule(have, want types.CORSRule) bool {
	return containsAll(have.AllowedMethods, want.AllowedMethods) &&
		(containsAll(have.AllowedOrigins, []string{"*"}) || containsAll(have.AllowedOrigins, want.AllowedOrigins))
}

func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[strings.ToUpper(h)] = true
	}
	for _, w := range want {
		if !set[strings.ToUpper(w)] {
			return false
		}
	}
	return true
}
