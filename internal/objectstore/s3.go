package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
)

// LoadAWSConfig builds the SDK configuration for the object store endpoint.
// With a role configured the static keys are exchanged for temporary
// credentials through STS AssumeRole, refreshed before they expire.
func LoadAWSConfig(ctx context.Context, cfg config.ObjectStoreConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS configuration: %w", err)
	}

	if cfg.Role != "" {
		stsClient := sts.NewFromConfig(awsCfg, func(o *sts.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
		provider := stscreds.NewAssumeRoleProvider(stsClient, cfg.Role, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = cfg.SessionName
			o.Duration = cfg.SessionDuration.Duration
		})
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return awsCfg, nil
}

// NewS3Client returns a path-style client for the configured endpoint.
func NewS3Client(awsCfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
}

// S3Store downloads objects with the concurrent multipart downloader.
type S3Store struct {
	downloader *manager.Downloader
}

func NewS3Store(client *s3.Client) *S3Store {
	return &S3Store{downloader: manager.NewDownloader(client)}
}

func (s *S3Store) Download(ctx context.Context, bucket, key string, w io.WriterAt) (domain.DownloadResult, error) {
	_, err := s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return domain.DownloadNotFound, nil
		}
		return domain.DownloadFound, fmt.Errorf("downloading s3://%s/%s: %w", bucket, key, err)
	}
	return domain.DownloadFound, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
