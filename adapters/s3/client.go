package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/cenkalti/backoff/v4"

	"github.com/gostratum/core/logx"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
)

// Settings is the subset of a cloudsync.Profile (plus fleet-wide defaults)
// the S3 client needs to connect: an endpoint/bucket binding instead of
// the teacher's single global bucket (adapters/s3/client.go ClientConfig).
type Settings struct {
	Bucket        string
	Region        string
	Endpoint      string
	UsePathStyle  bool
	AccessKey     string
	SecretKey     string
	SessionToken  string
	UseSDKDefaults bool
	RoleARN       string
	ExternalID    string
	Profile       string

	RequestTimeout  time.Duration
	MaxRetries      int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
}

// SettingsFromProfile builds client Settings from a profile's identity
// fields, defaulting path-style addressing on when a custom endpoint is
// set (MinIO/non-AWS convention).
func SettingsFromProfile(p cloudsync.Profile) Settings {
	return Settings{
		Bucket:         p.Bucket,
		Endpoint:       p.Endpoint,
		UsePathStyle:   p.Endpoint != "",
		AccessKey:      p.Identity,
		SecretKey:      p.Secret,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		BackoffInitial: 200 * time.Millisecond,
		BackoffMax:     5 * time.Second,
	}
}

// ClientConfig holds the configuration for creating an S3 client.
type ClientConfig struct {
	Settings Settings
	Logger   logx.Logger
}

// ClientManager manages one profile's S3 client and presign client,
// generalizing the teacher's single-bucket ClientManager
// (adapters/s3/client.go) to be constructed once per profile instead of
// once per process.
type ClientManager struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	settings      Settings
	logger        logx.Logger
}

// NewClientManager creates a new S3 client manager for one profile.
func NewClientManager(ctx context.Context, clientConfig ClientConfig) (*ClientManager, error) {
	if clientConfig.Settings.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}
	if clientConfig.Logger == nil {
		clientConfig.Logger = logx.NewNoopLogger()
	}

	cfg := clientConfig.Settings
	logger := clientConfig.Logger

	logger.Debug("creating S3 client manager",
		"bucket", cfg.Bucket,
		"endpoint", cfg.Endpoint,
		"use_path_style", cfg.UsePathStyle)

	awsConfig, credSource, err := buildAWSConfigWithLoader(ctx, cfg, logger, func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx, opts...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}
	logger.Info("credential source selected", "cred_source", credSource)

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.RetryMaxAttempts = cfg.MaxRetries
		o.RetryMode = aws.RetryModeAdaptive
		o.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	})

	manager := &ClientManager{
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		settings:      cfg,
		logger:        logger,
	}

	if err := manager.validateConnection(ctx); err != nil {
		return nil, fmt.Errorf("failed to validate S3 connection: %w", err)
	}
	logger.Info("S3 client manager created", "bucket", cfg.Bucket)
	return manager, nil
}

type awsConfigLoader func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error)

// buildAWSConfigWithLoader builds an AWS config using the supplied loader
// (testable), returning the loaded aws.Config and the detected credential
// source: one of "static", "profile", "sdk-default", "assumed-role".
// Grounded on the teacher's buildAWSConfigWithLoader.
func buildAWSConfigWithLoader(ctx context.Context, cfg Settings, logger logx.Logger, loader awsConfigLoader) (aws.Config, string, error) {
	var options []func(*awsconfig.LoadOptions) error
	credSource := "unknown"

	if cfg.Region != "" {
		options = append(options, awsconfig.WithRegion(cfg.Region))
	}

	if !cfg.UseSDKDefaults {
		if cfg.AccessKey != "" && cfg.SecretKey != "" {
			options = append(options, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)))
			credSource = "static"
		} else if cfg.Profile != "" {
			options = append(options, awsconfig.WithSharedConfigProfile(cfg.Profile))
			credSource = "profile"
		} else {
			return aws.Config{}, credSource, fmt.Errorf("no explicit credentials provided and use_sdk_defaults is false")
		}
	} else {
		if cfg.AccessKey != "" && cfg.SecretKey != "" {
			options = append(options, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)))
			credSource = "static"
		} else if cfg.Profile != "" {
			options = append(options, awsconfig.WithSharedConfigProfile(cfg.Profile))
			credSource = "profile"
		}
	}

	options = append(options, awsconfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = cfg.MaxRetries
			o.MaxBackoff = cfg.BackoffMax
			o.Backoff = createBackoffStrategy(cfg)
		})
	}))

	awsCfg, err := loader(ctx, options...)
	if err != nil {
		return aws.Config{}, credSource, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	if credSource == "unknown" {
		credSource = "sdk-default"
	}

	if cfg.RoleARN != "" {
		logger.Info("config requests STS AssumeRole", "role_arn", cfg.RoleARN)
		stsClient := sts.NewFromConfig(awsCfg)
		assumeProv := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = &cfg.ExternalID
			}
			o.RoleSessionName = "cloudsync-assume-role"
		})
		awsCfg.Credentials = aws.NewCredentialsCache(assumeProv)
		credSource = "assumed-role"
	}

	return awsCfg, credSource, nil
}

// createBackoffStrategy builds the retryer's backoff delay function from
// the profile's configured curve (mirrors the teacher's createBackoffStrategy).
func createBackoffStrategy(cfg Settings) retry.BackoffDelayerFunc {
	return func(attempt int, err error) (time.Duration, error) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.BackoffInitial
		b.MaxInterval = cfg.BackoffMax
		b.MaxElapsedTime = 0
		b.Multiplier = 2.0
		b.RandomizationFactor = 0.1
		b.Reset()

		var delay time.Duration
		for i := 0; i < attempt; i++ {
			delay = b.NextBackOff()
			if delay == backoff.Stop {
				break
			}
		}
		return delay, nil
	}
}

func (cm *ClientManager) validateConnection(ctx context.Context) error {
	_, err := cm.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cm.settings.Bucket)})
	if err != nil {
		cm.logger.Warn("failed to validate bucket access", "bucket", cm.settings.Bucket, "error", err)
		return fmt.Errorf("cannot access bucket %q: %w", cm.settings.Bucket, err)
	}
	cm.logger.Debug("bucket access validated", "bucket", cm.settings.Bucket)
	return nil
}

// GetS3Client returns the configured S3 client.
func (cm *ClientManager) GetS3Client() *s3.Client { return cm.s3Client }

// GetPresignClient returns the configured presign client.
func (cm *ClientManager) GetPresignClient() *s3.PresignClient { return cm.presignClient }

// GetSettings returns the settings this manager was built from.
func (cm *ClientManager) GetSettings() Settings { return cm.settings }

// Close performs cleanup. The AWS SDK clients don't require explicit
// teardown, so this only logs; it closes no connections. Factory.Close
// calls it at daemon shutdown.
func (cm *ClientManager) Close() error {
	cm.logger.Debug("closing S3 client manager")
	return nil
}

// BucketExists checks if the configured bucket exists and is accessible.
func (cm *ClientManager) BucketExists(ctx context.Context) (bool, error) {
	_, err := cm.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cm.settings.Bucket)})
	if err != nil {
		var notFound *s3Types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("error checking bucket existence: %w", err)
	}
	return true, nil
}

// CreateBucketIfNotExists creates the bucket if it doesn't exist
// (spec §4.4 "create the remote container on first sight").
func (cm *ClientManager) CreateBucketIfNotExists(ctx context.Context) error {
	exists, err := cm.BucketExists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if exists {
		cm.logger.Debug("bucket already exists", "bucket", cm.settings.Bucket)
		return nil
	}

	cm.logger.Info("creating bucket", "bucket", cm.settings.Bucket)
	input := &s3.CreateBucketInput{Bucket: aws.String(cm.settings.Bucket)}
	if cm.settings.Region != "" && cm.settings.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3Types.CreateBucketConfiguration{
			LocationConstraint: s3Types.BucketLocationConstraint(cm.settings.Region),
		}
	}
	if _, err := cm.s3Client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", cm.settings.Bucket, err)
	}
	cm.logger.Info("bucket created", "bucket", cm.settings.Bucket)
	return nil
}
