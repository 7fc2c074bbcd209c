package s3

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/gostratum/core/logx"
)

// TestMinIOConnection tests the fix for MinIO connections with UseSDKDefaults flag.
// This test validates that the credential handling changes properly support MinIO
// when using environment variables with UseSDKDefaults=true.
func TestMinIOConnection(t *testing.T) {
	// Set up MinIO-style environment variables
	os.Setenv("AWS_ACCESS_KEY_ID", "minioadmin")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "minioadmin")
	defer os.Unsetenv("AWS_ACCESS_KEY_ID")
	defer os.Unsetenv("AWS_SECRET_ACCESS_KEY")

	tests := []struct {
		name          string
		settings      Settings
		expectSuccess bool
		description   string
	}{
		{
			name: "MinIO with UseSDKDefaults=true and env vars",
			settings: Settings{
				Bucket:         "test-bucket",
				Region:         "us-east-1",
				Endpoint:       "http://localhost:9000",
				UsePathStyle:   true,
				UseSDKDefaults: true,
			},
			expectSuccess: true,
			description:   "Should successfully connect to MinIO using SDK defaults (env vars)",
		},
		{
			name: "MinIO with explicit credentials",
			settings: Settings{
				Bucket:       "test-bucket",
				Region:       "us-east-1",
				Endpoint:     "http://localhost:9000",
				UsePathStyle: true,
				AccessKey:    "minioadmin",
				SecretKey:    "minioadmin",
			},
			expectSuccess: true,
			description:   "Should successfully connect to MinIO using explicit credentials",
		},
		{
			name: "MinIO with UseSDKDefaults=false and no credentials",
			settings: Settings{
				Bucket:         "test-bucket",
				Region:         "us-east-1",
				Endpoint:       "http://localhost:9000",
				UsePathStyle:   true,
				UseSDKDefaults: false,
			},
			expectSuccess: false,
			description:   "Should fail when UseSDKDefaults=false and no explicit credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			logger := logx.NewNoopLogger()

			clientConfig := ClientConfig{
				Settings: tt.settings,
				Logger:   logger,
			}

			manager, err := NewClientManager(ctx, clientConfig)
			if err != nil {
				if tt.expectSuccess {
					t.Logf("client manager creation failed (MinIO may not be running): %v\nDescription: %s", err, tt.description)
					t.Skip("skipping - MinIO not available")
				}
				t.Logf("client manager creation failed as expected: %v", err)
				return
			}
			defer manager.Close()

			if !tt.expectSuccess {
				t.Fatalf("expected client manager creation to fail, but it succeeded\nDescription: %s", tt.description)
			}

			exists, err := manager.BucketExists(ctx)
			if err != nil {
				t.Logf("bucket check failed (MinIO may not be running): %v", err)
				t.Skip("skipping further checks - MinIO not available")
			}

			t.Logf("connected to MinIO - bucket exists: %v", exists)
		})
	}
}

// TestMinIOCredentialSourceDetection verifies that the credential source is correctly
// identified when using different configurations with MinIO.
func TestMinIOCredentialSourceDetection(t *testing.T) {
	// Set up MinIO-style environment variables
	os.Setenv("AWS_ACCESS_KEY_ID", "minioadmin")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "minioadmin")
	defer os.Unsetenv("AWS_ACCESS_KEY_ID")
	defer os.Unsetenv("AWS_SECRET_ACCESS_KEY")

	tests := []struct {
		name           string
		settings       Settings
		expectedSource string
	}{
		{
			name: "Explicit credentials",
			settings: Settings{
				Bucket:    "test",
				Region:    "us-east-1",
				Endpoint:  "http://localhost:9000",
				AccessKey: "minioadmin",
				SecretKey: "minioadmin",
			},
			expectedSource: "static",
		},
		{
			name: "SDK defaults with env vars",
			settings: Settings{
				Bucket:         "test",
				Region:         "us-east-1",
				Endpoint:       "http://localhost:9000",
				UseSDKDefaults: true,
			},
			expectedSource: "sdk-default",
		},
		{
			name: "Explicit credentials take precedence over SDK defaults",
			settings: Settings{
				Bucket:         "test",
				Region:         "us-east-1",
				Endpoint:       "http://localhost:9000",
				AccessKey:      "minioadmin",
				SecretKey:      "minioadmin",
				UseSDKDefaults: true,
			},
			expectedSource: "static",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			logger := logx.NewNoopLogger()

			loader := func(ctx context.Context, opts ...func(*config.LoadOptions) error) (aws.Config, error) {
				return config.LoadDefaultConfig(ctx, opts...)
			}

			awsConfig, credSource, err := buildAWSConfigWithLoader(ctx, tt.settings, logger, loader)
			if err != nil {
				t.Fatalf("buildAWSConfigWithLoader failed: %v", err)
			}

			if credSource != tt.expectedSource {
				t.Errorf("credential source mismatch: got %q, want %q", credSource, tt.expectedSource)
			}

			if tt.settings.Region != "" && awsConfig.Region != tt.settings.Region {
				t.Errorf("region mismatch: got %q, want %q", awsConfig.Region, tt.settings.Region)
			}

			t.Logf("credential source correctly identified as: %s", credSource)
		})
	}
}
