package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
)

// MapS3Error converts an AWS SDK v2 error into a *cloudsync.CloudSyncError
// tagged with the spec §7 error taxonomy, generalizing the teacher's
// MapS3Error (adapters/s3/mapper.go) from the single ErrNotFound/
// ErrConflict/ErrTooLarge sentinel set to the full Kind enum the sync
// engine's retry policy and metrics dispatch on.
func MapS3Error(err error, op, key string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return cloudsync.NewError(cloudsync.KindRemote4xxClient, op, key, cloudsync.ErrAborted)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return cloudsync.NewError(cloudsync.KindTransientNetwork, op, key, fmt.Errorf("deadline exceeded: %w", err))
	}

	switch err.(type) {
	case *types.NoSuchBucket:
		return cloudsync.NewError(cloudsync.KindNotFound, op, key, fmt.Errorf("bucket does not exist: %w", cloudsync.ErrNotFound))
	case *types.NoSuchKey:
		return cloudsync.NewError(cloudsync.KindNotFound, op, key, cloudsync.ErrNotFound)
	case *types.NotFound:
		return cloudsync.NewError(cloudsync.KindNotFound, op, key, cloudsync.ErrNotFound)
	case *types.BucketAlreadyExists:
		return cloudsync.NewError(cloudsync.KindRemote4xxClient, op, key, fmt.Errorf("bucket already exists"))
	case *types.BucketAlreadyOwnedByYou:
		return nil
	case *types.InvalidObjectState:
		return cloudsync.NewError(cloudsync.KindLargeObjectPolicy, op, key, fmt.Errorf("invalid object state"))
	}

	if httpErr := extractHTTPError(err); httpErr != nil {
		return mapHTTPError(httpErr, op, key)
	}
	if awsErr := extractAWSError(err); awsErr != nil {
		return mapAWSError(awsErr, op, key)
	}
	if mapped := mapByErrorMessage(err, op, key); mapped != nil {
		return mapped
	}

	return cloudsync.NewError(cloudsync.KindRemote5xx, op, key, err)
}

// HTTPError represents an HTTP-level error extracted from an SDK error's
// message (the AWS SDK v2 doesn't always surface a typed error for every
// status code, particularly against non-AWS S3-compatible endpoints).
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
}

func extractHTTPError(err error) *HTTPError {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "404") || strings.Contains(strings.ToLower(errStr), "not found"):
		return &HTTPError{StatusCode: 404, Status: "Not Found", Message: errStr}
	case strings.Contains(errStr, "403") || strings.Contains(strings.ToLower(errStr), "forbidden"):
		return &HTTPError{StatusCode: 403, Status: "Forbidden", Message: errStr}
	case strings.Contains(errStr, "401") || strings.Contains(strings.ToLower(errStr), "unauthorized"):
		return &HTTPError{StatusCode: 401, Status: "Unauthorized", Message: errStr}
	case strings.Contains(errStr, "409") || strings.Contains(strings.ToLower(errStr), "conflict"):
		return &HTTPError{StatusCode: 409, Status: "Conflict", Message: errStr}
	case strings.Contains(errStr, "413") || strings.Contains(strings.ToLower(errStr), "too large"):
		return &HTTPError{StatusCode: 413, Status: "Payload Too Large", Message: errStr}
	case strings.Contains(errStr, "429") || strings.Contains(strings.ToLower(errStr), "too many requests"):
		return &HTTPError{StatusCode: 429, Status: "Too Many Requests", Message: errStr}
	case strings.Contains(errStr, "500") || strings.Contains(strings.ToLower(errStr), "internal server"):
		return &HTTPError{StatusCode: 500, Status: "Internal Server Error", Message: errStr}
	case strings.Contains(errStr, "503") || strings.Contains(strings.ToLower(errStr), "service unavailable"):
		return &HTTPError{StatusCode: 503, Status: "Service Unavailable", Message: errStr}
	}

	if code := parseStatusCodeFromMessage(errStr); code > 0 {
		return &HTTPError{StatusCode: code, Status: http.StatusText(code), Message: errStr}
	}
	return nil
}

func parseStatusCodeFromMessage(errStr string) int {
	patterns := []string{"status code: ", "status code ", "HTTP ", "http "}
	for _, pattern := range patterns {
		idx := strings.Index(strings.ToLower(errStr), strings.ToLower(pattern))
		if idx < 0 {
			continue
		}
		start := idx + len(pattern)
		numStr := ""
		for i := start; i < len(errStr) && len(numStr) < 3; i++ {
			if errStr[i] >= '0' && errStr[i] <= '9' {
				numStr += string(errStr[i])
			} else if len(numStr) > 0 {
				break
			}
		}
		if code, err := strconv.Atoi(numStr); err == nil && code >= 100 && code <= 599 {
			return code
		}
	}
	return 0
}

func mapHTTPError(httpErr *HTTPError, op, key string) error {
	switch httpErr.StatusCode {
	case 404:
		return cloudsync.NewError(cloudsync.KindNotFound, op, key, cloudsync.ErrNotFound)
	case 401, 403:
		return cloudsync.NewError(cloudsync.KindAuth, op, key, fmt.Errorf("%s", httpErr.Message))
	case 409:
		return cloudsync.NewError(cloudsync.KindConflictNewer, op, key, cloudsync.ErrConflictNewer)
	case 413:
		return cloudsync.NewError(cloudsync.KindLargeObjectPolicy, op, key, fmt.Errorf("payload too large"))
	case 429:
		return cloudsync.NewError(cloudsync.KindTransientNetwork, op, key, fmt.Errorf("rate limited"))
	case 400:
		return cloudsync.NewError(cloudsync.KindRemote4xxClient, op, key, fmt.Errorf("%s", httpErr.Message))
	case 500, 502, 503, 504:
		return cloudsync.NewError(cloudsync.KindRemote5xx, op, key, fmt.Errorf("server error (%d)", httpErr.StatusCode))
	default:
		return cloudsync.NewError(cloudsync.KindRemote4xxClient, op, key, fmt.Errorf("HTTP %d: %s", httpErr.StatusCode, httpErr.Message))
	}
}

// AWSError represents a generic AWS API error code/message pair extracted
// from an SDK error's message.
type AWSError struct {
	Code    string
	Message string
}

func extractAWSError(err error) *AWSError {
	errStr := err.Error()
	awsCodes := map[string]string{
		"NoSuchBucket":            "Bucket does not exist",
		"NoSuchKey":               "Object does not exist",
		"BucketAlreadyExists":     "Bucket already exists",
		"BucketAlreadyOwnedByYou": "Bucket already owned by you",
		"InvalidBucketName":       "Invalid bucket name",
		"AccessDenied":            "Access denied",
		"InvalidAccessKeyId":      "Invalid access key",
		"SignatureDoesNotMatch":   "Invalid secret key",
		"TokenRefreshRequired":    "Token refresh required",
		"RequestTimeTooSkewed":    "Request time too skewed",
		"EntityTooLarge":          "Entity too large",
		"InvalidPart":             "Invalid multipart upload part",
		"InvalidPartOrder":        "Invalid part order",
		"NoSuchUpload":            "Multipart upload does not exist",
		"MalformedXML":            "Malformed request",
		"InvalidRequest":          "Invalid request",
		"ServiceUnavailable":      "Service unavailable",
		"InternalError":           "Internal server error",
		"SlowDown":                "Reduce request rate",
	}
	for code, message := range awsCodes {
		if strings.Contains(errStr, code) {
			return &AWSError{Code: code, Message: message}
		}
	}
	return nil
}

func mapAWSError(awsErr *AWSError, op, key string) error {
	switch awsErr.Code {
	case "NoSuchBucket", "NoSuchKey":
		return cloudsync.NewError(cloudsync.KindNotFound, op, key, cloudsync.ErrNotFound)
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
		return nil
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return cloudsync.NewError(cloudsync.KindAuth, op, key, fmt.Errorf("%s", awsErr.Message))
	case "InvalidBucketName", "MalformedXML", "InvalidRequest":
		return cloudsync.NewError(cloudsync.KindConfigInvalid, op, key, fmt.Errorf("%s", awsErr.Message))
	case "EntityTooLarge":
		return cloudsync.NewError(cloudsync.KindLargeObjectPolicy, op, key, fmt.Errorf("%s", awsErr.Message))
	case "TokenRefreshRequired", "RequestTimeTooSkewed", "SlowDown", "ServiceUnavailable", "InternalError":
		return cloudsync.NewError(cloudsync.KindRemote5xx, op, key, fmt.Errorf("%s", awsErr.Message))
	case "InvalidPart", "InvalidPartOrder", "NoSuchUpload":
		return cloudsync.NewError(cloudsync.KindIntegrityMismatch, op, key, fmt.Errorf("multipart upload error: %s", awsErr.Message))
	default:
		return cloudsync.NewError(cloudsync.KindRemote4xxClient, op, key, fmt.Errorf("AWS error %s: %s", awsErr.Code, awsErr.Message))
	}
}

func mapByErrorMessage(err error, op, key string) error {
	errStr := strings.ToLower(err.Error())

	for _, pattern := range []string{"not found", "does not exist", "no such", "nosuchkey", "nosuchbucket"} {
		if strings.Contains(errStr, pattern) {
			return cloudsync.NewError(cloudsync.KindNotFound, op, key, cloudsync.ErrNotFound)
		}
	}
	for _, pattern := range []string{"already exists", "conflict", "bucketalreadyexists"} {
		if strings.Contains(errStr, pattern) {
			return cloudsync.NewError(cloudsync.KindConflictNewer, op, key, cloudsync.ErrConflictNewer)
		}
	}
	for _, pattern := range []string{"timeout", "deadline exceeded", "context canceled", "request timeout"} {
		if strings.Contains(errStr, pattern) {
			return cloudsync.NewError(cloudsync.KindTransientNetwork, op, key, err)
		}
	}
	for _, pattern := range []string{"service unavailable"} {
		if strings.Contains(errStr, pattern) {
			return cloudsync.NewError(cloudsync.KindRemote5xx, op, key, err)
		}
	}
	for _, pattern := range []string{"too large", "entity too large", "exceeds maximum"} {
		if strings.Contains(errStr, pattern) {
			return cloudsync.NewError(cloudsync.KindLargeObjectPolicy, op, key, err)
		}
	}
	return nil
}

// IsRetryableError reports whether err's classified kind warrants a retry,
// kept as a standalone helper for callers (health checks, client probes)
// that don't want to route through the full retrypolicy.Policy.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return cloudsync.Retryable(cloudsync.KindOf(err))
}

// WrapError wraps err as a CloudSyncError if it isn't already one.
func WrapError(err error, op, key string) error {
	if err == nil {
		return nil
	}
	var cse *cloudsync.CloudSyncError
	if errors.As(err, &cse) {
		return err
	}
	return cloudsync.NewError(cloudsync.KindRemote5xx, op, key, err)
}
