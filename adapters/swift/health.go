package swift

import (
	"context"
	"fmt"

	"github.com/gostratum/core"
)

// swiftHealthCheck implements core.Check for Swift connectivity.
type swiftHealthCheck struct {
	client *Client
}

func (s *swiftHealthCheck) Name() string { return "cloudsync.swift." + s.client.StorageURL() }

func (s *swiftHealthCheck) Kind() core.Kind { return core.Readiness }

func (s *swiftHealthCheck) Check(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("no swift client")
	}
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("swift ping failed: %w", err)
	}
	return nil
}
