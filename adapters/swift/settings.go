// Package swift holds the Swift-protocol connection settings and client
// factory, mirroring adapters/s3's Settings/Factory split so the sync
// engine and migrator build remotes the same way regardless of protocol
// (spec §4.1 two-protocol Provider abstraction).
package swift

import (
	"time"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
)

// Settings is the subset of a cloudsync.Profile the Swift client needs to
// authenticate and address objects: an auth endpoint plus TempAuth-style
// identity/key, since no Keystone SDK is available in this module's
// dependency surface (spec §4.1, DESIGN.md "adapters/swift, internal/swiftprovider").
type Settings struct {
	AuthURL string // e.g. https://swift.example.com/auth/v1.0
	User    string
	Key     string
	Bucket  string // Swift account/container namespace prefix, if any

	RequestTimeout time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// SettingsFromProfile builds client Settings from a profile's identity fields.
func SettingsFromProfile(p cloudsync.Profile) Settings {
	return Settings{
		AuthURL:        p.Endpoint,
		User:           p.Identity,
		Key:            p.Secret,
		Bucket:         p.Bucket,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		BackoffInitial: 200 * time.Millisecond,
		BackoffMax:     5 * time.Second,
	}
}
