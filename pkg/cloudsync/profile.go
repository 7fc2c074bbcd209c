package cloudsync

import (
	"fmt"
	"hash/fnv"
)

// Protocol is the wire protocol a Profile's remote speaks.
type Protocol string

const (
	ProtocolSwift Protocol = "swift"
	ProtocolS3    Protocol = "s3"
)

// Profile binds one local (account, container) pair to a remote bucket and
// the behavior flags that govern how the sync engine and migrator treat it
// (spec §3/§6 per-profile config keys).
type Profile struct {
	Account   string
	Container string // may be Wildcard, meaning "all containers under Account"
	Protocol  Protocol

	Endpoint string
	Identity string
	Secret   string
	Bucket   string

	ConvertDLO          bool
	CopyAfter           int64  // seconds; skip objects younger than this
	ExcludePattern      string // regexp
	PropagateDelete     bool
	PropagateExpiration bool
	ExpirationOffset    int64 // seconds added to remote expiry relative to local

	RemoteDeleteAfter     int64 // seconds; remote lifecycle expiry
	RemoteDeleteAddition  int64 // seconds SLO segments outlive their manifest under RemoteDeleteAfter
	RetainLocal           bool
	RetainLocalSegments   bool
	StoragePolicy         string
	SyncContainerACL      bool
	SyncContainerMetadata bool
	MinSegmentSize        int64 // bytes; SLO segments smaller than this get coalesced
	MergeNamespaces       bool  // wildcard: collapse all local containers into one remote bucket
	CustomPrefix          string
}

// IsWildcard reports whether p applies to every container under Account.
func (p Profile) IsWildcard() bool {
	return p.Container == Wildcard
}

// RemoteContainer resolves the remote-side container/prefix name for a
// given local container, honoring MergeNamespaces and CustomPrefix
// (spec §6 "remote key layout").
func (p Profile) RemoteContainer(localContainer string) string {
	if p.MergeNamespaces {
		if p.CustomPrefix != "" {
			return p.CustomPrefix
		}
		return p.Account
	}
	return localContainer
}

// RemoteKeyPrefix computes the remote-side prefix objects under
// localContainer are written beneath (spec §6 "remote key layout"). Swift
// targets address objects by container name directly (RemoteContainer);
// S3 targets have no native container below the bucket, so the default
// layout is hash(account+container)/account/container unless CustomPrefix
// overrides it.
func (p Profile) RemoteKeyPrefix(localContainer string) string {
	if p.Protocol != ProtocolS3 {
		return p.RemoteContainer(localContainer)
	}
	if p.CustomPrefix != "" {
		return p.CustomPrefix + "/" + p.Account + "/" + localContainer
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(p.Account + localContainer))
	return fmt.Sprintf("%08x/%s/%s", h.Sum32(), p.Account, localContainer)
}

// Validate checks the structural invariants a Profile must satisfy before
// it can be handed to a provider (spec §6 config schema constraints).
func (p Profile) Validate() error {
	if p.Account == "" {
		return NewError(KindConfigInvalid, "profile.validate", "", fmt.Errorf("account is required"))
	}
	if p.Container == "" {
		return NewError(KindConfigInvalid, "profile.validate", p.Account, fmt.Errorf("container is required"))
	}
	if p.Protocol != ProtocolSwift && p.Protocol != ProtocolS3 {
		return NewError(KindConfigInvalid, "profile.validate", p.Account, fmt.Errorf("unknown protocol %q", p.Protocol))
	}
	if p.Bucket == "" {
		return NewError(KindConfigInvalid, "profile.validate", p.Account, fmt.Errorf("bucket is required"))
	}
	if p.Endpoint == "" {
		return NewError(KindConfigInvalid, "profile.validate", p.Account, fmt.Errorf("endpoint is required"))
	}
	if p.MinSegmentSize < 0 {
		return NewError(KindConfigInvalid, "profile.validate", p.Account, fmt.Errorf("min_segment_size must be >= 0"))
	}
	if p.IsWildcard() && p.ConvertDLO {
		return NewError(KindConfigInvalid, "profile.validate", p.Account, fmt.Errorf("convert_dlo is not supported on wildcard profiles"))
	}
	return nil
}

// Key is the canonical "account/container" identifier used to look up this
// profile's ring partition and status record.
func (p Profile) Key() string {
	return p.Account + "/" + p.Container
}
