package cloudsync

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp is the local cluster's monotonic high-resolution X-Timestamp,
// or a synthesized value derived from a Last-Modified header when the
// remote side doesn't carry one (spec §3: ObjectRef.timestamp).
type Timestamp struct {
	At          time.Time
	Synthesized bool
}

// ParseXTimestamp parses the local store's "sec.usec" X-Timestamp wire form.
func ParseXTimestamp(raw string) (Timestamp, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Timestamp{}, fmt.Errorf("empty X-Timestamp")
	}
	sec, frac, _ := strings.Cut(raw, ".")
	secs, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid X-Timestamp %q: %w", raw, err)
	}
	var nsec int64
	if frac != "" {
		frac = (frac + "000000")[:6]
		usec, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return Timestamp{}, fmt.Errorf("invalid X-Timestamp %q: %w", raw, err)
		}
		nsec = usec * 1000
	}
	return Timestamp{At: time.Unix(secs, nsec).UTC()}, nil
}

// FromLastModified synthesizes a Timestamp from an S3-style Last-Modified
// header, flooring to seconds per spec §4.4 step 2.
func FromLastModified(t time.Time) Timestamp {
	return Timestamp{At: t.Truncate(time.Second).UTC(), Synthesized: true}
}

// String renders the local store's wire form "sec.usec".
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%06d", t.At.Unix(), t.At.Nanosecond()/1000)
}

// Before reports whether t happened strictly before other.
func (t Timestamp) Before(other Timestamp) bool { return t.At.Before(other.At) }

// After reports whether t happened strictly after other.
func (t Timestamp) After(other Timestamp) bool { return t.At.After(other.At) }

// ObjectRef identifies an object and carries the metadata spec §3 requires
// for sync/migrate decisions.
type ObjectRef struct {
	Account     string
	Container   string
	Name        string
	ETag        string
	Timestamp   Timestamp
	Size        int64
	ContentType string
	Metadata    map[string]string

	// DeleteAt is the Swift X-Delete-At instant, if the provider reported
	// one (local objects only; spec §6 propagate_expiration reads this).
	DeleteAt *Timestamp
}

// Key returns the canonical "account/container/name" form used for hashing
// and dedupe-map lookups.
func (o ObjectRef) Key() string {
	return o.Account + "/" + o.Container + "/" + o.Name
}

// NormalizedETag strips surrounding quotes and lowercases, per spec §4.1
// "ETag compares are normalized".
func NormalizedETag(etag string) string {
	etag = strings.Trim(etag, `"`)
	return strings.ToLower(etag)
}

// ETagsEqual compares two etags using the spec §4.1 normalization rule.
func ETagsEqual(a, b string) bool {
	return NormalizedETag(a) == NormalizedETag(b)
}

// MetadataEqual compares two metadata maps case-insensitively by key,
// per spec §4.1 "Metadata keys are case-insensitive in comparison".
func MetadataEqual(a, b map[string]string) bool {
	na, nb := normalizeMetadataKeys(a), normalizeMetadataKeys(b)
	if len(na) != len(nb) {
		return false
	}
	for k, v := range na {
		if ov, ok := nb[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func normalizeMetadataKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// ChangeOp is the operation a change-feed row records.
type ChangeOp string

const (
	OpPut    ChangeOp = "PUT"
	OpPost   ChangeOp = "POST"
	OpDelete ChangeOp = "DELETE"
)

// Wildcard is the special container name meaning "all containers under
// this account", spec §3/§6.
const Wildcard = "/*"
