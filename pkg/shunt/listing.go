package shunt

import (
	"encoding/json"
	"encoding/xml"
	"net/http"
	"sort"
	"strings"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
)

// listingEntry is one row of a container (or account) listing response,
// shaped after Swift's container-GET JSON schema with one addition:
// ContentLocation, which the shunt stamps on entries that exist only on
// the remote side (spec §4.5 "inject a content-location marker on entries
// present only remotely").
type listingEntry struct {
	Name            string `json:"name" xml:"name"`
	Hash            string `json:"hash,omitempty" xml:"hash,omitempty"`
	Bytes           int64  `json:"bytes" xml:"bytes"`
	ContentType     string `json:"content_type,omitempty" xml:"content_type,omitempty"`
	LastModified    string `json:"last_modified,omitempty" xml:"last_modified,omitempty"`
	ContentLocation string `json:"content_location,omitempty" xml:"content_location,omitempty"`
}

func entryFromRef(ref cloudsync.ObjectRef, remote bool) listingEntry {
	e := listingEntry{
		Name:         ref.Name,
		Hash:         cloudsync.NormalizedETag(ref.ETag),
		Bytes:        ref.Size,
		ContentType:  ref.ContentType,
		LastModified: ref.Timestamp.String(),
	}
	if remote {
		e.ContentLocation = "remote"
	}
	return e
}

// mergeListings merge-sorts local and remote entries by name, local wins on
// an exact-name collision (spec §4.5 "deduplicate by exact-name match,
// local wins"). Both inputs must already be sorted by Name.
func mergeListings(local, remote []listingEntry) []listingEntry {
	merged := make([]listingEntry, 0, len(local)+len(remote))
	i, j := 0, 0
	for i < len(local) && j < len(remote) {
		switch {
		case local[i].Name == remote[j].Name:
			merged = append(merged, local[i])
			i++
			j++
		case local[i].Name < remote[j].Name:
			merged = append(merged, local[i])
			i++
		default:
			merged = append(merged, remote[j])
			j++
		}
	}
	merged = append(merged, local[i:]...)
	merged = append(merged, remote[j:]...)
	return merged
}

func sortEntries(entries []listingEntry) {
	sort.Slice(entries, func(a, b int) bool { return entries[a].Name < entries[b].Name })
}

// listingFormat resolves the response encoding from the "format" query
// param first (Swift's own convention), falling back to the Accept header,
// and defaulting to plain text, mirroring Swift container-GET's own
// negotiation order (spec §4.5 "JSON, XML, or plain text based on Accept").
func listingFormat(r *http.Request) string {
	if f := r.URL.Query().Get("format"); f != "" {
		return strings.ToLower(f)
	}
	accept := r.Header.Get("Accept")
	switch {
	case strings.Contains(accept, "application/json"):
		return "json"
	case strings.Contains(accept, "application/xml"), strings.Contains(accept, "text/xml"):
		return "xml"
	default:
		return "text"
	}
}

func writeListing(w http.ResponseWriter, format string, entries []listingEntry) {
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		body, _ := json.Marshal(entries)
		w.Write(body) //nolint:errcheck
	case "xml":
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		type container struct {
			XMLName xml.Name       `xml:"container"`
			Objects []listingEntry `xml:"object"`
		}
		body, _ := xml.MarshalIndent(container{Objects: entries}, "", "  ")
		w.Write(body) //nolint:errcheck
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		var b strings.Builder
		for _, e := range entries {
			b.WriteString(e.Name)
			b.WriteString("\n")
		}
		w.Write([]byte(b.String())) //nolint:errcheck
	}
}
