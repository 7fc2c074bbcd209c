package shunt

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
)

// captureWriter buffers a downstream handler's response instead of writing
// it straight through, so the shunt can inspect the status/body before
// deciding whether to pass it on unmodified, rewrite it (206->200
// promotion), or discard it entirely (404 remote fallback). Mirrors
// other_examples' hummingbird xloCaptureWriter.
type captureWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(b)
}

// Status returns the captured status, defaulting to 200 the way
// net/http's own ResponseWriter does when a handler writes a body without
// an explicit WriteHeader call.
func (c *captureWriter) Status() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

// flushCapture writes a captured response through to w, using status in
// place of whatever the downstream handler set (letting callers apply the
// 206->200 promotion without re-running the handler).
func flushCapture(w http.ResponseWriter, rec *captureWriter, status int) {
	dst := w.Header()
	for k, v := range rec.header {
		dst[k] = v
	}
	dst.Set("Content-Length", strconv.Itoa(rec.body.Len()))
	w.WriteHeader(status)
	w.Write(rec.body.Bytes()) //nolint:errcheck
}

// decodeListing parses a captured local listing response back into
// listingEntry values, dispatching on the Content-Type the local handler
// set, the same three formats writeListing can produce.
func decodeListing(contentType string, body bytes.Buffer) ([]listingEntry, error) {
	raw := body.Bytes()
	switch {
	case strings.Contains(contentType, "application/json"):
		var entries []listingEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	case strings.Contains(contentType, "xml"):
		var container struct {
			Objects []listingEntry `xml:"object"`
		}
		if err := xml.Unmarshal(raw, &container); err != nil {
			return nil, err
		}
		return container.Objects, nil
	default:
		var entries []listingEntry
		for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
			if line == "" {
				continue
			}
			entries = append(entries, listingEntry{Name: line})
		}
		return entries, nil
	}
}
