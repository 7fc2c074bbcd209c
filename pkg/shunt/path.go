package shunt

import "strings"

// requestPath is a parsed Swift-style "/v1/<account>/<container>/<object...>"
// URL, the same layout the hummingbird proxy pipeline's ParseProxyPath
// produces, generalized here to a plain struct rather than a map[string]string
// since the shunt only ever needs these three fields.
type requestPath struct {
	Account   string
	Container string
	Object    string
}

// IsAccount reports whether the path names only an account (no container).
func (p requestPath) IsAccount() bool { return p.Container == "" }

// IsContainer reports whether the path names an account+container with no
// object (a container listing request).
func (p requestPath) IsContainer() bool { return p.Container != "" && p.Object == "" }

// IsObject reports whether the path fully names an object.
func (p requestPath) IsObject() bool { return p.Object != "" }

// parsePath splits a Swift v1 URL path into account/container/object. Paths
// not under "/v1/" (health checks, metrics, etc.) return ok=false so the
// caller can pass them straight through.
func parsePath(urlPath string) (requestPath, bool) {
	trimmed := strings.TrimPrefix(urlPath, "/v1/")
	if trimmed == urlPath {
		return requestPath{}, false
	}
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return requestPath{}, false
	}
	parts := strings.SplitN(trimmed, "/", 3)
	rp := requestPath{Account: parts[0]}
	if len(parts) > 1 {
		rp.Container = parts[1]
	}
	if len(parts) > 2 {
		rp.Object = parts[2]
	}
	return rp, true
}
