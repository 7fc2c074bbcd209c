package swift

import (
	"fmt"
	"net/http"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
)

// mapStatusError converts a Swift HTTP status code into a
// *cloudsync.CloudSyncError tagged with the spec §7 error taxonomy,
// following the status-code-to-kind table of adapters/s3/mapper.go's
// mapHTTPError, since both protocols speak plain HTTP status codes for
// these conditions. One difference: an unlisted 5xx status maps to
// KindRemote5xx here, where mapHTTPError maps it to KindRemote4xxClient.
func mapStatusError(status int, op, key string) error {
	switch status {
	case http.StatusNotFound:
		return cloudsync.NewError(cloudsync.KindNotFound, op, key, cloudsync.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return cloudsync.NewError(cloudsync.KindAuth, op, key, fmt.Errorf("swift auth failed (%d)", status))
	case http.StatusConflict:
		return cloudsync.NewError(cloudsync.KindConflictNewer, op, key, cloudsync.ErrConflictNewer)
	case http.StatusRequestEntityTooLarge:
		return cloudsync.NewError(cloudsync.KindLargeObjectPolicy, op, key, fmt.Errorf("payload too large"))
	case http.StatusTooManyRequests:
		return cloudsync.NewError(cloudsync.KindTransientNetwork, op, key, fmt.Errorf("rate limited"))
	case http.StatusBadRequest, http.StatusLengthRequired, http.StatusUnprocessableEntity:
		return cloudsync.NewError(cloudsync.KindRemote4xxClient, op, key, fmt.Errorf("swift bad request (%d)", status))
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return cloudsync.NewError(cloudsync.KindRemote5xx, op, key, fmt.Errorf("swift server error (%d)", status))
	default:
		if status >= 500 {
			return cloudsync.NewError(cloudsync.KindRemote5xx, op, key, fmt.Errorf("swift error (%d)", status))
		}
		return cloudsync.NewError(cloudsync.KindRemote4xxClient, op, key, fmt.Errorf("swift error (%d)", status))
	}
}
