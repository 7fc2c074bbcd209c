package swift

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
)

func TestMapStatusError(t *testing.T) {
	tests := []struct {
		status int
		want   cloudsync.ErrorKind
	}{
		{http.StatusNotFound, cloudsync.KindNotFound},
		{http.StatusUnauthorized, cloudsync.KindAuth},
		{http.StatusForbidden, cloudsync.KindAuth},
		{http.StatusConflict, cloudsync.KindConflictNewer},
		{http.StatusRequestEntityTooLarge, cloudsync.KindLargeObjectPolicy},
		{http.StatusTooManyRequests, cloudsync.KindTransientNetwork},
		{http.StatusBadRequest, cloudsync.KindRemote4xxClient},
		{http.StatusInternalServerError, cloudsync.KindRemote5xx},
		{http.StatusBadGateway, cloudsync.KindRemote5xx},
		{http.StatusTeapot, cloudsync.KindRemote4xxClient},
	}

	for _, tt := range tests {
		err := mapStatusError(tt.status, "op", "key")
		assert.Equal(t, tt.want, cloudsync.KindOf(err))
	}
}
