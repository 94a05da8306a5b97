package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ntfy always speaks https; a TLS test server plus its own trusting client
// (swapped into the driver directly, since this file lives in package
// notify) lets the happy path run without a real ntfy.sh round trip.
func TestNtfyDriverSendsOverHTTPS(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := &NtfyDriver{client: srv.Client()}
	deliveryURL := "ntfy://" + srv.Listener.Addr().String() + "/alerts"
	out := d.Send(context.Background(), deliveryURL, "Hi", "Body", LevelWarning)

	require.True(t, out.OK)
	assert.Equal(t, "ntfy", out.ChannelName)
	assert.Equal(t, "alerts", gotBody["topic"])
	assert.Equal(t, float64(4), gotBody["priority"])
}

func TestNtfyDriverMissingTopicIsRejected(t *testing.T) {
	d := NewNtfyDriver()
	out := d.Send(context.Background(), "ntfy://host.example", "t", "b", LevelInfo)
	assert.False(t, out.OK)
	assert.Equal(t, FailureTargetRejected, out.Kind)
}
