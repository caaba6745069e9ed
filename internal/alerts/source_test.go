package alerts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPPollSourceReturnsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Topic", "gcn.classic.voevent.LVC_PRELIMINARY")
		w.Header().Set("X-Offset", "42")
		w.Write([]byte("<voe:VOEvent/>"))
	}))
	defer srv.Close()

	src := NewHTTPPollSource(srv.Client(), srv.URL, "gcn.classic.voevent.LVC_PRELIMINARY")
	msg, ok, err := src.Consume(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), msg.Offset)
	require.Equal(t, "gcn.classic.voevent.LVC_PRELIMINARY", msg.Topic)
}

func TestHTTPPollSourceNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	src := NewHTTPPollSource(srv.Client(), srv.URL, "topic")
	_, ok, err := src.Consume(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
