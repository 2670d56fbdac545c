package httpserve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noFlush struct{ http.ResponseWriter }

func TestStreamFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := OpenStream(rec)
	require.NoError(t, err)

	require.NoError(t, s.Send(7, "queue", []byte(`{"n":1}`)))
	require.NoError(t, s.Send(8, "", []byte(`{}`)))
	require.NoError(t, s.Ping())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t,
		"id: 7\nevent: queue\ndata: {\"n\":1}\n\nid: 8\ndata: {}\n\n: keep-alive\n\n",
		rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestStreamNeedsFlusher(t *testing.T) {
	_, err := OpenStream(noFlush{httptest.NewRecorder()})
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}
