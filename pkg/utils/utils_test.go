package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	var payload struct {
		TID string `json:"tid"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tid":"demo"}`))
	require.NoError(t, DecodeJSON(req, &payload))
	assert.Equal(t, "demo", payload.TID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.EqualError(t, DecodeJSON(req, &payload), "request body is empty")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tid":"demo","extra":1}`))
	assert.ErrorContains(t, DecodeJSON(req, &payload), "unknown field")
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()

	RespondError(rec, http.StatusNotFound, "session demo not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"session demo not found"}`, rec.Body.String())
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	require.NoError(t, SendSSEEvent(rec, rec, "state", map[string]int{"seq": 3}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: state\ndata: {\"seq\":3}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
