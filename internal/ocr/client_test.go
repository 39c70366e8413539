package ocr

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-intake/internal/common"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestExtract_SendsMultipartAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "json", r.FormValue("output_type"))
		assert.Equal(t, "model-x", r.FormValue("model"))

		var sch map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("json_schema")), &sch))
		assert.Equal(t, "object", sch["type"])

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "bill.pdf", hdr.Filename)
		assert.Equal(t, "%PDF-1.4", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"json":{"content":"{\"amount\":42}"}}}`))
	}))
	defer srv.Close()

	c := New(common.OCRConfig{APIURL: srv.URL, APIKey: "secret", ModelID: "model-x", Timeout: time.Second}, quiet())
	require.True(t, c.Available())

	out, err := c.Extract(context.Background(),
		Document{Filename: "bill.pdf", Data: []byte("%PDF-1.4")},
		map[string]any{"type": "object"})

	require.NoError(t, err)
	res := out.(map[string]any)["result"].(map[string]any)
	assert.Contains(t, res, "json")
}

func TestExtract_Unconfigured(t *testing.T) {
	c := New(common.OCRConfig{}, quiet())
	assert.False(t, c.Available())

	_, err := c.Extract(context.Background(), Document{Filename: "a.pdf"}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestExtract_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(common.OCRConfig{APIURL: srv.URL, APIKey: "k"}, quiet())
	_, err := c.Extract(context.Background(), Document{Filename: "a.pdf"}, map[string]any{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr status 429")
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestExtract_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(common.OCRConfig{
		APIURL: srv.URL, APIKey: "k",
		BreakerFailures: 2, BreakerCooldown: time.Hour,
	}, quiet())

	for range 2 {
		_, err := c.Extract(context.Background(), Document{Filename: "a.pdf"}, map[string]any{})
		require.Error(t, err)
	}
	assert.False(t, c.Available())

	_, err := c.Extract(context.Background(), Document{Filename: "a.pdf"}, map[string]any{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExtract_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	c := New(common.OCRConfig{APIURL: srv.URL, APIKey: "k"}, quiet())
	_, err := c.Extract(context.Background(), Document{Filename: "a.pdf"}, map[string]any{})
	assert.ErrorContains(t, err, "decode ocr response")
}
