package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Query(t *testing.T) {
	want := []byte{0x00, 0x01, 0x81, 0x80, 0x00, 0x01}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, dnsMessageContentType, r.Header.Get("content-type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xde, 0xad}, body)

		w.Header().Set("content-type", dnsMessageContentType)
		w.Write(want)
	}))
	defer server.Close()

	client, err := New(Options{Endpoint: server.URL, RequestTimeout: 2 * time.Second})
	require.NoError(t, err)

	got, err := client.Query(context.Background(), []byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClient_QueryNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := New(Options{Endpoint: server.URL})
	require.NoError(t, err)

	_, err = client.Query(context.Background(), []byte{0x00, 0x01})
	assert.Error(t, err)
}

func TestClient_QueryContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte{0x00})
	}))
	defer server.Close()

	client, err := New(Options{Endpoint: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = client.Query(ctx, []byte{0x00, 0x01})
	assert.Error(t, err)
}

func TestNew_DefaultEndpoint(t *testing.T) {
	client, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, client.Endpoint())
}
