package outline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer runs a management API stub behind TLS and returns the client
// pinned to the stub's certificate.
func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()

	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	sum := sha256.Sum256(srv.Certificate().Raw)
	client, err := NewClient(srv.URL, hex.EncodeToString(sum[:]), 0)
	require.NoError(t, err)

	return srv, client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", "", 0)
	assert.Error(t, err)

	_, err = NewClient("https://example.com", "not-hex", 0)
	assert.Error(t, err)

	// Wrong digest length
	_, err = NewClient("https://example.com", "abcd", 0)
	assert.Error(t, err)
}

func TestCertificatePinning(t *testing.T) {
	t.Run("matching fingerprint succeeds", func(t *testing.T) {
		_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ServerInfo{Name: "node-1", ServerID: "abc"})
		})

		info, err := client.GetServerInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "node-1", info.Name)
	})

	t.Run("mismatched fingerprint refuses the connection", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		t.Cleanup(srv.Close)

		wrong := sha256.Sum256([]byte("some other certificate"))
		client, err := NewClient(srv.URL, hex.EncodeToString(wrong[:]), 0)
		require.NoError(t, err)

		_, err = client.GetServerInfo(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fingerprint mismatch")
	})
}

func TestCreateAccessKey(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/access-keys", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body["name"])
		assert.Equal(t, "chacha20-ietf-poly1305", body["method"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(AccessKey{
			ID:        "7",
			Name:      body["name"],
			Password:  "generated",
			Port:      8388,
			Method:    body["method"],
			AccessURL: "ss://abc@host:8388",
		})
	})

	key, err := client.CreateAccessKey(context.Background(), "alice", "chacha20-ietf-poly1305")
	require.NoError(t, err)
	assert.Equal(t, "7", key.ID)
	assert.Equal(t, "generated", key.Password)
	assert.Equal(t, 8388, key.Port)
}

func TestListAccessKeys(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]AccessKey{
			"accessKeys": {{ID: "1"}, {ID: "2"}},
		})
	})

	keys, err := client.ListAccessKeys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestTransferMetrics(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metrics/transfer", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]map[string]int64{
			"bytesTransferredByUserId": {"1": 1024, "2": 2048},
		})
	})

	metrics, err := client.TransferMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1024), metrics["1"])
	assert.Equal(t, int64(2048), metrics["2"])
}

func TestSetDataLimit(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/access-keys/9/data-limit", r.URL.Path)

		var body map[string]map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(5000), body["limit"]["bytes"])

		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.SetDataLimit(context.Background(), "9", 5000))
}

func TestAPIErrorSurfacesStatus(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"NotFound"}`, http.StatusNotFound)
	})

	err := client.DeleteAccessKey(context.Background(), "missing")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok, "expected *APIError, got %T", err)
	assert.True(t, apiErr.NotFound())
	assert.True(t, strings.Contains(apiErr.Error(), "404"))
}
