// Package outline talks to the management API of a single VPN server.
// Each server exposes a self-signed HTTPS endpoint identified by the SHA-256
// fingerprint of its certificate, so the client pins the fingerprint instead
// of using the system trust store.
package outline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every management API call. Timeouts are normal
// failures, not crashes.
const DefaultTimeout = 15 * time.Second

// AccessKey is a credential as reported by the server management API
type AccessKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Password  string `json:"password"`
	Port      int    `json:"port"`
	Method    string `json:"method"`
	AccessURL string `json:"accessUrl"`
}

// ServerInfo describes the remote server itself
type ServerInfo struct {
	Name               string `json:"name"`
	ServerID           string `json:"serverId"`
	HostnameForKeys    string `json:"hostnameForAccessKeys"`
	PortForNewKeys     int    `json:"portForNewAccessKeys"`
	CreatedTimestampMs int64  `json:"createdTimestampMs"`
}

// Client is a remote provisioning client for one physical server
type Client struct {
	apiURL  string
	http    *http.Client
	timeout time.Duration
}

// NewClient builds a client pinned to the server's certificate fingerprint.
// certSHA256 is the hex encoding of the SHA-256 digest of the server's DER
// certificate; an empty fingerprint falls back to standard verification.
func NewClient(apiURL, certSHA256 string, timeout time.Duration) (*Client, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("api url is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{}
	if certSHA256 != "" {
		want, err := hex.DecodeString(strings.ToLower(certSHA256))
		if err != nil || len(want) != sha256.Size {
			return nil, fmt.Errorf("invalid certificate fingerprint %q", certSHA256)
		}
		transport.TLSClientConfig = &tls.Config{
			// Verification happens against the pinned fingerprint below;
			// the self-signed chain cannot pass standard verification.
			InsecureSkipVerify: true,
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return fmt.Errorf("server presented no certificate")
				}
				sum := sha256.Sum256(rawCerts[0])
				if subtle.ConstantTimeCompare(sum[:], want) != 1 {
					return fmt.Errorf("certificate fingerprint mismatch")
				}
				return nil
			},
		}
	}

	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		timeout: timeout,
	}, nil
}

// GetServerInfo fetches the remote server descriptor
func (c *Client) GetServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.do(ctx, http.MethodGet, "/server", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateAccessKey allocates a new credential on the server
func (c *Client) CreateAccessKey(ctx context.Context, name, method string) (*AccessKey, error) {
	body := map[string]string{}
	if name != "" {
		body["name"] = name
	}
	if method != "" {
		body["method"] = method
	}

	var key AccessKey
	if err := c.do(ctx, http.MethodPost, "/access-keys", body, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAccessKeys returns every credential known to the server
func (c *Client) ListAccessKeys(ctx context.Context) ([]AccessKey, error) {
	var resp struct {
		AccessKeys []AccessKey `json:"accessKeys"`
	}
	if err := c.do(ctx, http.MethodGet, "/access-keys", nil, &resp); err != nil {
		return nil, err
	}
	return resp.AccessKeys, nil
}

// DeleteAccessKey removes a credential from the server
func (c *Client) DeleteAccessKey(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/access-keys/"+id, nil, nil)
}

// SetDataLimit applies a per-key byte quota on the server
func (c *Client) SetDataLimit(ctx context.Context, id string, bytes int64) error {
	body := map[string]map[string]int64{
		"limit": {"bytes": bytes},
	}
	return c.do(ctx, http.MethodPut, "/access-keys/"+id+"/data-limit", body, nil)
}

// RemoveDataLimit clears a per-key byte quota on the server
func (c *Client) RemoveDataLimit(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/access-keys/"+id+"/data-limit", nil, nil)
}

// TransferMetrics returns cumulative transferred bytes per remote key id
func (c *Client) TransferMetrics(ctx context.Context) (map[string]int64, error) {
	var resp struct {
		BytesTransferredByUserID map[string]int64 `json:"bytesTransferredByUserId"`
	}
	if err := c.do(ctx, http.MethodGet, "/metrics/transfer", nil, &resp); err != nil {
		return nil, err
	}
	return resp.BytesTransferredByUserID, nil
}

// RenameAccessKey updates the display name of a remote credential
func (c *Client) RenameAccessKey(ctx context.Context, id, name string) error {
	return c.do(ctx, http.MethodPut, "/access-keys/"+id+"/name", map[string]string{"name": name}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("management API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       string(payload),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode management API response: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the management API
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("management API %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// NotFound reports whether the remote rejected the request with a 404
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
