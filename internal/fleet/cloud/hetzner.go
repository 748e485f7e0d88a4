// Package cloud provisions new fleet hosts on Hetzner Cloud. A provisioned
// host boots with cloud-init that installs the Outline management API; once
// the API answers, the TLS certificate fingerprint is captured from the first
// handshake and stored as the pin for all later management calls.
package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/template"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/internal/shared/logger"
)

//go:embed templates
var templatesFS embed.FS

const (
	// managementPort is the fixed port cloud-init configures for the
	// Outline management API.
	managementPort = 8443

	// accessPort is the fixed port cloud-init configures for access keys.
	accessPort = 443

	bootWait            = 60 * time.Second
	maxHealthChecks     = 20
	healthCheckInterval = 15 * time.Second
)

// HetznerConfig contains configuration for the Hetzner host provisioner.
type HetznerConfig struct {
	ServerType string
	Image      string
	Location   string
}

// CloudInitData contains the data for rendering the cloud-init template.
type CloudInitData struct {
	ManagementPort int
	AccessPort     int
	APISecret      string
}

// Host is the result of a successful host provisioning operation.
type Host struct {
	ProviderID int64  // Hetzner server ID
	Name       string // Hetzner server name
	IPAddress  string // Public IPv4 address
	APIURL     string // Outline management API base URL
	CertSHA256 string // Management API certificate fingerprint, hex
}

// Hetzner provisions Outline hosts on Hetzner Cloud.
type Hetzner struct {
	client *hcloud.Client
	config *HetznerConfig
	logger *logger.Logger
}

// NewHetzner creates a new Hetzner host provisioner.
func NewHetzner(apiToken string, config *HetznerConfig, log *logger.Logger) (*Hetzner, error) {
	if apiToken == "" {
		return nil, errors.NewConfigError("hetzner.api_token", "API token is required", nil)
	}
	if config == nil {
		return nil, errors.NewConfigError("hetzner", "config is required", nil)
	}

	return &Hetzner{
		client: hcloud.NewClient(hcloud.WithToken(apiToken)),
		config: config,
		logger: log.WithComponent("cloud"),
	}, nil
}

// generateCloudInit renders the cloud-init template that installs the
// Outline management API on first boot.
func (h *Hetzner) generateCloudInit(apiSecret string) (string, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/outline-host.yaml")
	if err != nil {
		return "", errors.NewProvisionError("template-parse", "", "failed to parse cloud-init template", err)
	}

	data := CloudInitData{
		ManagementPort: managementPort,
		AccessPort:     accessPort,
		APISecret:      apiSecret,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.NewProvisionError("template-render", "", "failed to render cloud-init template", err)
	}

	return buf.String(), nil
}

// ProvisionHost creates a new fleet host and waits until its management API
// answers. The returned Host carries the API URL and the certificate
// fingerprint captured from the first successful handshake.
func (h *Hetzner) ProvisionHost(ctx context.Context, name, apiSecret string) (*Host, error) {
	cloudInit, err := h.generateCloudInit(apiSecret)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = fmt.Sprintf("subfleet-%d", time.Now().Unix())
	}

	h.logger.InfoContext(ctx, "creating hetzner server",
		slog.String("server_name", name),
		slog.String("server_type", h.config.ServerType),
		slog.String("location", h.config.Location))

	createReq := hcloud.ServerCreateOpts{
		Name: name,
		ServerType: &hcloud.ServerType{
			Name: h.config.ServerType,
		},
		Image: &hcloud.Image{
			Name: h.config.Image,
		},
		Location: &hcloud.Location{
			Name: h.config.Location,
		},
		PublicNet: &hcloud.ServerCreatePublicNet{
			EnableIPv4: true,
			EnableIPv6: false,
		},
		UserData: cloudInit,
	}

	result, _, err := h.client.Server.Create(ctx, createReq)
	if err != nil {
		return nil, errors.NewProvisionError("server-create", "", "failed to create Hetzner server", err)
	}

	providerID := result.Server.ID
	ipAddress := result.Server.PublicNet.IPv4.IP.String()

	h.logger.InfoContext(ctx, "server created",
		slog.Int64("provider_id", providerID),
		slog.String("ip_address", ipAddress))

	// Give cloud-init time to pull and start the management container
	// before polling.
	select {
	case <-time.After(bootWait):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	apiURL := fmt.Sprintf("https://%s:%d/%s", ipAddress, managementPort, apiSecret)

	var fingerprint string
	var lastErr error
	for i := 0; i < maxHealthChecks; i++ {
		h.logger.Debug("checking management API",
			slog.Int("attempt", i+1),
			slog.Int("max_attempts", maxHealthChecks))

		fingerprint, lastErr = h.checkManagementAPI(ctx, apiURL)
		if lastErr == nil {
			h.logger.InfoContext(ctx, "host provisioned",
				slog.Int64("provider_id", providerID),
				slog.String("ip_address", ipAddress),
				slog.String("cert_sha256", fingerprint))

			return &Host{
				ProviderID: providerID,
				Name:       name,
				IPAddress:  ipAddress,
				APIURL:     apiURL,
				CertSHA256: fingerprint,
			}, nil
		}

		h.logger.Warn("management API not ready, retrying",
			slog.Int("attempt", i+1),
			slog.String("error", lastErr.Error()))

		select {
		case <-time.After(healthCheckInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// The host never came up. Destroy it so a retry starts clean.
	h.logger.Error("health checks exhausted, destroying server",
		slog.Int64("provider_id", providerID))

	if destroyErr := h.DestroyHost(ctx, providerID); destroyErr != nil {
		h.logger.Error("failed to clean up unhealthy server",
			slog.Int64("provider_id", providerID),
			slog.String("error", destroyErr.Error()))
	}

	return nil, errors.NewProvisionError("health-check", fmt.Sprintf("%d", providerID),
		fmt.Sprintf("host failed health checks after %d attempts", maxHealthChecks), lastErr)
}

// checkManagementAPI probes GET {apiURL}/server and returns the SHA-256
// fingerprint of the certificate the host presented. Verification is skipped
// on this first contact; every later call pins against the captured
// fingerprint.
func (h *Hetzner) checkManagementAPI(ctx context.Context, apiURL string) (string, error) {
	var fingerprint string

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
				VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
					if len(rawCerts) == 0 {
						return fmt.Errorf("no certificate presented")
					}
					sum := sha256.Sum256(rawCerts[0])
					fingerprint = hex.EncodeToString(sum[:])
					return nil
				},
			},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/server", nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("management API returned status %d", resp.StatusCode)
	}

	var info struct {
		ServerID string `json:"serverId"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("management API returned invalid body: %w", err)
	}

	return fingerprint, nil
}

// DestroyHost deletes a fleet host from Hetzner Cloud.
func (h *Hetzner) DestroyHost(ctx context.Context, providerID int64) error {
	h.logger.InfoContext(ctx, "destroying host", slog.Int64("provider_id", providerID))

	server := &hcloud.Server{ID: providerID}
	if _, err := h.client.Server.Delete(ctx, server); err != nil {
		return errors.NewProvisionError("server-delete", fmt.Sprintf("%d", providerID),
			"failed to delete Hetzner server", err)
	}

	return nil
}
