// Package secrets provides optional Infisical-backed secret loading, with
// environment variables as the fallback when Infisical is not configured.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"anthrobridge/internal/logger"
)

// Client provides Infisical API access.
type Client struct {
	apiURL     string
	token      string
	httpClient *http.Client
}

// Config holds Infisical configuration.
type Config struct {
	APIURL      string
	Token       string
	WorkspaceID string
	Environment string // dev, staging, production
}

// LoadConfig loads Infisical config from environment.
func LoadConfig() Config {
	return Config{
		APIURL:      getEnv("INFISICAL_API_URL", ""),
		Token:       getEnv("INFISICAL_TOKEN", ""),
		WorkspaceID: getEnv("INFISICAL_WORKSPACE_ID", ""),
		Environment: getEnv("INFISICAL_ENVIRONMENT", "dev"),
	}
}

// NewClient creates a new Infisical client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("INFISICAL_TOKEN is required")
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("INFISICAL_API_URL is required")
	}

	return &Client{
		apiURL:     cfg.APIURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// SecretResponse represents a secret list from Infisical.
type SecretResponse struct {
	Secrets []Secret `json:"secrets"`
}

// Secret is a single Infisical secret entry.
type Secret struct {
	ID    string `json:"id"`
	Key   string `json:"secretKey"`
	Value string `json:"secretValue"`
}

// GetSecret fetches a single secret by key from the proxy's secret path.
func (c *Client) GetSecret(ctx context.Context, key string) (string, error) {
	log := logger.WithComponent("secrets")

	url := fmt.Sprintf("%s/v3/secrets?workspaceId=%s&environment=%s&secretPath=/anthrobridge&secretKey=%s",
		c.apiURL, c.WorkspaceID(), c.Environment(), key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("failed to fetch secret from Infisical", "error", err, "key", key)
		return "", fmt.Errorf("fetching secret: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("infisical API error %d: %s", resp.StatusCode, string(body))
	}

	var result SecretResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Secrets) == 0 {
		return "", fmt.Errorf("secret not found: %s", key)
	}

	log.Debug("fetched secret from Infisical", "key", key)
	return result.Secrets[0].Value, nil
}

// Health checks if Infisical is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/status", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("infisical health check failed: %d", resp.StatusCode)
	}
	return nil
}

// WorkspaceID reports the configured Infisical workspace.
func (c *Client) WorkspaceID() string {
	return os.Getenv("INFISICAL_WORKSPACE_ID")
}

// Environment reports the configured Infisical environment, defaulting to dev.
func (c *Client) Environment() string {
	if env := os.Getenv("INFISICAL_ENVIRONMENT"); env != "" {
		return env
	}
	return "dev"
}

// MockClient is a fixed-map stand-in for Client.
type MockClient struct {
	Secrets map[string]string
}

// GetSecret implements the same lookup Client.GetSecret does, against a map.
func (m *MockClient) GetSecret(_ context.Context, key string) (string, error) {
	if val, ok := m.Secrets[key]; ok {
		return val, nil
	}
	return "", fmt.Errorf("secret not found: %s", key)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
