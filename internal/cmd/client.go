package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	apperrors "github.com/openmkt/openmkt/internal/errors"
)

var (
	clientServerURL  string
	clientAdminToken string
)

// apiClient talks to a running relay server.
type apiClient struct {
	http *resty.Client
}

func newAPIClient(baseURL, adminToken string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if adminToken != "" {
		rc.SetAuthToken(adminToken)
	}
	return &apiClient{http: rc}
}

// clientFromCommand resolves the server URL and admin token from flags,
// falling back to client.server_url and admin.token in config.
func clientFromCommand(cmd *cobra.Command) (*apiClient, error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(clientServerURL)
	if baseURL == "" {
		baseURL = cfg.Client.ServerURL
	}
	token := strings.TrimSpace(clientAdminToken)
	if token == "" {
		token = cfg.Admin.Token
	}
	return newAPIClient(baseURL, token, cfg.Client.Timeout), nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// responseError extracts the server's message from either error body shape.
func responseError(resp *resty.Response) error {
	var flat apperrors.APIErrorResponse
	if err := json.Unmarshal(resp.Body(), &flat); err == nil && flat.Error != "" {
		if flat.Message != "" {
			return fmt.Errorf("server returned %d: %s: %s", resp.StatusCode(), flat.Error, flat.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode(), flat.Error)
	}
	var envelope apperrors.HTTPErrorResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s (%s)", resp.StatusCode(), envelope.Error.Message, envelope.Error.Code)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
}

func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&clientServerURL, "server", "", "relay server URL (default client.server_url)")
	cmd.PersistentFlags().StringVar(&clientAdminToken, "admin-token", "", "admin bearer token (default admin.token)")
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", "table", "Output format: table|json|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory")
}
