package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// healthHTTPTimeout bounds a single backend health probe request.
const healthHTTPTimeout = 5 * time.Second

// HealthCheck returns a zero-cost reachability probe for the configured
// backend, suitable for a readiness endpoint. The probe hits a metadata
// endpoint (version or model list) and never generates tokens. Backends
// without a cheap probe return nil; the caller should treat that as
// always-ready.
func (c *Config) HealthCheck() func(ctx context.Context) error {
	switch c.Backend {
	case BackendOllama:
		base := strings.TrimRight(c.BaseURL, "/")
		return httpProbe(base+"/api/version", "")
	case BackendOpenAI:
		return httpProbe("https://api.openai.com/v1/models", c.APIKey)
	case BackendAzure:
		base := strings.TrimRight(c.BaseURL, "/")
		return httpProbe(base+"/openai/models?api-version="+c.AzureAPIVersion, c.APIKey)
	default:
		// Bedrock and Gemini have no cheap unauthenticated metadata endpoint.
		return nil
	}
}

// httpProbe returns a probe that GETs url and succeeds on any 2xx response.
// When bearer is non-empty it is sent as the Authorization token.
func httpProbe(url, bearer string) func(ctx context.Context) error {
	client := &http.Client{Timeout: healthHTTPTimeout}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("provider: build probe request: %w", err)
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("provider: probe %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("provider: probe %s: unexpected status %d", url, resp.StatusCode)
		}
		return nil
	}
}
