package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vitaliisemenov/syncengine/internal/core/resilience"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// ExternalAPIAdapter fans an event out to a third-party HTTP API. It owns
// no retry loop of its own beyond go-retryablehttp's transport-level
// retries (connection failures, 5xx); the sync engine's own retry policy
// governs re-submission of the whole event.
type ExternalAPIAdapter struct {
	name    string
	baseURL string
	client  *retryablehttp.Client
	logger  *slog.Logger
}

// NewExternalAPIAdapter builds an adapter posting entity mutations to
// baseURL + "/{entity-type}/{entity-id}". The retryablehttp client retries
// connection errors and 5xx responses up to 3 times with the library's
// default exponential backoff; 4xx responses are returned to the caller
// unretried and classified permanent.
func NewExternalAPIAdapter(name, baseURL string, logger *slog.Logger) *ExternalAPIAdapter {
	if logger == nil {
		logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil // the engine's own structured logger covers this

	return &ExternalAPIAdapter{
		name:    name,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

func (a *ExternalAPIAdapter) Name() string               { return a.name }
func (a *ExternalAPIAdapter) Kind() syncmodel.AdapterKind { return syncmodel.AdapterExternalAPI }

func (a *ExternalAPIAdapter) Apply(ctx context.Context, event *syncmodel.SyncEvent) error {
	url := fmt.Sprintf("%s/%s/%s", a.baseURL, event.EntityType, event.EntityID)
	method := http.MethodPut
	var body io.Reader

	if event.Kind == syncmodel.EventDelete {
		method = http.MethodDelete
	} else {
		payloadJSON, err := json.Marshal(event.Payload)
		if err != nil {
			return resilience.Permanent("external_api_marshal", fmt.Errorf("marshal payload: %w", err))
		}
		body = bytes.NewReader(payloadJSON)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return resilience.Permanent("external_api_request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sync-Version", fmt.Sprintf("%d", event.Version))

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.Transient("external_api_call", fmt.Errorf("%s %s: %w", method, url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return resilience.Transient("external_api_status", fmt.Errorf("%s %s: server error %d", method, url, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return resilience.Permanent("external_api_status", fmt.Errorf("%s %s: client error %d", method, url, resp.StatusCode))
	}

	return nil
}

func (a *ExternalAPIAdapter) HealthCheck(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/healthz", nil)
	if err != nil {
		return resilience.Permanent("external_api_health_request", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req.Request)
	if err != nil {
		return resilience.Transient("external_api_health", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return resilience.Transient("external_api_health", fmt.Errorf("healthz returned %d", resp.StatusCode))
	}
	return nil
}
