package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vitaliisemenov/syncengine/internal/core/resilience"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// Message is what gets shipped to a target region for one replicated event.
type Message struct {
	TargetRegion string
	Event        *syncmodel.SyncEvent
}

// Transport ships a replication Message to its target region and reports
// whether the remote side acknowledged it.
type Transport interface {
	Ship(ctx context.Context, msg Message) error
}

// LocalTransport delivers messages to an in-process handler, used for
// single-process deployments and tests where "shipping" to another region
// just means invoking a local apply function.
type LocalTransport struct {
	Deliver func(ctx context.Context, msg Message) error
}

func (t *LocalTransport) Ship(ctx context.Context, msg Message) error {
	if t.Deliver == nil {
		return nil
	}
	return t.Deliver(ctx, msg)
}

// HTTPTransport ships messages as JSON POSTs to a per-region endpoint,
// retrying transient failures.
type HTTPTransport struct {
	client    *retryablehttp.Client
	endpoints map[string]string // region -> base URL
}

// NewHTTPTransport builds an HTTPTransport that retries up to 3 times (the
// same RetryMax as the external-API adapter) with waits between 200ms and 2s.
func NewHTTPTransport(endpoints map[string]string) *HTTPTransport {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	return &HTTPTransport{client: client, endpoints: endpoints}
}

func (t *HTTPTransport) Ship(ctx context.Context, msg Message) error {
	base, ok := t.endpoints[msg.TargetRegion]
	if !ok {
		return resilience.Permanent("replication_ship", fmt.Errorf("no endpoint configured for region %q", msg.TargetRegion))
	}

	body, err := json.Marshal(msg.Event)
	if err != nil {
		return resilience.Permanent("replication_ship", fmt.Errorf("marshal event: %w", err))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/replicate", bytes.NewReader(body))
	if err != nil {
		return resilience.Permanent("replication_ship", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return resilience.Transient("replication_ship", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return resilience.Transient("replication_ship", fmt.Errorf("target region %s returned %d", msg.TargetRegion, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return resilience.Permanent("replication_ship", fmt.Errorf("target region %s returned %d", msg.TargetRegion, resp.StatusCode))
	}
	return nil
}
