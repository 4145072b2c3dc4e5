package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"quorumd.io/server/models"
)

// HTTPTransport delivers replication RPCs over the peers' HTTP wire
// surface.
type HTTPTransport struct {
	client *http.Client
	scheme string
}

// NewHTTPTransport creates a transport on the given HTTP client. A nil
// client uses a default with no overall timeout; per-call deadlines come
// from the caller's context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client, scheme: "http"}
}

// post sends body to the named endpoint on target and decodes the reply
// into out.
func (t *HTTPTransport) post(ctx context.Context, target models.HostPort, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
	}
	url := fmt.Sprintf("%s://%s/v1/replset/%s", t.scheme, target.String(), endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s to %s", models.ErrExceededTimeLimit, endpoint, target.String())
		}
		return fmt.Errorf("%w: %s to %s: %v", models.ErrHostUnreachable, endpoint, target.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody models.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil && errBody.Errmsg != "" {
			return fmt.Errorf("%w: %s", models.ErrHostUnreachable, errBody.Errmsg)
		}
		return fmt.Errorf("%w: %s to %s returned %d",
			models.ErrHostUnreachable, endpoint, target.String(), resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// SendHeartbeat implements Transport.
func (t *HTTPTransport) SendHeartbeat(ctx context.Context, target models.HostPort, args models.HeartbeatArgs) (*models.HeartbeatResponse, time.Duration, error) {
	start := time.Now()
	var resp models.HeartbeatResponse
	if err := t.post(ctx, target, "heartbeat", args, &resp); err != nil {
		return nil, time.Since(start), err
	}
	return &resp, time.Since(start), nil
}

// SendFresh implements Transport.
func (t *HTTPTransport) SendFresh(ctx context.Context, target models.HostPort, args models.FreshArgs) (*models.FreshResponse, error) {
	var resp models.FreshResponse
	if err := t.post(ctx, target, "fresh", args, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendElect implements Transport.
func (t *HTTPTransport) SendElect(ctx context.Context, target models.HostPort, args models.ElectArgs) (*models.ElectResponse, error) {
	var resp models.ElectResponse
	if err := t.post(ctx, target, "elect", args, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestStepDown implements Transport.
func (t *HTTPTransport) RequestStepDown(ctx context.Context, target models.HostPort) error {
	return t.post(ctx, target, "stepDown", struct{}{}, nil)
}
