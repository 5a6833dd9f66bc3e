package availability

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/fairwaydesk/teeflow/internal/domain"
)

// HTTPGateway calls the tee-sheet service over HTTP.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGateway{baseURL: baseURL, client: client}
}

func (g *HTTPGateway) Check(ctx context.Context, req Request) ([]Slot, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"tenant_id": req.TenantID,
		"dates":     req.Dates,
		"players":   req.Players,
		"slots":     req.Slots,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/check_availability", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errors.Mark(err, domain.ErrUpstreamTimeout)
		}
		return nil, errors.Mark(err, domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, errors.Mark(errors.Newf("gateway returned %d", resp.StatusCode), domain.ErrUpstreamUnavailable)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, errors.Mark(errors.Newf("gateway returned %d", resp.StatusCode), domain.ErrUpstreamTimeout)
	default:
		return nil, errors.Newf("gateway returned %d", resp.StatusCode)
	}

	var body struct {
		Available []Slot `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Available) == 0 {
		return nil, domain.ErrNoAvailability
	}
	return body.Available, nil
}
