package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"go.uber.org/zap"
)

const authorizePath = "/v1/authorize"

// maxResponseBytes bounds decision responses read from the engine
const maxResponseBytes = 1 << 20

// RemoteEngine asks an authorityd decision service over HTTP.
// Mandate signatures are checked by the gate, not here.
type RemoteEngine struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewRemoteEngine creates a RemoteEngine for the service at baseURL.
// A nil client uses a client without its own timeout; the gate bounds
// every call with a context deadline.
func NewRemoteEngine(baseURL string, client *http.Client, logger *zap.Logger) *RemoteEngine {
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// Decide implements DecisionEngine
func (e *RemoteEngine) Decide(ctx context.Context, req *models.AuthorizationRequest, ttl time.Duration) (*models.Mandate, error) {
	body, err := json.Marshal(req.Payload())
	if err != nil {
		return nil, services.WrapStructural("failed to encode authorization request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+authorizePath, bytes.NewReader(body))
	if err != nil {
		return nil, services.WrapTransport("failed to build decision request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if secs := int64(ttl / time.Second); secs > 0 {
		httpReq.Header.Set("X-Mandate-TTL", strconv.FormatInt(secs, 10))
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, services.WrapTransport("decision service unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, services.WrapTransport("failed to read decision response", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, services.NewDomainError(services.ErrorTypeStructural,
			"decision service rejected request", nil).
			WithDetail("response", string(data))
	case resp.StatusCode != http.StatusOK:
		return nil, services.NewDomainError(services.ErrorTypeTransport,
			fmt.Sprintf("decision service returned status %d", resp.StatusCode), nil).
			WithDetail("status", resp.StatusCode)
	}

	var out models.AuthorizeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeTransport, "malformed decision response", err)
	}
	if out.MandateID == "" || (out.Outcome != models.OutcomeAllow && out.Outcome != models.OutcomeDeny) {
		return nil, services.ErrMalformedResponse
	}

	return out.Mandate(), nil
}
