package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"github.com/upb/authority-gate/services/mandate"
	"go.uber.org/zap"
)

// decisionServer serves /v1/authorize from a LocalEngine, optionally
// rewriting the response
func decisionServer(t *testing.T, local *LocalEngine, clk clock.Clock, rewrite func(r *models.AuthorizeResponse)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != authorizePath || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var payload models.AuthorizationPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		decision, m, err := local.Authorize(r.Context(), payload.Request(clk.Now()), 0)
		if err != nil {
			if services.IsStructuralError(err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		resp := models.NewAuthorizeResponse(decision, m)
		if rewrite != nil {
			rewrite(&resp)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newRemoteGate(t *testing.T, url string, clk clock.Clock, verifier mandate.Verifier, timeout time.Duration) *Gate {
	t.Helper()
	g, err := New(Config{
		Principal:       models.Principal{ID: "temporal-worker"},
		Resource:        "temporal:activity",
		DecisionTimeout: timeout,
	}, NewRemoteEngine(url, nil, zap.NewNop()), verifier, mandate.NewCache(10, clk), zap.NewNop(), WithClock(clk))
	require.NoError(t, err)
	return g
}

func TestRemoteEngine_Decide(t *testing.T) {
	clk := clock.Fake(epoch)
	local, issuer := newLocalEngine(t, clk, ordersRuleSet())
	server := decisionServer(t, local, clk, nil)
	defer server.Close()

	engine := NewRemoteEngine(server.URL+"/", nil, zap.NewNop())
	req := models.NewAuthorizationRequest(models.Principal{ID: "temporal-worker"}, "process_order", "temporal:activity", nil, epoch)

	m, err := engine.Decide(context.Background(), req, 0)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAllow, m.Outcome)
	assert.Equal(t, "allow-orders", m.Reason)
	assert.Equal(t, "temporal:activity", m.Resource)
	assert.NoError(t, issuer.Verify(m), "signature survives the JSON round trip")
}

func TestRemoteGate_EndToEnd(t *testing.T) {
	clk := clock.Fake(epoch)
	local, issuer := newLocalEngine(t, clk, ordersRuleSet())
	server := decisionServer(t, local, clk, nil)
	defer server.Close()

	g := newRemoteGate(t, server.URL, clk, issuer.Verifier(), time.Second)

	verdict, err := g.Authorize(context.Background(), Call{Action: "process_order"})
	require.NoError(t, err)
	assert.True(t, verdict.Proceed)

	verdict, err = g.Authorize(context.Background(), Call{Action: "delete_order"})
	require.NoError(t, err)
	assert.False(t, verdict.Proceed)
	assert.Equal(t, "no-deletes", verdict.Reason)
}

func TestRemoteGate_TamperedMandate(t *testing.T) {
	clk := clock.Fake(epoch)
	local, issuer := newLocalEngine(t, clk, ordersRuleSet())
	server := decisionServer(t, local, clk, func(r *models.AuthorizeResponse) {
		r.Outcome = models.OutcomeAllow
		r.Reason = "allow-orders"
	})
	defer server.Close()

	g := newRemoteGate(t, server.URL, clk, issuer.Verifier(), time.Second)

	verdict, err := g.Authorize(context.Background(), Call{Action: "delete_order"})
	require.Error(t, err)
	assert.True(t, services.IsIntegrityError(err))
	assert.False(t, verdict.Proceed)
	assert.Equal(t, services.ReasonIntegrityFailure, verdict.Reason)
}

func TestRemoteGate_FailClosed(t *testing.T) {
	clk := clock.Fake(epoch)
	issuer := newIssuer(t, clk)

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}},
		{"missing mandate", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"outcome": "allow"}`))
		}},
		{"slow engine", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			g := newRemoteGate(t, server.URL, clk, issuer.Verifier(), 100*time.Millisecond)

			ran := false
			task := g.Wrap("process_order", func(ctx context.Context, args ...any) (any, error) {
				ran = true
				return nil, nil
			})

			_, err := task(context.Background())
			require.Error(t, err)
			assert.False(t, ran)

			var denied *DeniedError
			require.ErrorAs(t, err, &denied)
			assert.Equal(t, services.ReasonAuthorizationUnavailable, denied.Reason)
		})
	}
}

func TestRemoteGate_Unreachable(t *testing.T) {
	clk := clock.Fake(epoch)
	issuer := newIssuer(t, clk)

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	g := newRemoteGate(t, url, clk, issuer.Verifier(), time.Second)

	verdict, err := g.Authorize(context.Background(), Call{Action: "process_order"})
	require.NoError(t, err)
	assert.False(t, verdict.Proceed)
	assert.Equal(t, services.ReasonAuthorizationUnavailable, verdict.Reason)
}

func TestRemoteEngine_BadRequestIsStructural(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "action cannot be empty"}`))
	}))
	defer server.Close()

	engine := NewRemoteEngine(server.URL, nil, zap.NewNop())
	req := models.NewAuthorizationRequest(models.Principal{ID: "w"}, "x", "*", nil, epoch)

	_, err := engine.Decide(context.Background(), req, 0)
	require.Error(t, err)
	assert.True(t, services.IsStructuralError(err))
}
