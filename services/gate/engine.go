package gate

import (
	"context"
	"time"

	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"github.com/upb/authority-gate/services/mandate"
	"go.uber.org/zap"
)

// DecisionEngine resolves a request to a signed mandate.
// Implementations must honor ctx cancellation.
type DecisionEngine interface {
	Decide(ctx context.Context, req *models.AuthorizationRequest, ttl time.Duration) (*models.Mandate, error)
}

// Evaluator resolves a request to a decision. Satisfied by *policy.Manager.
type Evaluator interface {
	Evaluate(req *models.AuthorizationRequest) (models.Decision, error)
}

// LocalEngine evaluates rules in-process and signs the result
type LocalEngine struct {
	evaluator Evaluator
	issuer    *mandate.Issuer
	logger    *zap.Logger
}

// NewLocalEngine creates a LocalEngine
func NewLocalEngine(evaluator Evaluator, issuer *mandate.Issuer, logger *zap.Logger) *LocalEngine {
	return &LocalEngine{
		evaluator: evaluator,
		issuer:    issuer,
		logger:    logger,
	}
}

// Authorize evaluates the request and issues a mandate for the decision
func (e *LocalEngine) Authorize(ctx context.Context, req *models.AuthorizationRequest, ttl time.Duration) (models.Decision, *models.Mandate, error) {
	if err := ctx.Err(); err != nil {
		return models.Decision{}, nil, services.WrapTransport("decision request cancelled", err)
	}

	decision, err := e.evaluator.Evaluate(req)
	if err != nil {
		return models.Decision{}, nil, err
	}

	m, err := e.issuer.Issue(req, decision, ttl)
	if err != nil {
		return models.Decision{}, nil, err
	}

	e.logger.Debug("local decision",
		zap.String("principal", req.Principal()),
		zap.String("action", req.Action()),
		zap.String("resource", req.Resource()),
		zap.String("outcome", string(decision.Outcome)),
		zap.String("reason", decision.Reason()))

	return decision, m, nil
}

// Decide implements DecisionEngine
func (e *LocalEngine) Decide(ctx context.Context, req *models.AuthorizationRequest, ttl time.Duration) (*models.Mandate, error) {
	_, m, err := e.Authorize(ctx, req, ttl)
	return m, err
}
