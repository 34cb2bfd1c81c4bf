// Package temporal gates Temporal activity execution on authorization
// verdicts. Register NewInterceptor on a worker and every activity is
// authorized before its body runs.
package temporal

import (
	"context"

	"github.com/upb/authority-gate/services"
	"github.com/upb/authority-gate/services/gate"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// ErrorTypeAuthorizationDenied is the application error type of aborted activities
const ErrorTypeAuthorizationDenied = "AuthorizationDenied"

// Authorizer resolves an intercepted call to a verdict. Satisfied by *gate.Gate.
type Authorizer interface {
	Authorize(ctx context.Context, call gate.Call) (gate.Verdict, error)
}

// activityName reads the activity type from an activity context
var activityName = func(ctx context.Context) string {
	return activity.GetInfo(ctx).ActivityType.Name
}

// Interceptor is a worker interceptor that authorizes activities
type Interceptor struct {
	interceptor.WorkerInterceptorBase
	gate   Authorizer
	logger *zap.Logger
}

var _ interceptor.WorkerInterceptor = (*Interceptor)(nil)

// NewInterceptor creates a worker interceptor backed by g
func NewInterceptor(g Authorizer, logger *zap.Logger) *Interceptor {
	return &Interceptor{gate: g, logger: logger}
}

// InterceptActivity implements interceptor.WorkerInterceptor
func (i *Interceptor) InterceptActivity(ctx context.Context, next interceptor.ActivityInboundInterceptor) interceptor.ActivityInboundInterceptor {
	a := &activityInbound{root: i}
	a.Next = next
	return a
}

type activityInbound struct {
	interceptor.ActivityInboundInterceptorBase
	root *Interceptor
}

// ExecuteActivity runs the activity only on Proceed
func (a *activityInbound) ExecuteActivity(ctx context.Context, in *interceptor.ExecuteActivityInput) (interface{}, error) {
	if err := a.root.authorize(ctx, activityName(ctx), in.Args); err != nil {
		return nil, err
	}
	return a.Next.ExecuteActivity(ctx, in)
}

// authorize returns a non-retryable application error unless the gate
// allows the call
func (i *Interceptor) authorize(ctx context.Context, action string, args []interface{}) error {
	verdict, err := i.gate.Authorize(ctx, gate.Call{Action: action, Args: args})
	if verdict.Proceed {
		return nil
	}

	if err == nil {
		err = services.ErrPolicyDeny
		if verdict.Reason == services.ReasonAuthorizationUnavailable {
			err = services.ErrAuthorizationUnavailable
		}
	}
	denied := &gate.DeniedError{Action: action, Reason: verdict.Reason, Err: err}

	i.logger.Warn("activity aborted",
		zap.String("activity", action),
		zap.String("reason", verdict.Reason),
		zap.Error(err))

	return sdktemporal.NewNonRetryableApplicationError(denied.Error(), ErrorTypeAuthorizationDenied, denied)
}
