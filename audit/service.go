// audit/service.go
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/aegis-authz/aegis/util"
)

type Service interface {
	LogDecision(ctx context.Context, log DecisionLog) error
	QueryDecisions(ctx context.Context, from, to time.Time, identityID, resource string) ([]DecisionLog, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) LogDecision(ctx context.Context, log DecisionLog) error {
	return s.repo.LogDecision(ctx, log)
}

func (s *service) QueryDecisions(ctx context.Context, from, to time.Time, identityID, resource string) ([]DecisionLog, error) {
	return s.repo.QueryDecisions(ctx, from, to, identityID, resource)
}

// SubscribeToDecisions records every "authz.decision" event the middleware
// adapters publish.
func SubscribeToDecisions(eventBus *util.EventBus, svc Service) {
	eventBus.Subscribe(EventDecision, func(ctx context.Context, event util.Event) error {
		log, ok := event.Payload.(DecisionLog)
		if !ok {
			return fmt.Errorf("unexpected payload type %T for %s event", event.Payload, EventDecision)
		}
		return svc.LogDecision(ctx, log)
	})
}
