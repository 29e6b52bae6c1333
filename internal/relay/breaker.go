package relay

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"solana-action-relay/internal/observability"
	"solana-action-relay/internal/solana"
)

// BreakerSettings configures the circuit breaker guarding the ledger.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker. Default 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open. Default 30s.
	OpenTimeout time.Duration
}

// guardedLedger routes ledger calls through a circuit breaker. Only
// transport failures count against the ledger; node rejections pass through
// without tripping it.
type guardedLedger struct {
	ledger  Ledger
	breaker *gobreaker.CircuitBreaker
}

func newGuardedLedger(ledger Ledger, s BreakerSettings, logger *zap.Logger) *guardedLedger {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	threshold := s.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.UpdateBreakerState(int(to))
			switch {
			case to == gobreaker.StateOpen:
				logger.Warn("ledger seems down, stop allowing requests", zap.String("breaker", name))
			case from == gobreaker.StateOpen && to == gobreaker.StateHalfOpen:
				logger.Info("checking ledger status", zap.String("breaker", name))
			case from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed:
				logger.Info("ledger seems ok, restart allowing requests", zap.String("breaker", name))
			}
		},
	})
	return &guardedLedger{ledger: ledger, breaker: cb}
}

func (g *guardedLedger) send(ctx context.Context, raw []byte) (string, error) {
	var nodeErr error
	out, err := g.breaker.Execute(func() (interface{}, error) {
		start := time.Now()
		sig, err := g.ledger.SendTransaction(ctx, raw)
		observability.RecordRPCLatency("sendTransaction", time.Since(start).Seconds())
		if err != nil && !solana.IsTransient(err) {
			nodeErr = err
			return "", nil
		}
		return sig, err
	})
	if nodeErr != nil {
		return "", nodeErr
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (g *guardedLedger) simulate(ctx context.Context, raw []byte) (*solana.SimulationResult, error) {
	var nodeErr error
	out, err := g.breaker.Execute(func() (interface{}, error) {
		start := time.Now()
		res, err := g.ledger.SimulateTransaction(ctx, raw)
		observability.RecordRPCLatency("simulateTransaction", time.Since(start).Seconds())
		if err != nil && !solana.IsTransient(err) {
			nodeErr = err
			return nil, nil
		}
		return res, err
	})
	if nodeErr != nil {
		return nil, nodeErr
	}
	if err != nil {
		return nil, err
	}
	return out.(*solana.SimulationResult), nil
}

func (g *guardedLedger) state() gobreaker.State {
	return g.breaker.State()
}
