package live

import (
	"fmt"
	"sync"
	"time"

	"github.com/tradeforge/strategy-engine/pkg/types"
	"go.uber.org/zap"
)

// Service runs live evaluation for a set of active strategies. Bars
// arrive via OnBar; resulting intents and status events fan out on
// buffered channels that an execution service and the WebSocket hub
// consume.
type Service struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	evaluators map[string]*Evaluator // strategy id -> evaluator
	bySymbol   map[string][]string   // symbol -> strategy ids
	intents    chan types.OrderIntent
	events     chan Event
}

// NewService creates a live evaluation service.
func NewService(logger *zap.Logger) *Service {
	return &Service{
		logger:     logger,
		evaluators: make(map[string]*Evaluator),
		bySymbol:   make(map[string][]string),
		intents:    make(chan types.OrderIntent, 256),
		events:     make(chan Event, 256),
	}
}

// Intents returns the outbound order-intent channel.
func (s *Service) Intents() <-chan types.OrderIntent { return s.intents }

// Events returns the outbound status-event channel.
func (s *Service) Events() <-chan Event { return s.events }

// Activate starts live evaluation for a strategy.
func (s *Service) Activate(strategy *types.Strategy, equityFn EquityFunc) error {
	ev, err := NewEvaluator(s.logger, strategy, equityFn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.evaluators[strategy.ID]; exists {
		return fmt.Errorf("strategy %s already active", strategy.ID)
	}
	s.evaluators[strategy.ID] = ev
	s.bySymbol[strategy.Symbol] = append(s.bySymbol[strategy.Symbol], strategy.ID)

	s.logger.Info("strategy activated",
		zap.String("strategy", strategy.ID),
		zap.String("symbol", strategy.Symbol),
	)
	return nil
}

// Deactivate stops live evaluation for a strategy.
func (s *Service) Deactivate(strategyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.evaluators[strategyID]
	if !ok {
		return
	}
	delete(s.evaluators, strategyID)

	symbol := ev.strategy.Symbol
	ids := s.bySymbol[symbol]
	for i, id := range ids {
		if id == strategyID {
			s.bySymbol[symbol] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.bySymbol[symbol]) == 0 {
		delete(s.bySymbol, symbol)
	}
	s.logger.Info("strategy deactivated", zap.String("strategy", strategyID))
}

// ActiveStrategies returns the ids of every active strategy.
func (s *Service) ActiveStrategies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.evaluators))
	for id := range s.evaluators {
		ids = append(ids, id)
	}
	return ids
}

// OnBar feeds a live bar to every strategy watching its symbol.
func (s *Service) OnBar(symbol string, bar types.OHLCV) {
	s.mu.RLock()
	ids := append([]string(nil), s.bySymbol[symbol]...)
	evs := make([]*Evaluator, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.evaluators[id]; ok {
			evs = append(evs, ev)
		}
	}
	s.mu.RUnlock()

	for i, ev := range evs {
		intent := ev.OnBar(bar)
		if intent == nil {
			continue
		}
		s.dispatch(*intent, ids[i], symbol)
	}
}

func (s *Service) dispatch(intent types.OrderIntent, strategyID, symbol string) {
	select {
	case s.intents <- intent:
	default:
		s.logger.Warn("intent channel full, dropping",
			zap.String("strategy", strategyID))
	}

	event := Event{
		Type:       EventIntent,
		StrategyID: strategyID,
		Symbol:     symbol,
		Payload:    intent,
		Timestamp:  time.Now(),
	}
	select {
	case s.events <- event:
	default:
		// Status events are best-effort.
	}
}
