package producer

import (
	"sync"
	"time"

	"streamhub/pkg/types"
)

// Store is the bounded in-memory registry of generated insights and
// predictions. When full, the oldest entries are evicted; nothing is
// persisted.
type Store struct {
	mu       sync.RWMutex
	capacity int

	insights     map[string]*types.Insight
	insightOrder []string

	predictions     map[string]*types.Prediction
	predictionOrder []string
}

// NewStore creates a store holding at most capacity entries per kind
// (default 500).
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 500
	}
	return &Store{
		capacity:    capacity,
		insights:    make(map[string]*types.Insight),
		predictions: make(map[string]*types.Prediction),
	}
}

// AddInsight stores an insight, evicting the oldest entry when full.
func (s *Store) AddInsight(ins *types.Insight) {
	if ins == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.insights[ins.ID]; !ok {
		s.insightOrder = append(s.insightOrder, ins.ID)
	}
	s.insights[ins.ID] = ins
	for len(s.insightOrder) > s.capacity {
		oldest := s.insightOrder[0]
		s.insightOrder = s.insightOrder[1:]
		delete(s.insights, oldest)
	}
}

// Insight looks up an insight by id.
func (s *Store) Insight(id string) (*types.Insight, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ins, ok := s.insights[id]
	return ins, ok
}

// Insights returns the stored insights, oldest first, skipping expired ones.
func (s *Store) Insights() []*types.Insight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	out := make([]*types.Insight, 0, len(s.insightOrder))
	for _, id := range s.insightOrder {
		ins := s.insights[id]
		if ins.ExpiresAt != nil && ins.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, ins)
	}
	return out
}

// AddPrediction stores a prediction, evicting the oldest entry when full.
func (s *Store) AddPrediction(p *types.Prediction) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.predictions[p.ID]; !ok {
		s.predictionOrder = append(s.predictionOrder, p.ID)
	}
	s.predictions[p.ID] = p
	for len(s.predictionOrder) > s.capacity {
		oldest := s.predictionOrder[0]
		s.predictionOrder = s.predictionOrder[1:]
		delete(s.predictions, oldest)
	}
}

// Predictions returns the stored predictions, oldest first.
func (s *Store) Predictions() []*types.Prediction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Prediction, 0, len(s.predictionOrder))
	for _, id := range s.predictionOrder {
		out = append(out, s.predictions[id])
	}
	return out
}

// TouchPredictions re-stamps every stored prediction and returns them, for
// the periodic prediction_update broadcast.
func (s *Store) TouchPredictions(now time.Time) []*types.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Prediction, 0, len(s.predictionOrder))
	for _, id := range s.predictionOrder {
		p := s.predictions[id]
		p.UpdatedAt = now
		out = append(out, p)
	}
	return out
}

// Counts returns stored insight and prediction totals.
func (s *Store) Counts() (insights, predictions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.insights), len(s.predictions)
}
