package llm

import (
	"sync"
	"time"
)

// UsageStat accumulates per-model usage across the process lifetime.
// Never persisted.
type UsageStat struct {
	Requests          int   `json:"requests"`
	TotalInputTokens  int   `json:"total_input_tokens"`
	TotalOutputTokens int   `json:"total_output_tokens"`
	TotalTokens       int   `json:"total_tokens"`
	ErrorCount        int   `json:"error_count"`
	RateLimitCount    int   `json:"rate_limit_count"`
	LastUpdatedMs     int64 `json:"last_updated_ms"`
}

// StatsTracker holds per-model usage under a per-model atomic
// read-modify-write.
type StatsTracker struct {
	mu    sync.Mutex
	stats map[string]*UsageStat
	now   func() time.Time
}

// NewStatsTracker creates an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{stats: map[string]*UsageStat{}, now: time.Now}
}

// RecordSuccess updates a model's stat after a successful upstream reply.
func (s *StatsTracker) RecordSuccess(model string, inputTokens, outputTokens, totalTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statFor(model)
	st.Requests++
	st.TotalInputTokens += inputTokens
	st.TotalOutputTokens += outputTokens
	st.TotalTokens += totalTokens
	st.LastUpdatedMs = s.now().UnixMilli()
}

// RecordError increments a model's error count.
func (s *StatsTracker) RecordError(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statFor(model)
	st.ErrorCount++
	st.LastUpdatedMs = s.now().UnixMilli()
}

// RecordRateLimit increments a model's rate-limit count.
func (s *StatsTracker) RecordRateLimit(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statFor(model)
	st.RateLimitCount++
	st.LastUpdatedMs = s.now().UnixMilli()
}

func (s *StatsTracker) statFor(model string) *UsageStat {
	st, ok := s.stats[model]
	if !ok {
		st = &UsageStat{}
		s.stats[model] = st
	}
	return st
}

// Snapshot returns a copy of all tracked stats, for the /stats endpoint.
func (s *StatsTracker) Snapshot() map[string]UsageStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]UsageStat, len(s.stats))
	for model, st := range s.stats {
		out[model] = *st
	}
	return out
}
