package route

import (
	"sync"
	"time"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// Stats 路由统计快照.
type Stats struct {
	RouteID             string        `json:"route_id"`
	Status              Status        `json:"status"`
	ExchangesTotal      int64         `json:"exchanges_total"`
	ExchangesCompleted  int64         `json:"exchanges_completed"`
	ExchangesFailed     int64         `json:"exchanges_failed"`
	ExchangesInflight   int64         `json:"exchanges_inflight"`
	FailuresHandled     int64         `json:"failures_handled"`
	Redeliveries        int64         `json:"redeliveries"`
	MinProcessingTime   time.Duration `json:"min_processing_time"`
	MaxProcessingTime   time.Duration `json:"max_processing_time"`
	MeanProcessingTime  time.Duration `json:"mean_processing_time"`
	LastProcessingTime  time.Duration `json:"last_processing_time"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	FirstCompleted      time.Time     `json:"first_completed,omitzero"`
	LastCompleted       time.Time     `json:"last_completed,omitzero"`
	LastFailure         time.Time     `json:"last_failure,omitzero"`
	Uptime              time.Duration `json:"uptime"`
	LastError           string        `json:"last_error,omitempty"`
}

// statsRecorder 累积路由统计.
type statsRecorder struct {
	mu        sync.Mutex
	total     int64
	completed int64
	failed    int64
	inflight  int64
	handled   int64
	redeliv   int64
	min, max  time.Duration
	last, sum time.Duration
	first     time.Time
	lastDone  time.Time
	lastFail  time.Time
}

func (s *statsRecorder) begin() {
	s.mu.Lock()
	s.total++
	s.inflight++
	s.mu.Unlock()
}

func (s *statsRecorder) done(ex *exchange.Exchange, elapsed time.Duration) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight--
	if ex.IsRedelivered() {
		s.redeliv++
	}
	switch {
	case ex.Failed():
		s.failed++
		s.lastFail = now
		return
	case ex.IsErrorHandled():
		s.handled++
	}

	s.completed++
	if s.first.IsZero() {
		s.first = now
	}
	s.lastDone = now
	s.last = elapsed
	s.sum += elapsed
	if s.min == 0 || elapsed < s.min {
		s.min = elapsed
	}
	if elapsed > s.max {
		s.max = elapsed
	}
}

func (s *statsRecorder) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		ExchangesTotal:      s.total,
		ExchangesCompleted:  s.completed,
		ExchangesFailed:     s.failed,
		ExchangesInflight:   s.inflight,
		FailuresHandled:     s.handled,
		Redeliveries:        s.redeliv,
		MinProcessingTime:   s.min,
		MaxProcessingTime:   s.max,
		LastProcessingTime:  s.last,
		TotalProcessingTime: s.sum,
		FirstCompleted:      s.first,
		LastCompleted:       s.lastDone,
		LastFailure:         s.lastFail,
	}
	if s.completed > 0 {
		st.MeanProcessingTime = s.sum / time.Duration(s.completed)
	}
	return st
}
