package resilience

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultMaxBreakers = 1024

// BreakerSet hands out one Breaker per downstream key, typically a return-URL
// host, so a failing buyer endpoint only trips its own circuit.
type BreakerSet struct {
	mu           sync.Mutex
	breakers     map[string]*Breaker
	minRequests  int
	failureRatio float64
	openFor      time.Duration
	maxKeys      int
	logger       *zerolog.Logger
}

// NewBreakerSet creates breakers on demand with the given thresholds.
func NewBreakerSet(minRequests int, failureRatio float64, openFor time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:     map[string]*Breaker{},
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		maxKeys:      defaultMaxBreakers,
	}
}

// WithLogger sets the transition logger handed to every breaker.
func (s *BreakerSet) WithLogger(logger zerolog.Logger) *BreakerSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = &logger
	return s
}

// WithMaxKeys bounds the number of tracked keys. Closed breakers are evicted
// first when the bound is reached.
func (s *BreakerSet) WithMaxKeys(n int) *BreakerSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxKeys = n
	}
	return s
}

// For returns the breaker for key, creating it on first use. Keys are
// case-insensitive.
func (s *BreakerSet) For(key string) *Breaker {
	key = strings.ToLower(strings.TrimSpace(key))
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[key]; ok {
		return b
	}
	if len(s.breakers) >= s.maxKeys {
		s.evictClosedLocked()
	}
	b := NewBreaker(s.minRequests, s.failureRatio, s.openFor).WithTarget(key)
	if s.logger != nil {
		b.WithLogger(*s.logger)
	}
	s.breakers[key] = b
	return b
}

// Len reports how many keys currently have a breaker.
func (s *BreakerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.breakers)
}

func (s *BreakerSet) evictClosedLocked() {
	for key, b := range s.breakers {
		if b.State() == Closed {
			delete(s.breakers, key)
			BreakerState.DeleteLabelValues(b.targetLabel())
		}
	}
}
