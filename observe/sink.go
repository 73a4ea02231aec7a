// File: observe/sink.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package observe

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"

	"github.com/momentics/hioload-uring/api"
)

// DefaultRates bounds each rate-limited event name.
var DefaultRates = map[time.Duration]int{
	time.Second: 10,
	time.Minute: 100,
}

// Sink implements api.Observer on top of a logger. Events in the limited
// categories are throttled per event name; events dropped by the limiter are
// counted and reported in the "suppressed" field of the next one let through.
// Alert events are never throttled.
type Sink struct {
	logger     *Logger
	limiter    atomic.Pointer[catrate.Limiter]
	limited    map[api.Category]bool
	mu         sync.Mutex
	suppressed map[string]uint64
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithRates replaces DefaultRates. Nil or empty rates disable throttling.
func WithRates(rates map[time.Duration]int) SinkOption {
	return func(s *Sink) { s.SetRates(rates) }
}

// SetRates swaps the limiter; the budgets of every event name start afresh.
// Nil or empty rates disable throttling. Safe to call while events flow.
func (s *Sink) SetRates(rates map[time.Duration]int) {
	if len(rates) == 0 {
		s.limiter.Store(nil)
		return
	}
	s.limiter.Store(catrate.NewLimiter(rates))
}

// WithLimitedCategories replaces the set of throttled categories.
func WithLimitedCategories(cats ...api.Category) SinkOption {
	return func(s *Sink) {
		s.limited = make(map[api.Category]bool, len(cats))
		for _, c := range cats {
			s.limited[c] = true
		}
	}
}

// NewSink wraps logger. By default the accept, access and close categories
// are throttled with DefaultRates.
func NewSink(logger *Logger, opts ...SinkOption) *Sink {
	s := &Sink{
		logger:     logger,
		suppressed: make(map[string]uint64),
	}
	s.SetRates(DefaultRates)
	WithLimitedCategories(api.CategoryAccept, api.CategoryAccess, api.CategoryClose)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ api.Observer = (*Sink)(nil)

// Observe implements api.Observer.
func (s *Sink) Observe(e api.Event) {
	b := s.logger.Build(levelOf(e.Severity))
	if !b.Enabled() {
		return
	}
	var dropped uint64
	if s.limited[e.Category] && e.Severity < api.SeverityAlert {
		if limiter := s.limiter.Load(); limiter != nil {
			if _, ok := limiter.Allow(e.Name); !ok {
				b.Release()
				s.mu.Lock()
				s.suppressed[e.Name]++
				s.mu.Unlock()
				return
			}
		}
		s.mu.Lock()
		dropped = s.suppressed[e.Name]
		delete(s.suppressed, e.Name)
		s.mu.Unlock()
	}

	b = b.Str("event", e.Name).Str("category", string(e.Category))
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		b = field(b, k, e.Fields[k])
	}
	if dropped > 0 {
		b = b.Uint64("suppressed", dropped)
	}
	b.Log(e.Name)
}

// Suppressed returns the number of events of name dropped since the last one
// that was logged.
func (s *Sink) Suppressed(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed[name]
}

func field(b *logiface.Builder[logiface.Event], k string, v any) *logiface.Builder[logiface.Event] {
	switch x := v.(type) {
	case string:
		return b.Str(k, x)
	case int:
		return b.Int(k, x)
	case int32:
		return b.Int64(k, int64(x))
	case int64:
		return b.Int64(k, x)
	case uint32:
		return b.Uint64(k, uint64(x))
	case uint64:
		return b.Uint64(k, x)
	case bool:
		return b.Bool(k, x)
	case time.Duration:
		return b.Dur(k, x)
	case error:
		return b.Str(k, x.Error())
	case fmt.Stringer:
		return b.Str(k, x.String())
	default:
		return b.Any(k, x)
	}
}

func levelOf(s api.Severity) logiface.Level {
	switch s {
	case api.SeverityDebug:
		return logiface.LevelDebug
	case api.SeverityInfo:
		return logiface.LevelInformational
	case api.SeverityNotice:
		return logiface.LevelNotice
	case api.SeverityWarning:
		return logiface.LevelWarning
	case api.SeverityError:
		return logiface.LevelError
	case api.SeverityCritical:
		return logiface.LevelCritical
	default:
		return logiface.LevelAlert
	}
}
