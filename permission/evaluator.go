// Package permission evaluates membership of a permission index within an
// arbitrary-width bitfield.
//
// Bitfields arrive as decimal strings and can exceed any machine word, so
// they are handled with math/big throughout and never coerced to
// fixed-width integers.
package permission

import (
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	console "github.com/chimerakang/console-go"
	"github.com/chimerakang/console-go/metrics"
)

// Evaluator tests single bits of permission bitfields and caches each
// decision for a fixed TTL, absolute from the time it was computed.
type Evaluator struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// compile-time check
var _ console.PermissionEvaluator = (*Evaluator)(nil)

type cacheKey struct {
	index string
	bits  string
}

type cacheEntry struct {
	granted  bool
	cachedAt time.Time
}

// Option configures the Evaluator.
type Option func(*Evaluator)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithClock sets the time source, chiefly for tests with a fake clock.
func WithClock(c clockwork.Clock) Option {
	return func(e *Evaluator) { e.clock = c }
}

// WithTTL sets the decision cache lifetime.
func WithTTL(d time.Duration) Option {
	return func(e *Evaluator) { e.ttl = d }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = mx }
}

// NewEvaluator creates an evaluator with an empty decision cache.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		metrics: metrics.New(false),
		ttl:     console.DefaultCacheTTL,
		cache:   make(map[cacheKey]cacheEntry),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Has reports whether the bit at position index is set in bits. index must
// be a non-negative decimal integer and bits a non-negative decimal integer
// of arbitrary width. Malformed inputs yield false, are logged once per
// call, and are never cached.
func (e *Evaluator) Has(index, bits string) bool {
	start := e.clock.Now()
	key := cacheKey{index: index, bits: bits}

	e.mu.RLock()
	entry, hit := e.cache[key]
	e.mu.RUnlock()
	if hit && start.Sub(entry.cachedAt) < e.ttl {
		e.metrics.RecordCacheHit("permission")
		return entry.granted
	}
	e.metrics.RecordCacheMiss("permission")

	granted, valid := evaluate(index, bits)
	if !valid {
		e.logger.Warn("malformed permission check input", "index", index)
		e.metrics.RecordPermissionCheck("invalid", e.clock.Since(start).Seconds())
		return false
	}

	e.mu.Lock()
	e.sweepLocked(start)
	e.cache[key] = cacheEntry{granted: granted, cachedAt: start}
	size := len(e.cache)
	e.mu.Unlock()

	e.metrics.SetCacheSize("permission", float64(size))
	result := "denied"
	if granted {
		result = "granted"
	}
	e.metrics.RecordPermissionCheck(result, e.clock.Since(start).Seconds())
	return granted
}

// Size returns the current number of cached decisions.
func (e *Evaluator) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// evaluate parses and tests bit index of bits. valid is false when either
// input is not a non-negative decimal integer.
func evaluate(index, bits string) (granted, valid bool) {
	idx, err := strconv.Atoi(index)
	if err != nil || idx < 0 {
		return false, false
	}
	field, ok := new(big.Int).SetString(bits, 10)
	if !ok || field.Sign() < 0 {
		return false, false
	}
	return field.Bit(idx) == 1, true
}

// sweepLocked drops expired entries. It runs opportunistically on writes so
// the map stays bounded without a background goroutine. Callers hold e.mu.
func (e *Evaluator) sweepLocked(now time.Time) {
	for k, v := range e.cache {
		if now.Sub(v.cachedAt) >= e.ttl {
			delete(e.cache, k)
		}
	}
}
