package feed

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xenking/kart-feed/internal/domain/product"
)

// Token identifies one dispatched fetch. Only the most recently issued token
// of a key may apply its result.
type Token struct {
	Key      Key
	Page     int
	Seq      uint64
	IssuedAt time.Time
}

// FetchFunc performs the transport call of one dispatch.
type FetchFunc func(ctx context.Context) (product.Page, error)

// DoneFunc applies the outcome of a fetch whose token is still current. It
// runs inside the loop.
type DoneFunc func(tok Token, page product.Page, err error)

type slot struct {
	tok     Token
	settled bool
}

// Coordinator issues request tokens and discards completions whose token was
// superseded. Superseded fetches are not aborted; their results are dropped
// when they arrive.
//
// All methods must be called inside the session loop.
type Coordinator struct {
	loop    *Loop
	clock   clockwork.Clock
	lg      *zap.Logger
	metrics *Metrics

	seq     uint64
	dropped uint64
	current map[Key]*slot
}

// NewCoordinator creates a Coordinator bound to loop.
func NewCoordinator(loop *Loop, clock clockwork.Clock, lg *zap.Logger, metrics *Metrics) *Coordinator {
	return &Coordinator{
		loop:    loop,
		clock:   clock,
		lg:      lg,
		metrics: metrics,
		current: make(map[Key]*slot),
	}
}

// Dispatch issues a new token for key, superseding any earlier one, and runs
// fetch on its own goroutine. done is invoked inside the loop if and only if
// the token is still current when fetch returns.
func (c *Coordinator) Dispatch(ctx context.Context, key Key, page int, fetch FetchFunc, done DoneFunc) Token {
	c.seq++
	tok := Token{
		Key:      key,
		Page:     page,
		Seq:      c.seq,
		IssuedAt: c.clock.Now(),
	}
	c.current[key] = &slot{tok: tok}
	c.metrics.dispatched(key)

	go func() {
		res, err := c.fetch(ctx, tok, fetch)
		c.loop.Do(func() {
			c.settle(tok, res, err, done)
		})
	}()
	return tok
}

// fetch runs the transport call, turning a panic into an error so it settles
// like any other failure.
func (c *Coordinator) fetch(ctx context.Context, tok Token, fetch FetchFunc) (res product.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.lg.Error("Product source panicked",
				zap.Stringer("key", tok.Key),
				zap.Int("page", tok.Page),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			res, err = product.Page{}, errors.Wrapf(ErrSourcePanic, "%v", r)
		}
	}()
	return fetch(ctx)
}

func (c *Coordinator) settle(tok Token, res product.Page, err error, done DoneFunc) {
	s, ok := c.current[tok.Key]
	if !ok || s.tok.Seq != tok.Seq || s.settled {
		c.dropped++
		c.metrics.dropped(tok.Key)
		c.lg.Debug("Dropped stale fetch result",
			zap.Stringer("key", tok.Key),
			zap.Int("page", tok.Page),
			zap.Uint64("seq", tok.Seq),
			zap.Duration("elapsed", c.clock.Since(tok.IssuedAt)),
		)
		return
	}
	s.settled = true
	if err != nil {
		c.metrics.failed(tok.Key)
	}
	done(tok, res, err)
}

// Invalidate makes every outstanding token of key stale.
func (c *Coordinator) Invalidate(key Key) {
	delete(c.current, key)
}

// Current returns the latest token issued for key.
func (c *Coordinator) Current(key Key) (Token, bool) {
	s, ok := c.current[key]
	if !ok {
		return Token{}, false
	}
	return s.tok, true
}

// Live reports whether key has a current token whose fetch is in flight.
func (c *Coordinator) Live(key Key) bool {
	s, ok := c.current[key]
	return ok && !s.settled
}

// Dropped returns how many completions were discarded as stale.
func (c *Coordinator) Dropped() uint64 {
	return c.dropped
}

// Reset invalidates every key.
func (c *Coordinator) Reset() {
	clear(c.current)
}
