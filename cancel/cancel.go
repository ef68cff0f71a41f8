// SPDX-License-Identifier: EPL-2.0

package cancel

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Kind identifies one family of cancellable operations.
type Kind int

const (
	KindSeek Kind = iota
	KindLoad
	KindBufferFill

	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindSeek:
		return "seek"
	case KindLoad:
		return "load"
	case KindBufferFill:
		return "bufferFill"
	default:
		return "unknown"
	}
}

// CancellationError is returned by Token.Check when the token is stale.
// It never reaches the host; callers swallow it where the work was abandoned.
type CancellationError struct {
	Reason string
}

func (e *CancellationError) Error() string {
	if e.Reason == "" {
		return "operation cancelled"
	}
	return "operation cancelled: " + e.Reason
}

// IsCancellation reports whether err (or anything it wraps) is a *CancellationError.
func IsCancellation(err error) bool {
	var ce *CancellationError
	return errors.As(err, &ce)
}

// Operations holds one generation counter per operation kind.
// The zero value is ready to use.
type Operations struct {
	counters [numKinds]atomic.Uint64
}

func (o *Operations) token(k Kind) *Token {
	gen := o.counters[k].Add(1)
	return &Token{
		owner: o,
		kind:  k,
		gen:   gen,
		ack:   make(chan struct{}),
	}
}

// TokenForSeek invalidates all outstanding seek tokens and returns a fresh one.
func (o *Operations) TokenForSeek() *Token { return o.token(KindSeek) }

// TokenForLoad invalidates all outstanding load tokens and returns a fresh one.
func (o *Operations) TokenForLoad() *Token { return o.token(KindLoad) }

// TokenForBufferFill invalidates all outstanding buffer fill tokens and returns a fresh one.
func (o *Operations) TokenForBufferFill() *Token { return o.token(KindBufferFill) }

func (o *Operations) CancelAllSeeks()       { o.counters[KindSeek].Add(1) }
func (o *Operations) CancelAllLoads()       { o.counters[KindLoad].Add(1) }
func (o *Operations) CancelAllBufferFills() { o.counters[KindBufferFill].Add(1) }

// CancelAll bumps every counter.
func (o *Operations) CancelAll() {
	for k := range o.counters {
		o.counters[k].Add(1)
	}
}

// Generation returns the live counter for k.
func (o *Operations) Generation(k Kind) uint64 {
	return o.counters[k].Load()
}

// Token captures one generation of one operation kind.
type Token struct {
	owner *Operations
	kind  Kind
	gen   uint64

	once sync.Once
	ack  chan struct{}
}

func (t *Token) Kind() Kind { return t.kind }

// IsCancelled reports whether the owner has moved past this token's generation.
func (t *Token) IsCancelled() bool {
	return t.owner.counters[t.kind].Load() != t.gen
}

// Check returns a *CancellationError when the token is stale.
func (t *Token) Check() error {
	if t.IsCancelled() {
		return &CancellationError{Reason: t.kind.String() + " superseded"}
	}
	return nil
}

// Signal acknowledges that the work bound to this token has stopped touching
// shared state. Only the first call has an effect.
func (t *Token) Signal() {
	t.once.Do(func() { close(t.ack) })
}

// Acknowledged is closed once Signal has been called.
func (t *Token) Acknowledged() <-chan struct{} {
	return t.ack
}
