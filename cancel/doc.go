// SPDX-License-Identifier: EPL-2.0

// Package cancel implements cooperative cancellation through generation counters.
//
// An owner embeds an Operations value and hands out tokens per operation kind:
//
//	var ops cancel.Operations
//	tok := ops.TokenForBufferFill()
//	go func() {
//	    defer tok.Signal()
//	    for !tok.IsCancelled() {
//	        // decode one chunk
//	    }
//	}()
//
//	ops.CancelAllBufferFills()
//	<-tok.Acknowledged() // scratch buffers are free again
//
// Requesting a new token for a kind, or calling one of the CancelAll methods,
// makes every previously issued token of that kind stale. Stale tokens report
// a *CancellationError from Check. Signal is the one-shot acknowledgement that
// the in-flight work has actually stopped.
package cancel
