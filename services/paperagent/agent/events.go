// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"

	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
)

// defaultEmitterBuffer is the bounded hand-off capacity between the
// exchange producer and the stream consumer.
const defaultEmitterBuffer = 16

// Emitter carries the ordered event sequence of one exchange from the
// controller to the transport.
//
// # Description
//
// Events flow through a bounded channel: if the consumer lags, Emit
// blocks instead of buffering unboundedly. Emit also watches the context,
// so a cancelled exchange unblocks the producer even with no consumer
// left. The channel preserves emission order; the consumer sees events
// exactly as the controller produced them.
//
// # Thread Safety
//
// One producer goroutine calls Emit and then Close; any single consumer
// ranges over Events. Emitters are single-exchange and not reusable.
type Emitter struct {
	ch chan datatypes.StreamEvent
}

// NewEmitter creates an Emitter with the default buffer.
func NewEmitter() *Emitter {
	return NewEmitterWithBuffer(defaultEmitterBuffer)
}

// NewEmitterWithBuffer creates an Emitter with an explicit buffer size.
// A size below 1 is treated as an unbuffered hand-off.
func NewEmitterWithBuffer(size int) *Emitter {
	if size < 0 {
		size = 0
	}
	return &Emitter{ch: make(chan datatypes.StreamEvent, size)}
}

// Emit delivers one event to the consumer, blocking while the channel is
// full. Returns the context error if the exchange is cancelled first.
func (e *Emitter) Emit(ctx context.Context, event datatypes.StreamEvent) error {
	select {
	case e.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the consumer side of the stream. The channel closes
// after the terminal event once the producer calls Close.
func (e *Emitter) Events() <-chan datatypes.StreamEvent {
	return e.ch
}

// Close ends the stream. Must be called exactly once, by the producer,
// after the terminal event.
func (e *Emitter) Close() {
	close(e.ch)
}
