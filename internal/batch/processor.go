// Package batch decouples the rate at which checks discover findings from
// the rate at which they are durably written.
package batch

import (
	"context"
	"fmt"
	"sync"
)

// DefaultSize is the flush threshold when none is configured.
const DefaultSize = 50

// FlushFunc is the persistence boundary: it receives a full buffer and is
// responsible for writing it.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// Processor buffers items and flushes them through onFlush once the buffer
// reaches the configured size, capping the number of discrete write
// operations during a large scan.
type Processor[T any] struct {
	mu      sync.Mutex
	buf     []T
	size    int
	onFlush FlushFunc[T]
	flushes int
}

// NewProcessor creates a processor flushing at size items. A non-positive
// size falls back to DefaultSize.
func NewProcessor[T any](size int, onFlush FlushFunc[T]) *Processor[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Processor[T]{
		buf:     make([]T, 0, size),
		size:    size,
		onFlush: onFlush,
	}
}

// Add appends one item, flushing when the buffer reaches the threshold.
func (p *Processor[T]) Add(ctx context.Context, item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, item)
	if len(p.buf) >= p.size {
		return p.flushLocked(ctx)
	}
	return nil
}

// AddMany appends items, flushing as often as the threshold is crossed.
func (p *Processor[T]) AddMany(ctx context.Context, items []T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, item := range items {
		p.buf = append(p.buf, item)
		if len(p.buf) >= p.size {
			if err := p.flushLocked(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes whatever is buffered. A no-op on an empty buffer.
func (p *Processor[T]) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(ctx)
}

func (p *Processor[T]) flushLocked(ctx context.Context) error {
	if len(p.buf) == 0 {
		return nil
	}

	items := p.buf
	p.buf = make([]T, 0, p.size)
	p.flushes++

	if err := p.onFlush(ctx, items); err != nil {
		return fmt.Errorf("flush of %d items failed: %w", len(items), err)
	}
	return nil
}

// Pending returns how many items are buffered but unwritten.
func (p *Processor[T]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Flushes returns how many flushes have run.
func (p *Processor[T]) Flushes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}
