package rpc

import (
	"context"
	"sync"
	"time"
)

// BlockClock stands in for the host ledger's block height on a devnet.
// Subscribers receive every new height in order.
type BlockClock struct {
	mu    sync.Mutex
	block uint64
	subs  []chan uint64
}

func NewBlockClock(start uint64) *BlockClock {
	return &BlockClock{block: start}
}

func (c *BlockClock) Block() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Advance moves the clock n blocks forward and returns the new height.
func (c *BlockClock) Advance(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := uint64(0); i < n; i++ {
		c.block++
		for _, ch := range c.subs {
			select {
			case ch <- c.block:
			default:
			}
		}
	}
	return c.block
}

// Subscribe returns a channel of new heights. Slow readers miss heights.
func (c *BlockClock) Subscribe() <-chan uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan uint64, 64)
	c.subs = append(c.subs, ch)
	return ch
}

// Run advances one block per interval until ctx is done.
func (c *BlockClock) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Advance(1)
		}
	}
}
