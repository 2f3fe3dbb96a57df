package geolib

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

type batchResult struct {
	key  string
	item BatchItem
}

type resolveBatchRequest struct {
	ctx           context.Context
	addr          Address
	resultChannel chan<- batchResult
	wg            *sync.WaitGroup
}

// poolGroupRequest schedules lookups of a single batch into a shared
// worker pool. Once scheduling fails, the whole group is cancelled.
type poolGroupRequest struct {
	ctx           context.Context
	cancel        context.CancelFunc
	resultChannel chan<- batchResult
	wg            *sync.WaitGroup
	pool          *ants.PoolWithFunc
}

func (p *poolGroupRequest) Do(ctx context.Context, addr Address) error {
	select {
	case <-ctx.Done():
		return ErrContextIsClosed
	case <-p.ctx.Done():
		return ErrContextIsClosed
	default:
	}

	p.wg.Add(1)

	req := &resolveBatchRequest{
		ctx:           p.ctx,
		addr:          addr,
		resultChannel: p.resultChannel,
		wg:            p.wg,
	}

	if err := p.pool.Invoke(req); err != nil {
		p.wg.Done()
		p.cancel()

		return fmt.Errorf("cannot schedule a task: %w", err)
	}

	return nil
}

func (p *poolGroupRequest) Wait() {
	p.wg.Wait()
	p.cancel()
}

func newPoolGroupRequest(ctx context.Context,
	resultChannel chan<- batchResult,
	pool *ants.PoolWithFunc) *poolGroupRequest {
	ctx, cancel := context.WithCancel(ctx)

	return &poolGroupRequest{
		ctx:           ctx,
		cancel:        cancel,
		wg:            &sync.WaitGroup{},
		resultChannel: resultChannel,
		pool:          pool,
	}
}
