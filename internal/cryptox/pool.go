package cryptox

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Derive after Close.
var ErrPoolClosed = errors.New("cryptox: kdf pool closed")

type kdfJob struct {
	ctx    context.Context
	secret []byte
	salt   []byte
	out    chan kdfResult
}

type kdfResult struct {
	key []byte
	err error
}

// KDFPool runs DeriveKEK on a fixed set of worker goroutines so that
// memory-hard derivations never run on request goroutines in unbounded
// numbers.
type KDFPool struct {
	params KDFParams
	jobs   chan kdfJob
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewKDFPool starts workers goroutines (at least one).
func NewKDFPool(workers int, params KDFParams) *KDFPool {
	if workers < 1 {
		workers = 1
	}
	p := &KDFPool{params: params, jobs: make(chan kdfJob)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *KDFPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := job.ctx.Err(); err != nil {
			job.out <- kdfResult{err: err}
			continue
		}
		key, err := DeriveKEKWithParams(job.secret, job.salt, p.params)
		job.out <- kdfResult{key: key, err: err}
	}
}

// Derive queues a derivation and waits for it or for ctx. The strength
// policy is checked before queueing so weak secrets fail fast.
func (p *KDFPool) Derive(ctx context.Context, secret, salt []byte) ([]byte, error) {
	if err := CheckSecretStrength(secret); err != nil {
		return nil, err
	}

	job := kdfJob{ctx: ctx, secret: secret, salt: salt, out: make(chan kdfResult, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case res := <-job.out:
		return res.key, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work and waits for in-flight derivations.
func (p *KDFPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
