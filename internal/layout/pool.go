package layout

import (
	"runtime"
	"sync"
)

// barrier is a cyclic synchronization point for a fixed number of parties.
// Every participant blocks in await until the last one arrives, after which
// the barrier resets itself for the next phase.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	waiting int
	phase   uint64
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// await blocks until all parties have called await for the current phase.
// Writes made by any party before its await call are visible to every party
// after await returns.
func (b *barrier) await() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.phase++
		b.cond.Broadcast()
		return
	}
	phase := b.phase
	for phase == b.phase {
		b.cond.Wait()
	}
}

// worker is one participant of the SPMD protocol. Each kernel invocation runs
// the same body on every worker; the worker index selects the data partition.
type worker struct {
	id   int
	pool *threadPool
}

// Sync blocks on the shared barrier until every worker of the pool has called
// Sync. It is the only suspension point in the kernel protocol.
func (w *worker) Sync() {
	w.pool.barrier.await()
}

// threadPool is a fixed-size SPMD execution substrate. It spawns size-1
// persistent goroutines pinned to OS threads; the calling goroutine acts as
// worker 0. The pool persists across iterations, only the kernel body bound
// to each worker changes between runKernel calls.
type threadPool struct {
	size    int
	barrier *barrier
	workers []*worker
	tasks   []chan poolTask
	closed  bool
}

type poolTask struct {
	body func(*worker)
	wg   *sync.WaitGroup
}

// newThreadPool builds a pool of the given size. Size must be at least 1; the
// pool cannot run without its substrate, so a failed spawn is unrecoverable
// and surfaces as a runtime panic.
func newThreadPool(size int) *threadPool {
	if size < 1 {
		size = 1
	}
	p := &threadPool{
		size:    size,
		barrier: newBarrier(size),
		workers: make([]*worker, size),
		tasks:   make([]chan poolTask, size),
	}
	for i := 0; i < size; i++ {
		p.workers[i] = &worker{id: i, pool: p}
	}
	for i := 1; i < size; i++ {
		p.tasks[i] = make(chan poolTask)
		go p.workerLoop(i)
	}
	return p
}

func (p *threadPool) workerLoop(i int) {
	// One OS thread per worker keeps the barrier-phase protocol on a fixed
	// set of threads, matching one-thread-per-core scheduling.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for task := range p.tasks[i] {
		task.body(p.workers[i])
		task.wg.Done()
	}
}

// runKernel executes body once on every worker and blocks the caller until
// all of them have completed. The caller participates as worker 0.
func (p *threadPool) runKernel(body func(*worker)) {
	var wg sync.WaitGroup
	wg.Add(p.size - 1)
	for i := 1; i < p.size; i++ {
		p.tasks[i] <- poolTask{body: body, wg: &wg}
	}
	body(p.workers[0])
	wg.Wait()
}

// close stops the worker goroutines. The pool must not be used afterwards.
func (p *threadPool) close() {
	if p.closed {
		return
	}
	p.closed = true
	for i := 1; i < p.size; i++ {
		close(p.tasks[i])
	}
}
