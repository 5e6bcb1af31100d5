package scheduler

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned when the pending-work queue cannot accept another
// name. With the default capacity this signals a stuck pool, not load.
var ErrQueueFull = errors.New("work queue full")

const queueCapacity = 1024

// Pool runs a live-resizable set of workers that pull download names off a
// shared FIFO queue. When the target size shrinks, surplus workers exit
// right before they would next block on the queue; a worker that is mid
// download always finishes it first.
type Pool struct {
	queue chan string
	run   func(name string)
	log   *slog.Logger

	mu     sync.Mutex
	target int
	alive  int

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewPool(size int, log *slog.Logger, run func(name string)) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		queue:  make(chan string, queueCapacity),
		run:    run,
		log:    log,
		target: size,
		stop:   make(chan struct{}),
	}
}

// Start spawns the initial workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spawnLocked()
}

// Resize sets the worker count. Growth spawns immediately; shrink is honored
// lazily by the surplus workers themselves.
func (p *Pool) Resize(size int) {
	if size < 1 {
		size = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = size
	p.spawnLocked()
	p.log.Info("worker pool resized", "target", size, "alive", p.alive)
}

// Enqueue appends a download name to the FIFO queue.
func (p *Pool) Enqueue(name string) error {
	select {
	case p.queue <- name:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop terminates all workers and waits for in-flight work to finish.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// Size returns the current worker target.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

func (p *Pool) spawnLocked() {
	for p.alive < p.target {
		p.alive++
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		if p.surplus() {
			return
		}
		select {
		case <-p.stop:
			p.retire()
			return
		case name := <-p.queue:
			p.run(name)
		}
	}
}

// surplus retires this worker when more are alive than wanted.
func (p *Pool) surplus() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alive > p.target {
		p.alive--
		return true
	}
	return false
}

func (p *Pool) retire() {
	p.mu.Lock()
	p.alive--
	p.mu.Unlock()
}
