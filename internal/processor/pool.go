package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrQueueFull  = errors.New("processing queue is full")
	ErrPoolClosed = errors.New("processing pool is shut down")
)

// ItemProcessor is what the pool runs for every queued item.
type ItemProcessor interface {
	ProcessItem(ctx context.Context, itemID string) (*Outcome, error)
}

// Task is the handle for one queued enrichment.
type Task struct {
	ID         string
	ItemID     string
	EnqueuedAt time.Time

	done    chan struct{}
	outcome *Outcome
	err     error
}

func newTask(itemID string) *Task {
	return &Task{
		ID:         uuid.NewString(),
		ItemID:     itemID,
		EnqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result blocks until the task finishes.
func (t *Task) Result() (*Outcome, error) {
	<-t.done
	return t.outcome, t.err
}

type PoolConfig struct {
	Workers   int
	QueueSize int
}

// Pool runs enrichment on a fixed set of workers fed by a bounded queue.
// At most one task per item is queued or running at a time.
type Pool struct {
	proc    ItemProcessor
	queue   chan *Task
	metrics *Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]*Task
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(proc ItemProcessor, cfg PoolConfig, metrics *Metrics, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		proc:    proc,
		queue:   make(chan *Task, cfg.QueueSize),
		metrics: metrics,
		logger:  logger,
		active:  make(map[string]*Task),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	logger.Info("Processing pool started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

// Enqueue schedules itemID for enrichment. If the item is already queued or
// running, its existing task is returned.
func (p *Pool) Enqueue(itemID string) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if task, ok := p.active[itemID]; ok {
		return task, nil
	}

	task := newTask(itemID)
	select {
	case p.queue <- task:
	default:
		return nil, ErrQueueFull
	}

	p.active[itemID] = task
	p.metrics.QueueDepth.Inc()
	return task, nil
}

// InFlight counts tasks that are queued or running.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Shutdown stops intake and waits for queued work to drain. When ctx ends
// first, running tasks are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.queue {
		p.metrics.QueueDepth.Dec()
		p.metrics.InFlight.Inc()

		start := time.Now()
		outcome, err := p.proc.ProcessItem(p.ctx, task.ItemID)
		p.metrics.Duration.Observe(time.Since(start).Seconds())
		p.metrics.InFlight.Dec()

		if err != nil {
			p.metrics.Processed.WithLabelValues("failed").Inc()
			p.logger.Error("Failed to process item",
				zap.Int("worker", id),
				zap.String("item_id", task.ItemID),
				zap.Error(err))
		} else {
			p.metrics.Processed.WithLabelValues("processed").Inc()
		}

		p.mu.Lock()
		delete(p.active, task.ItemID)
		p.mu.Unlock()

		task.outcome, task.err = outcome, err
		close(task.done)
	}
}
