// Package work provides a bounded goroutine pool for concurrent message
// handling. Each inbound protocol message is processed as an independent
// unit of work; the pool bounds how many run at once without serializing
// unrelated claims.
package work

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Pool errors.
var (
	ErrPoolShutDown = errors.New("worker pool is shut down")
	ErrQueueFull    = errors.New("task queue is full")
)

// Task is one unit of work, typically the handling of a single inbound
// message.
type Task struct {
	ID        string
	Run       func() error
	CreatedAt time.Time
}

// NewTask creates a task.
func NewTask(id string, run func() error) *Task {
	return &Task{ID: id, Run: run, CreatedAt: time.Now()}
}

// Result reports the outcome of one task.
type Result struct {
	TaskID   string
	Success  bool
	Error    error
	Duration time.Duration
	WorkerID int
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// Pool is a fixed-size worker pool with a bounded queue.
type Pool struct {
	name       string
	workers    int
	taskChan   chan *Task
	resultChan chan *Result
	wg         sync.WaitGroup

	// Atomic counters for thread-safe statistics
	active    int64
	completed int64
	failed    int64

	running bool
	mu      sync.RWMutex
}

// NewPool creates a pool with the given number of workers and starts them.
func NewPool(name string, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	p := &Pool{
		name:       name,
		workers:    workers,
		taskChan:   make(chan *Task, workers*100),
		resultChan: make(chan *Result, workers*100),
		running:    true,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.taskChan {
		p.process(id, task)
	}
}

func (p *Pool) process(workerID int, task *Task) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()
	result := &Result{TaskID: task.ID, WorkerID: workerID}

	// Panic recovery: one bad message must not take down the pool.
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = errors.New("panic in task: " + panicToString(r))
			result.Duration = time.Since(start)
			atomic.AddInt64(&p.failed, 1)
			p.sendResult(result)
		}
	}()

	if task.Run != nil {
		result.Error = task.Run()
		result.Success = result.Error == nil
	} else {
		result.Error = errors.New("no run function defined")
	}
	result.Duration = time.Since(start)

	if result.Success {
		atomic.AddInt64(&p.completed, 1)
	} else {
		atomic.AddInt64(&p.failed, 1)
	}

	p.sendResult(result)
}

func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return "unknown panic"
	}
}

// sendResult delivers a result without blocking; results are advisory and
// dropped when nobody consumes them.
func (p *Pool) sendResult(result *Result) {
	select {
	case p.resultChan <- result:
	default:
	}
}

// Submit queues a task. Returns ErrQueueFull when the bounded queue is at
// capacity rather than blocking the caller.
func (p *Pool) Submit(task *Task) error {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()

	if !running {
		return ErrPoolShutDown
	}

	select {
	case p.taskChan <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Results returns the channel of task outcomes.
func (p *Pool) Results() <-chan *Result {
	return p.resultChan
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.taskChan),
		SuccessRate: successRate,
	}
}

// Shutdown stops accepting tasks, drains the queue, and waits for workers.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.taskChan)
	p.wg.Wait()
	close(p.resultChan)
}
