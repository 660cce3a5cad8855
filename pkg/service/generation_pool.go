package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrPoolClosed = errors.New("generation pool closed")

const (
	DefaultGenerationWorkers = 4
	generationHistory        = 100
)

type GenerationStatus string

const (
	GenerationQueued    GenerationStatus = "queued"
	GenerationRunning   GenerationStatus = "running"
	GenerationSucceeded GenerationStatus = "succeeded"
	GenerationFailed    GenerationStatus = "failed"
	GenerationCanceled  GenerationStatus = "canceled"
)

// Generation is one prompt's trip through the pool, keyed by message id.
type Generation struct {
	MessageID      string           `json:"message_id"`
	UserID         string           `json:"-"`
	ConversationID string           `json:"conversation_id"`
	Status         GenerationStatus `json:"status"`
	QueuedAt       time.Time        `json:"queued_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	EndedAt        *time.Time       `json:"ended_at,omitempty"`
	Error          string           `json:"error,omitempty"`
}

type GenerationStats struct {
	MaxWorkers int          `json:"max_workers"`
	Queued     int          `json:"queued"`
	Running    int          `json:"running"`
	Recent     []Generation `json:"recent"`
}

type GenerationFunc func(ctx context.Context) error

type generationJob struct {
	gen *Generation
	run GenerationFunc
}

// GenerationPool runs model calls FIFO with at most maxWorkers at a time.
// Extra prompts wait in the queue instead of piling onto the provider.
type GenerationPool struct {
	mu sync.Mutex

	maxWorkers int
	workers    int
	queue      []*generationJob
	running    map[string]*generationJob
	history    []*Generation
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	// pending counts jobs that are queued or running.
	pending sync.WaitGroup
}

func NewGenerationPool(maxWorkers int) *GenerationPool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultGenerationWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GenerationPool{
		maxWorkers: maxWorkers,
		running:    make(map[string]*generationJob),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Submit queues run for the given message. run receives a context that is
// canceled when the pool closes.
func (p *GenerationPool) Submit(userID, messageID, conversationID string, run GenerationFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	job := &generationJob{
		gen: &Generation{
			MessageID:      messageID,
			UserID:         userID,
			ConversationID: conversationID,
			Status:         GenerationQueued,
			QueuedAt:       time.Now(),
		},
		run: run,
	}
	p.queue = append(p.queue, job)
	p.pending.Add(1)

	if p.workers < p.maxWorkers {
		p.workers++
		go p.work()
	}
	return nil
}

func (p *GenerationPool) work() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.workers--
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]

		now := time.Now()
		job.gen.Status = GenerationRunning
		job.gen.StartedAt = &now
		p.running[job.gen.MessageID] = job
		p.mu.Unlock()

		err := job.run(p.ctx)

		p.mu.Lock()
		delete(p.running, job.gen.MessageID)
		switch {
		case errors.Is(err, context.Canceled):
			p.finishLocked(job, GenerationCanceled, "canceled")
		case err != nil:
			p.finishLocked(job, GenerationFailed, err.Error())
		default:
			p.finishLocked(job, GenerationSucceeded, "")
		}
		p.mu.Unlock()
	}
}

func (p *GenerationPool) finishLocked(job *generationJob, status GenerationStatus, reason string) {
	end := time.Now()
	job.gen.Status = status
	job.gen.EndedAt = &end
	job.gen.Error = reason

	p.history = append([]*Generation{job.gen}, p.history...)
	if len(p.history) > generationHistory {
		p.history = p.history[:generationHistory]
	}
	p.pending.Done()
}

// Stats reports queue depth and up to recent finished generations, newest
// first. A non-empty userID limits the history to that user's generations.
func (p *GenerationPool) Stats(userID string, recent int) GenerationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := GenerationStats{
		MaxWorkers: p.maxWorkers,
		Queued:     len(p.queue),
		Running:    len(p.running),
		Recent:     []Generation{},
	}
	for _, g := range p.history {
		if len(out.Recent) >= recent {
			break
		}
		if userID == "" || g.UserID == userID {
			out.Recent = append(out.Recent, *g)
		}
	}
	return out
}

// Wait blocks until nothing is queued or running. It must not be called
// concurrently with Submit; callers stop submitting first.
func (p *GenerationPool) Wait() {
	p.pending.Wait()
}

// Close rejects new work, cancels what is running and drops what is queued.
// It returns once every worker has stopped.
func (p *GenerationPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.pending.Wait()
		return
	}
	p.closed = true
	p.cancel()
	for _, job := range p.queue {
		p.finishLocked(job, GenerationCanceled, "canceled")
	}
	p.queue = nil
	p.mu.Unlock()

	p.pending.Wait()
}
