// Package msgworker runs inbound chat messages on a sharded worker pool.
// Messages are sharded by sender, so one sender's messages always land on the
// same worker and process in arrival order, while different senders proceed
// in parallel.
package msgworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is one inbound message bound to its handler.
type Job struct {
	Sender string
	Handle func(ctx context.Context) error
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	NumWorkers      int           `json:"num_workers"`
	QueueSize       int           `json:"queue_size"`
	ActiveWorkers   int           `json:"active_workers"`
	TotalDispatched int64         `json:"total_dispatched"`
	TotalProcessed  int64         `json:"total_processed"`
	TotalDropped    int64         `json:"total_dropped"`
	TotalErrors     int64         `json:"total_errors"`
	Workers         []WorkerStats `json:"workers"`
}

type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	QueueDepth    int   `json:"queue_depth"`
	IsProcessing  bool  `json:"is_processing"`
	JobsProcessed int64 `json:"jobs_processed"`
}

type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
	startTime       time.Time
}

type worker struct {
	id            int
	jobs          chan Job
	ctx           context.Context
	cancel        context.CancelFunc
	isProcessing  int32
	jobsProcessed int64
	pool          *Pool
}

func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
		startTime:  time.Now(),
	}
}

// Start launches the workers. They run until Stop or ctx ends.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		wctx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:     i,
			jobs:   make(chan Job, p.queueSize),
			ctx:    wctx,
			cancel: cancel,
			pool:   p,
		}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run(&p.wg)
	}
	logrus.Infof("[MSG_WORKER] Started with %d workers, queue size %d", p.numWorkers, p.queueSize)
}

// TryDispatch routes the job to the sender's shard without blocking. A full
// shard queue drops the job and reports false, so the transport can apply
// backpressure instead of stalling.
func (p *Pool) TryDispatch(job Job) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	shard := p.shardFor(job.Sender)
	atomic.AddInt64(&p.totalDispatched, 1)

	sent := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		select {
		case p.workers[shard].jobs <- job:
			return true
		default:
			return false
		}
	}()
	if sent {
		return true
	}

	atomic.AddInt64(&p.totalDropped, 1)
	logrus.Warnf("[MSG_WORKER] Worker %d queue full, dropping message from %s", shard, job.Sender)
	return false
}

// Dispatch is TryDispatch with the drop swallowed.
func (p *Pool) Dispatch(job Job) {
	_ = p.TryDispatch(job)
}

// Stop drains and shuts down gracefully. Safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		logrus.Info("[MSG_WORKER] Stopping workers...")
		for _, w := range p.workers {
			w.cancel()
			close(w.jobs)
		}
		p.wg.Wait()
		logrus.Info("[MSG_WORKER] All workers stopped")
	})
}

func (p *Pool) shardFor(sender string) int {
	h := fnv.New32a()
	h.Write([]byte(sender))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (p *Pool) GetStats() Stats {
	workers := make([]WorkerStats, len(p.workers))
	active := 0
	for i, w := range p.workers {
		processing := atomic.LoadInt32(&w.isProcessing) == 1
		if processing {
			active++
		}
		workers[i] = WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.jobs),
			IsProcessing:  processing,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		}
	}
	return Stats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		ActiveWorkers:   active,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		Workers:         workers,
	}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	logrus.Debugf("[MSG_WORKER] Worker %d started", w.id)
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				logrus.Debugf("[MSG_WORKER] Worker %d shutting down", w.id)
				return
			}
			w.process(job)
		case <-w.ctx.Done():
			w.drain()
			return
		}
	}
}

// process runs one job with panic containment. A panicking handler must not
// take down the shard, or every later message from its senders is lost.
func (w *worker) process(job Job) {
	atomic.StoreInt32(&w.isProcessing, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.totalErrors, 1)
			logrus.Errorf("[MSG_WORKER] Worker %d panic for %s: %v", w.id, job.Sender, r)
		}
		atomic.StoreInt32(&w.isProcessing, 0)
		atomic.AddInt64(&w.jobsProcessed, 1)
		atomic.AddInt64(&w.pool.totalProcessed, 1)
	}()

	if err := job.Handle(w.ctx); err != nil {
		atomic.AddInt64(&w.pool.totalErrors, 1)
		logrus.WithError(err).Errorf("[MSG_WORKER] Worker %d job failed for %s", w.id, job.Sender)
	}
}

// drain finishes queued jobs before shutdown.
func (w *worker) drain() {
	logrus.Debugf("[MSG_WORKER] Worker %d draining queue...", w.id)
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			w.process(job)
		default:
			return
		}
	}
}
