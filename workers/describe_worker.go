package workers

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/miyagawa-lab/geonarrator/models"
	"github.com/miyagawa-lab/geonarrator/services"
)

// DescribeJob asks for one stored record to be run through the
// single-image synthesis path.
type DescribeJob struct {
	RecordID string
	Options  models.SynthesisOptions
}

// DescribePool drains ingest-produced describe jobs into the synthesizer
// with bounded parallelism. Per-record exclusivity and the global model
// cap are the synthesizer's concern; the pool only prevents the same
// record from being queued twice.
type DescribePool struct {
	JobQueue    chan DescribeJob
	Synthesizer *services.DescriptionSynthesizer
	JobTimeout  time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	pending  map[string]bool
	mutex    sync.Mutex
}

// NewDescribePool starts numWorkers workers draining a queue of queueSize.
func NewDescribePool(synth *services.DescriptionSynthesizer, queueSize, numWorkers int, jobTimeout time.Duration) *DescribePool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	pool := &DescribePool{
		JobQueue:    make(chan DescribeJob, queueSize),
		Synthesizer: synth,
		JobTimeout:  jobTimeout,
		stopChan:    make(chan struct{}),
		pending:     make(map[string]bool),
	}
	pool.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.worker(i)
	}
	log.Printf("Started %d describe worker(s) with queue size %d", numWorkers, queueSize)
	return pool
}

func (p *DescribePool) worker(id int) {
	defer p.wg.Done()

	log.Printf("Describe worker %d started", id)
	for {
		select {
		case job, ok := <-p.JobQueue:
			if !ok {
				log.Printf("Describe worker %d stopping: job queue closed", id)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), p.JobTimeout)
			result, err := p.Synthesizer.DescribeRecord(ctx, job.RecordID, job.Options)
			cancel()
			if err != nil {
				log.Printf("Worker %d: ERROR describing record %s: %v", id, job.RecordID, err)
			} else {
				log.Printf("Worker %d: described record %s in %.2fs (%d attempt(s))",
					id, job.RecordID, result.ElapsedTime, result.Attempts)
			}

			p.mutex.Lock()
			delete(p.pending, job.RecordID)
			p.mutex.Unlock()

		case <-p.stopChan:
			log.Printf("Describe worker %d stopping: stop signal received", id)
			return
		}
	}
}

// QueueJob queues a record for description unless it is already pending.
// Returns false when the record is pending or the queue is full.
func (p *DescribePool) QueueJob(job DescribeJob) bool {
	p.mutex.Lock()
	if p.pending[job.RecordID] {
		p.mutex.Unlock()
		return false
	}
	p.pending[job.RecordID] = true
	p.mutex.Unlock()

	select {
	case p.JobQueue <- job:
		log.Printf("Queued description for record %s", job.RecordID)
		return true
	default:
		log.Printf("WARNING: describe job queue full, dropping record %s", job.RecordID)
		p.mutex.Lock()
		delete(p.pending, job.RecordID)
		p.mutex.Unlock()
		return false
	}
}

// Stop signals all workers and waits for them to finish their current job.
func (p *DescribePool) Stop() {
	log.Println("Stopping describe workers...")
	close(p.stopChan)
	p.wg.Wait()
	log.Println("All describe workers stopped")
}
