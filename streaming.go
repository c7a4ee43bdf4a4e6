package s3xfer

import (
	"container/heap"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3xfer/s3types"
)

// newMetaRequestID returns a short unique id for log correlation.
func newMetaRequestID() string {
	return uuid.NewString()[:8]
}

// streamQueue is a min-heap of requests keyed by part number. Parts complete
// out of order; delivery to the caller must not. Its size is bounded by the
// admission ceiling: a request enters only after its network I/O completes,
// and at most maxRequestsInFlight requests exist at once.
type streamQueue []*request

func (q streamQueue) Len() int            { return len(q) }
func (q streamQueue) Less(i, j int) bool  { return q[i].partNumber < q[j].partNumber }
func (q streamQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *streamQueue) Push(x interface{}) { *q = append(*q, x.(*request)) }
func (q *streamQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// queueStreamingRequestSynced enqueues a completed request's response body
// for in-order delivery. Callers must hold the meta request lock.
func (mr *MetaRequest) queueStreamingRequestSynced(req *request) {
	heap.Push(&mr.synced.streamingQueue, req)
	mr.maybeScheduleStreamingSynced()
}

// maybeScheduleStreamingSynced schedules a delivery task on the
// body-streaming pool when the next in-order part is ready and the
// flow-control window (if enabled) has budget. Callers must hold the meta
// request lock.
func (mr *MetaRequest) maybeScheduleStreamingSynced() {
	if mr.synced.streamingScheduled {
		return
	}
	if !mr.streamingFrontReadySynced() {
		return
	}
	mr.synced.streamingScheduled = true
	mr.client.bodyStreaming.submit(mr.streamBodies)
}

// streamingFrontReadySynced reports whether the queue front is the next
// expected part and the window permits delivering it.
func (mr *MetaRequest) streamingFrontReadySynced() bool {
	if mr.synced.streamingQueue.Len() == 0 {
		return false
	}
	front := mr.synced.streamingQueue[0]
	if front.partNumber != mr.synced.nextStreamingPart {
		return false
	}
	if mr.synced.readWindowEnabled && mr.synced.readWindow < int64(len(front.responseBody)) {
		return false
	}
	return true
}

// streamBodies runs on the body-streaming pool. It drains every ready
// request in part order, invoking the caller's body callback off-lock.
func (mr *MetaRequest) streamBodies() {
	for {
		mr.synced.mu.Lock()
		if !mr.streamingFrontReadySynced() {
			mr.synced.streamingScheduled = false
			mr.synced.mu.Unlock()
			return
		}
		req := heap.Pop(&mr.synced.streamingQueue).(*request)
		mr.synced.nextStreamingPart = req.partNumber + 1
		if mr.synced.readWindowEnabled {
			mr.synced.readWindow -= int64(len(req.responseBody))
		}
		mr.synced.mu.Unlock()

		if mr.callbacks.OnBody != nil && len(req.responseBody) > 0 {
			mr.callbacks.OnBody(req.streamingOffset, req.responseBody)
		}
		if mr.callbacks.OnProgress != nil {
			mr.callbacks.OnProgress(s3types.Progress{
				BytesTransferred: int64(len(req.responseBody)),
			})
		}
		req.responseBody = nil

		mr.synced.mu.Lock()
		mr.synced.numPartsStreamed++
		mr.synced.mu.Unlock()
		mr.client.scheduleProcessWork()
	}
}

// bodyStreamPool is the second scheduling domain: a small goroutine pool
// delivering body callbacks so slow consumers cannot stall the request
// pipeline.
type bodyStreamPool struct {
	tasks chan func()
	done  chan struct{}
}

// newBodyStreamPool starts workers goroutines.
func newBodyStreamPool(workers int) *bodyStreamPool {
	if workers <= 0 {
		workers = 2
	}
	p := &bodyStreamPool{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *bodyStreamPool) run() {
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.done:
			// drain anything already queued before exiting
			for {
				select {
				case task := <-p.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// submit queues a delivery task. Blocks when the pool is saturated, which
// backpressures the request goroutines rather than dropping deliveries.
func (p *bodyStreamPool) submit(task func()) {
	select {
	case p.tasks <- task:
	case <-p.done:
		task()
	}
}

// shutdown stops the workers after queued tasks drain.
func (p *bodyStreamPool) shutdown() {
	close(p.done)
}
