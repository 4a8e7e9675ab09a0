package disk

import "sync"

// Request is a single page read or write, dispatched asynchronously and
// answered on RespCh.
type Request struct {
	PageID PageID
	Data   []byte
	Write  bool
	RespCh chan Response
}

// Response answers a Request.
type Response struct {
	Success bool
	Data    []byte
	Err     error
}

// NewRequest builds a read or write Request with a fresh response channel.
func NewRequest(pageID PageID, data []byte, write bool) Request {
	return Request{
		PageID: pageID,
		Data:   data,
		Write:  write,
		RespCh: make(chan Response, 1),
	}
}

// Scheduler serializes disk access per page id while letting unrelated
// pages proceed concurrently: one worker goroutine is spun up per page id
// with requests in flight, and torn down once its queue drains.
type Scheduler struct {
	reqCh chan Request

	mgr *Manager

	queueMu sync.Mutex
	queue   map[PageID]chan Request
}

// NewScheduler starts a Scheduler's dispatch loop in the background.
func NewScheduler(mgr *Manager) *Scheduler {
	ds := &Scheduler{
		reqCh: make(chan Request, 256),
		mgr:   mgr,
		queue: make(map[PageID]chan Request),
	}
	go ds.dispatch()
	return ds
}

// Schedule enqueues req and returns its response channel. Schedule never
// blocks on I/O: it only blocks if the internal request buffer is full.
func (ds *Scheduler) Schedule(req Request) <-chan Response {
	ds.reqCh <- req
	return req.RespCh
}

// DeletePage releases pageID's on-disk slot for reuse. Unlike Schedule,
// this is synchronous: there is no reader/writer racing a delete to
// serialize against, since the buffer pool only deletes unpinned pages.
func (ds *Scheduler) DeletePage(pageID PageID) {
	ds.mgr.DeletePage(pageID)
}

func (ds *Scheduler) dispatch() {
	for req := range ds.reqCh {
		ds.queueMu.Lock()
		pageQueue, exists := ds.queue[req.PageID]
		if !exists {
			pageQueue = make(chan Request, 16)
			ds.queue[req.PageID] = pageQueue
		}
		ds.queueMu.Unlock()

		pageQueue <- req

		if !exists {
			go ds.worker(req.PageID, pageQueue)
		}
	}
}

func (ds *Scheduler) worker(pageID PageID, reqQueue chan Request) {
	for {
		select {
		case req := <-reqQueue:
			if req.Write {
				err := ds.mgr.writePage(req.PageID, req.Data)
				req.RespCh <- Response{Success: err == nil, Err: err}
			} else {
				data, err := ds.mgr.readPage(req.PageID)
				req.RespCh <- Response{Success: err == nil, Data: data, Err: err}
			}
		default:
			ds.queueMu.Lock()
			delete(ds.queue, pageID)
			ds.queueMu.Unlock()
			return
		}
	}
}
