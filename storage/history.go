package storage

import (
	"context"
	"log"
	"sync"
	"time"
)

// History persists exchanges asynchronously so a slow disk can never hold
// up a generate response.
type History struct {
	db       *DB
	writeCh  chan *writeRequest
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	logger   *log.Logger
}

type writeRequest struct {
	ex       *Exchange
	resultCh chan error // optional, for callers who want confirmation
}

// NewHistory starts the background write worker over db.
func NewHistory(db *DB, logger *log.Logger) *History {
	if logger == nil {
		logger = log.Default()
	}
	h := &History{
		db:      db,
		writeCh: make(chan *writeRequest, 100), // buffered to handle bursts
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
	h.wg.Add(1)
	go h.writeWorker()
	return h
}

func (h *History) writeWorker() {
	defer h.wg.Done()
	for {
		select {
		case req := <-h.writeCh:
			h.insert(req)
		case <-h.stopCh:
			// Drain remaining writes before exiting.
			for {
				select {
				case req := <-h.writeCh:
					h.insert(req)
				default:
					return
				}
			}
		}
	}
}

func (h *History) insert(req *writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := h.db.InsertExchange(ctx, req.ex)
	cancel()
	if err != nil {
		h.logger.Printf("history: failed to insert exchange: %v", err)
	}
	if req.resultCh != nil {
		req.resultCh <- err
		close(req.resultCh)
	}
}

// Record queues one exchange for persistence. Never blocks; on a full
// buffer the exchange is dropped with a log line.
func (h *History) Record(sessionID, query, suggestion string, commands []string, executable bool) {
	ex := &Exchange{
		Timestamp:  time.Now(),
		SessionID:  sessionID,
		Query:      query,
		Suggestion: suggestion,
		Commands:   commands,
		Executable: executable,
	}
	select {
	case h.writeCh <- &writeRequest{ex: ex}:
	default:
		h.logger.Printf("history: write buffer full, dropping exchange for session %s", sessionID)
	}
}

// RecordSync persists one exchange and waits for the result. Use sparingly.
func (h *History) RecordSync(sessionID, query, suggestion string, commands []string, executable bool) error {
	ex := &Exchange{
		Timestamp:  time.Now(),
		SessionID:  sessionID,
		Query:      query,
		Suggestion: suggestion,
		Commands:   commands,
		Executable: executable,
	}
	resultCh := make(chan error, 1)
	h.writeCh <- &writeRequest{ex: ex, resultCh: resultCh}
	return <-resultCh
}

// Stop drains pending writes and stops the worker.
func (h *History) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}
