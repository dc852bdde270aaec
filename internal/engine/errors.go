package engine

import "errors"

var (
	// ErrUnknownDowntimeCode rejects a downtime reason not in the catalog.
	ErrUnknownDowntimeCode = errors.New("unknown downtime code")
	// ErrNoOpenRecord means the machine has no running production record.
	ErrNoOpenRecord = errors.New("no open production record")
	// ErrDowntimeNotFound means a downtime reason had no record to annotate.
	ErrDowntimeNotFound = errors.New("no downtime record to annotate")
	// ErrUnknownQuery rejects a master query kind the engine cannot answer.
	ErrUnknownQuery = errors.New("unknown master query")
	// ErrQueueClosed is returned for work submitted after Queue.Close.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned by TrySubmit when a key's backlog is full.
	ErrQueueFull = errors.New("queue full")
)
