package mqtt

import (
	"sync"

	"github.com/sweeney/line-oee/internal/logic"
)

// Reply is one recorded query answer.
type Reply struct {
	Topic   string
	Value   any
	Payload []byte
}

// FakePublisher records published documents for test assertions.
// It is safe for concurrent use; read the fields once publishing has stopped.
type FakePublisher struct {
	mu sync.Mutex

	// Records contains all production records that were published.
	Records []logic.ProductionRecord

	// Summaries contains all shift summaries that were published.
	Summaries []logic.ShiftSummary

	// Payloads contains the JSON payloads of records and summaries, in order.
	Payloads [][]byte

	// Replies contains all query answers.
	Replies []Reply

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishRecord and PublishSummary.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishRecord records the production record.
func (f *FakePublisher) PublishRecord(r logic.ProductionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatRecord(r)
	if err != nil {
		return err
	}
	f.Records = append(f.Records, r)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSummary records the shift summary.
func (f *FakePublisher) PublishSummary(s logic.ShiftSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSummary(s)
	if err != nil {
		return err
	}
	f.Summaries = append(f.Summaries, s)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishReply records the query answer.
func (f *FakePublisher) PublishReply(topic string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, err := FormatReply(v)
	if err != nil {
		return err
	}
	f.Replies = append(f.Replies, Reply{Topic: topic, Value: v, Payload: payload})
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// RecordCount returns the number of production records published so far.
func (f *FakePublisher) RecordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Records)
}

// ReplyCount returns the number of query answers recorded so far.
func (f *FakePublisher) ReplyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Replies)
}

// LastRecord returns the most recently published record.
func (f *FakePublisher) LastRecord() (logic.ProductionRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Records) == 0 {
		return logic.ProductionRecord{}, false
	}
	return f.Records[len(f.Records)-1], true
}

// LastSummary returns the most recently published summary.
func (f *FakePublisher) LastSummary() (logic.ShiftSummary, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Summaries) == 0 {
		return logic.ShiftSummary{}, false
	}
	return f.Summaries[len(f.Summaries)-1], true
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Records = nil
	f.Summaries = nil
	f.Payloads = nil
	f.Replies = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
