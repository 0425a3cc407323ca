// Package events journals pipeline activity as JSONL. Events flow
// through a buffered channel to a background drain goroutine that
// writes to disk and feeds an in-memory ring for recent-event queries.
package events

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// Kind identifies the category of a journal event. Dot-delimited:
// "<subsystem>.<action>".
type Kind string

const (
	KindStartup  Kind = "sys.startup"
	KindShutdown Kind = "sys.shutdown"

	KindCycle       Kind = "ingest.cycle"
	KindSourceError Kind = "source.error"
	KindStoreError  Kind = "store.error"

	KindEmerging Kind = "trend.emerging"
	KindDecaying Kind = "trend.decaying"
)

// Event is one journal record. Every field except Kind and Time is
// optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time `json:"t"`
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	StoryID   string    `json:"story,omitempty"`
	Source    string    `json:"source,omitempty"`
	Volume    int       `json:"volume,omitempty"`
	Baseline  float64   `json:"baseline,omitempty"`
	Received  int       `json:"received,omitempty"`
	Ingested  int       `json:"ingested,omitempty"`
	Dropped   int       `json:"dropped,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Err       string    `json:"err,omitempty"`
	Msg       string    `json:"msg,omitempty"`
}

// journalChanSize is the capacity of the async write channel.
const journalChanSize = 4096

// Journal writes events as JSONL via an async background drain.
// Goroutine-safe; Emit never blocks. Events that cannot be buffered or
// written are dropped and counted.
type Journal struct {
	sessionID string
	ch        chan Event
	w         io.Writer
	ring      *Ring
	dropped   atomic.Uint64
	closed    atomic.Bool
	done      chan struct{}
}

// NewJournal creates a Journal writing JSONL to w. Call Close to flush
// and stop the drain goroutine.
func NewJournal(w io.Writer) *Journal {
	var sid [8]byte
	_, _ = rand.Read(sid[:])

	j := &Journal{
		sessionID: fmt.Sprintf("%x", sid[:]),
		ch:        make(chan Event, journalChanSize),
		w:         w,
		ring:      NewRing(DefaultRingSize),
		done:      make(chan struct{}),
	}
	go j.drain()
	return j
}

// NewNullJournal discards output. Callers should still Close it.
func NewNullJournal() *Journal {
	return NewJournal(io.Discard)
}

// drain is the sole reader of j.ch and the sole writer to j.w.
func (j *Journal) drain() {
	defer close(j.done)
	for e := range j.ch {
		data, err := json.Marshal(e)
		if err != nil {
			j.dropped.Add(1)
			continue
		}
		data = append(data, '\n')
		if _, err := j.w.Write(data); err != nil {
			j.dropped.Add(1)
		}
		j.ring.Push(e)
	}
}

// Emit records an event, stamping Time (if zero) and the session ID.
// Non-blocking: a full channel or closed journal drops the event.
// Safe to call concurrently with Close; a racing send on the closed
// channel is recovered and counted as dropped.
func (j *Journal) Emit(e Event) {
	defer func() {
		if recover() != nil {
			j.dropped.Add(1)
		}
	}()

	if j.closed.Load() {
		j.dropped.Add(1)
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.SessionID = j.sessionID

	select {
	case j.ch <- e:
	default:
		j.dropped.Add(1)
	}
}

// Recent returns up to n journaled events, newest first. Events still
// queued for the drain goroutine may not appear yet.
func (j *Journal) Recent(n int) []Event {
	return j.ring.Recent(n)
}

// Dropped returns the number of events dropped since creation.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Close flushes pending events and stops the drain goroutine.
func (j *Journal) Close() {
	if j.closed.Swap(true) {
		return
	}
	close(j.ch)
	<-j.done

	if d := j.dropped.Load(); d > 0 {
		fmt.Fprintf(os.Stderr, "storywatch: %d journal events dropped in session %s\n", d, j.sessionID)
	}
}
