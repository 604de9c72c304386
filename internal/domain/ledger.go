package domain

import (
	"sync"
)

// OutcomeKind is the final state of one title
type OutcomeKind int

const (
	OutcomePending OutcomeKind = iota
	OutcomeSuccess
	OutcomePartialFailure
	OutcomeFailed
	OutcomeExternalOnly
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialFailure:
		return "partial_failure"
	case OutcomeFailed:
		return "failed"
	case OutcomeExternalOnly:
		return "external_only"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// FileFailure names one file that could not be saved
type FileFailure struct {
	UploadID int64  `json:"upload_id,omitempty"`
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// Outcome is the ledger entry of one title
type Outcome struct {
	ID           ContentID
	Title        string
	URL          string
	Kind         OutcomeKind
	Reason       string
	Paths        []string
	Failures     []FileFailure
	ExternalURLs []string
	// Bytes counts data written during this run
	Bytes int64
	// Downloaded and Present split Paths into fetched and already on disk
	Downloaded int
	Present    int
	// Attempted counts hosted files the scheduler started on
	Attempted int
}

// Ledger collects per-title results from concurrent workers. Its key set
// is fixed at construction to the resolved identifiers; results for any
// other identifier are dropped.
type Ledger struct {
	mu      sync.Mutex
	order   []ContentID
	entries map[ContentID]*Outcome
}

// NewLedger registers every resolved reference as pending
func NewLedger(refs []ContentRef) *Ledger {
	l := &Ledger{entries: make(map[ContentID]*Outcome, len(refs))}
	for _, ref := range refs {
		if _, ok := l.entries[ref.ID]; ok {
			continue
		}
		l.order = append(l.order, ref.ID)
		l.entries[ref.ID] = &Outcome{ID: ref.ID, Title: ref.Title, URL: ref.URL}
	}
	return l
}

func (l *Ledger) update(id ContentID, fn func(o *Outcome)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.entries[id]
	if !ok {
		return false
	}
	fn(o)
	return true
}

// Describe fills in title and URL once metadata is known
func (l *Ledger) Describe(id ContentID, title, url string) bool {
	return l.update(id, func(o *Outcome) {
		if title != "" {
			o.Title = title
		}
		if url != "" {
			o.URL = url
		}
	})
}

// RecordFile records a saved file. present marks files that were already
// in storage and needed no download.
func (l *Ledger) RecordFile(id ContentID, path string, bytes int64, present bool) bool {
	return l.update(id, func(o *Outcome) {
		o.Paths = append(o.Paths, path)
		if present {
			o.Present++
			return
		}
		o.Downloaded++
		o.Bytes += bytes
	})
}

// RecordAttempt counts one hosted file the scheduler started on
func (l *Ledger) RecordAttempt(id ContentID) bool {
	return l.update(id, func(o *Outcome) {
		o.Attempted++
	})
}

// RecordFailure records one file that could not be saved
func (l *Ledger) RecordFailure(id ContentID, failure FileFailure) bool {
	return l.update(id, func(o *Outcome) {
		o.Failures = append(o.Failures, failure)
	})
}

// RecordExternal records an off-platform link that is reported, not fetched
func (l *Ledger) RecordExternal(id ContentID, url string) bool {
	return l.update(id, func(o *Outcome) {
		o.ExternalURLs = append(o.ExternalURLs, url)
	})
}

// Skip marks a title as unavailable. It overrides any file results.
func (l *Ledger) Skip(id ContentID, reason string) bool {
	return l.update(id, func(o *Outcome) {
		o.Kind = OutcomeSkipped
		o.Reason = reason
	})
}

// Fail marks a title as failed as a whole, for example when its metadata
// could not be fetched.
func (l *Ledger) Fail(id ContentID, reason string) bool {
	return l.update(id, func(o *Outcome) {
		o.Kind = OutcomeFailed
		o.Reason = reason
	})
}

// Finalize derives the outcome kind from the recorded files. Titles already
// marked skipped or failed keep their kind.
func (l *Ledger) Finalize(id ContentID) bool {
	return l.update(id, finalize)
}

// FinalizeAll finalizes every title still pending
func (l *Ledger) FinalizeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, o := range l.entries {
		finalize(o)
	}
}

func finalize(o *Outcome) {
	if o.Kind != OutcomePending {
		return
	}

	switch {
	case len(o.Failures) == 0 && len(o.Paths) == 0 && len(o.ExternalURLs) > 0:
		o.Kind = OutcomeExternalOnly
	case len(o.Failures) == 0:
		o.Kind = OutcomeSuccess
	case len(o.Paths) > 0:
		o.Kind = OutcomePartialFailure
	default:
		o.Kind = OutcomeFailed
	}
}

// Keys returns the identifiers in resolution order
func (l *Ledger) Keys() []ContentID {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]ContentID, len(l.order))
	copy(keys, l.order)
	return keys
}

// Get returns a copy of one outcome
func (l *Ledger) Get(id ContentID) (Outcome, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.entries[id]
	if !ok {
		return Outcome{}, false
	}
	return copyOutcome(o), true
}

// Snapshot returns copies of all outcomes in resolution order
func (l *Ledger) Snapshot() []Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Outcome, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, copyOutcome(l.entries[id]))
	}
	return out
}

func copyOutcome(o *Outcome) Outcome {
	c := *o
	c.Paths = append([]string(nil), o.Paths...)
	c.Failures = append([]FileFailure(nil), o.Failures...)
	c.ExternalURLs = append([]string(nil), o.ExternalURLs...)
	return c
}
