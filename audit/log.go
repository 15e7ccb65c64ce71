package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gordonkoehn/BioVault/message"
)

// defaultFlushEvery is the buffered result count that triggers a flush.
const defaultFlushEvery = 64

// Log buffers consensus results and flushes them as Arrow IPC files into a
// directory, one file per flush. It is safe for concurrent use.
type Log struct {
	conv       *Converter
	dir        string
	flushEvery int

	mu      sync.Mutex
	pending []*message.ConsensusResult
	seq     int
}

// NewLog creates an audit log writing into dir, creating it if needed. A
// flushEvery <= 0 selects the default.
func NewLog(dir string, flushEvery int) (*Log, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	if flushEvery <= 0 {
		flushEvery = defaultFlushEvery
	}
	return &Log{
		conv:       NewConverter(),
		dir:        dir,
		flushEvery: flushEvery,
	}, nil
}

// Append buffers one result, flushing when the buffer reaches the flush
// threshold.
func (l *Log) Append(r *message.ConsensusResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, r)
	if len(l.pending) >= l.flushEvery {
		return l.flushLocked()
	}
	return nil
}

// Flush writes all buffered results to a new IPC file.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

// flushLocked writes and clears the buffer. Caller holds l.mu.
func (l *Log) flushLocked() error {
	if len(l.pending) == 0 {
		return nil
	}

	record, err := l.conv.ResultsToRecord(l.pending)
	if err != nil {
		return fmt.Errorf("build audit record: %w", err)
	}
	defer record.Release()

	data, err := SerializeRecord(record)
	if err != nil {
		return fmt.Errorf("serialize audit record: %w", err)
	}

	l.seq++
	name := fmt.Sprintf("consensus_%d_%04d.arrow", time.Now().UnixMilli(), l.seq)
	if err := os.WriteFile(filepath.Join(l.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}

	l.pending = l.pending[:0]
	return nil
}

// Pending returns the number of buffered, unflushed results.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Close flushes any buffered results.
func (l *Log) Close() error {
	return l.Flush()
}
