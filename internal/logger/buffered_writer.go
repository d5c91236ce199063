package logger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	defaultLogBufferSize    = 32 * 1024
	defaultLogFlushInterval = 5 * time.Second
)

var errWriterClosed = errors.New("log writer is closed")

// BufferedFileWriter appends log lines to a file through a buffer that a
// background goroutine flushes on a fixed interval. Safe for concurrent use.
type BufferedFileWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewBufferedFileWriter opens path for appending. A zero size or interval
// selects the 32 KiB / 5 s defaults.
func NewBufferedFileWriter(path string, size int, interval time.Duration) (*BufferedFileWriter, error) {
	if size <= 0 {
		size = defaultLogBufferSize
	}
	if interval <= 0 {
		interval = defaultLogFlushInterval
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w := &BufferedFileWriter{
		file: f,
		buf:  bufio.NewWriterSize(f, size),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.flushEvery(interval)
	return w, nil
}

func (w *BufferedFileWriter) flushEvery(interval time.Duration) {
	defer close(w.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			// a failed flush resurfaces on the next Write
			_ = w.Flush()
		}
	}
}

func (w *BufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return 0, errWriterClosed
	}
	return w.buf.Write(p)
}

// Flush hands buffered lines to the OS without fsync.
func (w *BufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return nil
	}
	return w.buf.Flush()
}

// Close stops the flush loop, then flushes, syncs and closes the file.
// Later calls return the first call's result.
func (w *BufferedFileWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.stop)
		<-w.done

		w.mu.Lock()
		defer w.mu.Unlock()

		w.closeErr = errors.Join(w.buf.Flush(), w.file.Sync(), w.file.Close())
		w.buf = nil
	})
	return w.closeErr
}
