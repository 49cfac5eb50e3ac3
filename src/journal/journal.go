// Package journal is the durable append-only trade log: one JSON record per
// executed trade, rewritten to keep only the most recent records once the
// file outgrows the retention limit.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logger "github.com/sirupsen/logrus"

	"tradeterm/src/model"
)

// compactSlack is the headroom past the retention limit before the log is
// rewritten, so that a full log does not rewrite itself on every append.
const compactSlack = 256

// Log is an append-only JSONL trade log. It satisfies the position engine's
// TradeSink.
type Log struct {
	mu    sync.Mutex
	path  string
	max   int
	file  *os.File
	count int
}

// Open opens or creates the log at path, counting existing records so
// retention carries across restarts.
func Open(path string, maxRecords int) (*Log, error) {
	if maxRecords <= 0 {
		return nil, fmt.Errorf("journal: max records must be positive, got %d", maxRecords)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	count := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		file.Close()
		return nil, fmt.Errorf("journal: scan %s: %w", path, err)
	}

	logger.WithFields(logger.Fields{
		"path":    path,
		"records": count,
	}).Info("trade journal opened")

	return &Log{path: path, max: maxRecords, file: file, count: count}, nil
}

// Append writes one trade record and compacts the file when it has outgrown
// the retention limit.
func (l *Log) Append(trade model.ExecutedTrade) error {
	raw, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("journal: marshal trade: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	l.count++

	if l.count > l.max+compactSlack {
		if err := l.compactLocked(); err != nil {
			return err
		}
	}
	return nil
}

// compactLocked rewrites the log keeping the most recent max records.
// Caller must hold l.mu.
func (l *Log) compactLocked() error {
	lines, err := l.readLinesLocked()
	if err != nil {
		return err
	}
	if len(lines) > l.max {
		lines = lines[len(lines)-l.max:]
	}

	tmp := l.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open tmp: %w", err)
	}
	w := bufio.NewWriter(out)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("journal: flush tmp: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("journal: close tmp: %w", err)
	}

	l.file.Close()
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("journal: replace log: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: reopen: %w", err)
	}
	l.file = file
	dropped := l.count - len(lines)
	l.count = len(lines)

	logger.WithFields(logger.Fields{
		"path":    l.path,
		"kept":    len(lines),
		"dropped": dropped,
	}).Info("trade journal compacted")
	return nil
}

func (l *Log) readLinesLocked() ([]string, error) {
	in, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("journal: read back: %w", err)
	}
	defer in.Close()

	var lines []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan: %w", err)
	}
	return lines, nil
}

// Recent returns up to n most recent records, oldest first.
func (l *Log) Recent(n int) ([]model.ExecutedTrade, error) {
	l.mu.Lock()
	lines, err := l.readLinesLocked()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	trades := make([]model.ExecutedTrade, 0, len(lines))
	for _, line := range lines {
		var trade model.ExecutedTrade
		if err := json.Unmarshal([]byte(line), &trade); err != nil {
			logger.WithError(err).Warn("skipping malformed journal record")
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// Count returns the number of records currently in the log.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
