package canbus

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// LogReader replays a candump log (candump -L format):
//
//	(1700000000.123456) can0 3F5#0001000000000000
//	(1700000000.223456) can0 3B3#R
//
// In realtime mode frames are paced by their recorded timestamps; otherwise
// they are returned as fast as they are read. The reader returns io.EOF after
// the last frame.
type LogReader struct {
	scanner  *bufio.Scanner
	closer   io.Closer
	realtime bool
	line     int

	started bool
	base    time.Duration
	start   time.Time

	pending *logEntry
	closed  atomic.Bool
}

type logEntry struct {
	at    time.Duration
	frame Frame
}

// NewLogReader reads candump lines from r.
func NewLogReader(r io.Reader, realtime bool) *LogReader {
	lr := &LogReader{
		scanner:  bufio.NewScanner(r),
		realtime: realtime,
	}
	if c, ok := r.(io.Closer); ok {
		lr.closer = c
	}
	return lr
}

// OpenLogFile opens a candump log file for replay.
func OpenLogFile(path string, realtime bool) (*LogReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candump log: %w", err)
	}
	return NewLogReader(f, realtime), nil
}

// Receive returns the next logged frame. A malformed line yields an error
// and is skipped; the following call continues with the next line.
func (l *LogReader) Receive(ctx context.Context, timeout time.Duration) (Frame, error) {
	if l.closed.Load() {
		return Frame{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	if l.pending == nil {
		e, err := l.next()
		if err != nil {
			return Frame{}, err
		}
		l.pending = e
	}

	if l.realtime {
		if !l.started {
			l.started = true
			l.base = l.pending.at
			l.start = time.Now()
		}
		wait := time.Until(l.start.Add(l.pending.at - l.base))
		if wait > timeout {
			if err := sleepCtx(ctx, timeout); err != nil {
				return Frame{}, err
			}
			return Frame{}, ErrTimeout
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return Frame{}, err
		}
	}

	f := l.pending.frame
	l.pending = nil
	return f, nil
}

// Close stops the replay and closes the underlying reader if it is closable.
// It may be called while another goroutine is in Receive.
func (l *LogReader) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func (l *LogReader) next() (*logEntry, error) {
	for l.scanner.Scan() {
		l.line++
		text := strings.TrimSpace(l.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		e, err := parseLogLine(text)
		if err != nil {
			return nil, fmt.Errorf("candump line %d: %w", l.line, err)
		}
		return e, nil
	}
	if err := l.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read candump log: %w", err)
	}
	return nil, io.EOF
}

func parseLogLine(line string) (*logEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, fmt.Errorf("expected \"(timestamp) iface frame\", got %q", line)
	}

	at, err := parseTimestamp(fields[0])
	if err != nil {
		return nil, err
	}
	f, err := ParseFrame(fields[2])
	if err != nil {
		return nil, err
	}
	return &logEntry{at: at, frame: f}, nil
}

func parseTimestamp(s string) (time.Duration, error) {
	if len(s) < 3 || s[0] != '(' || s[len(s)-1] != ')' {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	secStr, fracStr, _ := strings.Cut(s[1:len(s)-1], ".")

	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	d := time.Duration(sec) * time.Second

	if fracStr != "" {
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		}
		frac, err := strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		for i := len(fracStr); i < 9; i++ {
			frac *= 10
		}
		d += time.Duration(frac)
	}
	return d, nil
}

// ParseFrame parses candump compact notation: ID#DATA for data frames and
// ID#R for remote requests. IDs longer than three hex digits are extended.
// CAN FD frames (ID##...) are rejected.
func ParseFrame(s string) (Frame, error) {
	idStr, dataStr, ok := strings.Cut(s, "#")
	if !ok {
		return Frame{}, fmt.Errorf("invalid frame %q: missing '#'", s)
	}
	if strings.HasPrefix(dataStr, "#") {
		return Frame{}, fmt.Errorf("invalid frame %q: CAN FD is not supported", s)
	}

	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil || idStr == "" {
		return Frame{}, fmt.Errorf("invalid frame id %q", idStr)
	}

	var f Frame
	f.ID = uint32(id)
	f.Extended = len(idStr) > 3
	if !f.Extended && f.ID > 0x7FF {
		return Frame{}, fmt.Errorf("invalid standard frame id %q", idStr)
	}

	if strings.HasPrefix(dataStr, "R") || strings.HasPrefix(dataStr, "r") {
		f.Remote = true
		if n := dataStr[1:]; n != "" {
			dlc, err := strconv.ParseUint(n, 10, 8)
			if err != nil || dlc > 8 {
				return Frame{}, fmt.Errorf("invalid remote length %q", n)
			}
			f.Length = uint8(dlc)
		}
		return f, nil
	}

	dataStr = strings.ReplaceAll(dataStr, ".", "")
	data, err := hex.DecodeString(dataStr)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid frame data %q: %w", dataStr, err)
	}
	if len(data) > len(f.Data) {
		return Frame{}, fmt.Errorf("invalid frame data %q: %d bytes", dataStr, len(data))
	}
	copy(f.Data[:], data)
	f.Length = uint8(len(data))
	return f, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
