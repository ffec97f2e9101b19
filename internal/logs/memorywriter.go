package logs

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryWriter keeps the detailed log in memory. The first startCount
// lines are kept forever, the rest rotate through a window of
// maxLineCount lines.

// to prevent possible memory issues, hardcode max line length
const maxLineLength = 500

var ErrInvalidSize = errors.New("size cannot be <1")

type MemoryWriter struct {
	maxLineCount int
	startCount   int
	lines        [][]byte // lines include newlines
	startLines   [][]byte
	startTime    time.Time
	outWriter    io.Writer
	printTime    bool
	mutex        sync.Mutex
}

func NewMemoryWriter(size int, startSize int, printTime bool, out io.Writer) (*MemoryWriter, error) {
	if size < 1 || startSize < 1 {
		return nil, ErrInvalidSize
	}
	return &MemoryWriter{
		maxLineCount: size,
		lines:        make([][]byte, 0, size),
		startCount:   startSize,
		startLines:   make([][]byte, 0, startSize),
		startTime:    time.Now(),
		printTime:    printTime,
		outWriter:    out,
	}, nil
}

// SetOutput mirrors every further line to out; nil stops mirroring.
func (m *MemoryWriter) SetOutput(out io.Writer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.outWriter = out
}

func (m *MemoryWriter) Write(p []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n := len(p)
	if n > maxLineLength {
		p = p[:maxLineLength]
	}

	var line []byte
	if m.printTime {
		now := time.Now()
		elapsed := fmt.Sprintf("%.6f", now.Sub(m.startTime).Seconds())
		line = []byte(fmt.Sprintf("[%s : %s] %s", elapsed, now.Format("15:04:05"), p))
	} else {
		line = append([]byte{}, p...)
	}

	if len(m.startLines) < m.startCount {
		m.startLines = append(m.startLines, line)
	} else {
		if len(m.lines) >= m.maxLineCount {
			m.lines = m.lines[len(m.lines)-m.maxLineCount+1:]
		}
		m.lines = append(m.lines, line)
	}
	if m.outWriter != nil {
		if _, err := m.outWriter.Write(line); err != nil {
			fmt.Println(err)
		}
	}
	return n, nil
}

// writeTo exports the header, the rotating lines newest first, a "..."
// separator and then the start lines.
func (m *MemoryWriter) writeTo(header string, w io.Writer) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	for i := len(m.lines) - 1; i >= 0; i-- {
		if _, err := w.Write(m.lines[i]); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "...\n"); err != nil {
		return err
	}
	for i := len(m.startLines) - 1; i >= 0; i-- {
		if _, err := w.Write(m.startLines[i]); err != nil {
			return err
		}
	}
	return nil
}

// Tail returns up to n of the most recent lines, oldest first.
func (m *MemoryWriter) Tail(n int) []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	all := append(append([][]byte{}, m.startLines...), m.lines...)
	if n < len(all) {
		all = all[len(all)-n:]
	}
	out := make([]string, len(all))
	for i, l := range all {
		out[i] = string(l)
	}
	return out
}

// String exports as string
func (m *MemoryWriter) String(header string) (string, error) {
	var b bytes.Buffer
	if err := m.writeTo(header, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Gzip exports as GZip bytes
func (m *MemoryWriter) Gzip(header string) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	gw.Name = "log.txt"
	if err = m.writeTo(header, gw); err != nil {
		return nil, err
	}
	if err = gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
