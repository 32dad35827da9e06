// internal/viewer/logbuf.go
package viewer

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/util"
)

type LogEntry struct {
	TS     time.Time `json:"ts"`
	Level  string    `json:"level,omitempty"`
	Logger string    `json:"logger,omitempty"`
	Msg    string    `json:"msg"`
}

type LogBuffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[LogEntry]

	subs map[chan LogEntry]struct{}

	partial bytes.Buffer
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{
		entries: util.NewRingBuffer[LogEntry](max),
		subs:    make(map[chan LogEntry]struct{}),
	}
}

// Capture copies every go-log line into b until the returned func is called.
func (b *LogBuffer) Capture() (stop func()) {
	pr := logging.NewPipeReader(logging.PipeFormat(logging.PlaintextOutput))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(b, pr)
	}()
	return func() {
		_ = pr.Close()
		<-done
	}
}

// Write implements io.Writer. Input is split into lines; go-log plaintext
// lines are broken into their tab separated fields.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)

	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i == -1 {
			break
		}

		line := string(data[:i])
		b.partial.Next(i + 1)

		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		e := parseLine(line)
		b.entries.Push(e)
		b.broadcastLocked(e)
	}

	return len(p), nil
}

const zapISO8601 = "2006-01-02T15:04:05.000Z0700"

// parseLine understands "ts\tLEVEL\tlogger\tcaller\tmsg". Anything else is
// kept verbatim.
func parseLine(line string) LogEntry {
	e := LogEntry{TS: time.Now(), Msg: line}
	parts := strings.SplitN(line, "\t", 5)
	if len(parts) < 4 {
		return e
	}
	for _, layout := range []string{zapISO8601, time.RFC3339Nano} {
		if ts, err := time.Parse(layout, parts[0]); err == nil {
			e.TS = ts
			break
		}
	}
	e.Level = strings.ToLower(parts[1])
	e.Logger = parts[2]
	e.Msg = parts[len(parts)-1]
	return e
}

func (b *LogBuffer) broadcastLocked(e LogEntry) {
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop on slow subscriber
		}
	}
}

func (b *LogBuffer) Snapshot() []LogEntry {
	return b.entries.Snapshot()
}

func (b *LogBuffer) Subscribe() (ch chan LogEntry, cancel func()) {
	ch = make(chan LogEntry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// GET /api/logs[?n=100]
func (b *LogBuffer) ServeLogsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries := b.Snapshot()
	if n, err := strconv.Atoi(r.URL.Query().Get("n")); err == nil && n > 0 {
		entries = b.entries.Tail(n)
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(entries)
}

// GET /api/logs/stream  (Server-Sent Events) - tail only
func (b *LogBuffer) ServeLogsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := b.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, e)
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, e LogEntry) {
	data, _ := json.Marshal(e)
	_, _ = w.Write([]byte("event: message\n"))
	_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
}
