package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/ephemgo/internal/metrics"
)

// SSE event names. Browsers dispatch these to addEventListener(name, ...).
const (
	eventMetadata = "metadata"
	eventSnapshot = "snapshot"
)

const writeTimeout = 30 * time.Second

// eventWriter frames position stream events onto one SSE response.
type eventWriter struct {
	w       io.Writer
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger
	buf     bytes.Buffer

	events int64
	bytes  int64
}

// retry sets the delay a client waits before reconnecting.
func (ew *eventWriter) retry(d time.Duration) error {
	ew.buf.Reset()
	fmt.Fprintf(&ew.buf, "retry: %d\n\n", d.Milliseconds())
	return ew.flush(false)
}

// metadata opens the stream with a description of the loaded element table.
func (ew *eventWriter) metadata(m metadataMessage) error {
	return ew.send(eventMetadata, "", m)
}

// snapshot sends one set of positions. The id is the snapshot instant, which
// the client echoes back as Last-Event-ID when it reconnects.
func (ew *eventWriter) snapshot(m snapshotMessage) error {
	return ew.send(eventSnapshot, m.T, m)
}

// keepalive sends an SSE comment.
func (ew *eventWriter) keepalive() error {
	ew.buf.Reset()
	ew.buf.WriteString(":\n\n")
	return ew.flush(false)
}

func (ew *eventWriter) send(event, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	ew.buf.Reset()
	fmt.Fprintf(&ew.buf, "event: %s\n", event)
	if id != "" {
		fmt.Fprintf(&ew.buf, "id: %s\n", id)
	}
	ew.buf.WriteString("data: ")
	ew.buf.Write(data)
	ew.buf.WriteString("\n\n")
	return ew.flush(true)
}

// flush writes the framed buffer under a fresh write deadline.
func (ew *eventWriter) flush(event bool) error {
	if err := ew.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		ew.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := ew.buf.WriteTo(ew.w)
	if err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	ew.flusher.Flush()

	ew.bytes += n
	metrics.AddStreamBytes(n)
	if event {
		ew.events++
		metrics.IncStreamMessages()
	}
	return nil
}
