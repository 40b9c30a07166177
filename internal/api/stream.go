package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/JakeFAU/urlhealth/internal/metrics"
	"github.com/JakeFAU/urlhealth/internal/probe"
)

// Stream formats.
const (
	FormatNDJSON = "ndjson"
	FormatSSE    = "sse"
)

const (
	contentTypeNDJSON = "application/x-ndjson"
	contentTypeSSE    = "text/event-stream"
)

// negotiateFormat picks SSE framing only when the client asks for it.
func negotiateFormat(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == contentTypeSSE {
			return FormatSSE
		}
	}
	return FormatNDJSON
}

// eventStream writes events one frame at a time and flushes after each.
type eventStream struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	format string
	buf    bytes.Buffer
}

func newEventStream(w http.ResponseWriter, format string) *eventStream {
	return &eventStream{w: w, rc: http.NewResponseController(w), format: format}
}

// Start writes the response headers and commits the 200 status.
func (s *eventStream) Start() error {
	h := s.w.Header()
	if s.format == FormatSSE {
		h.Set("Content-Type", contentTypeSSE)
	} else {
		h.Set("Content-Type", contentTypeNDJSON)
	}
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

// Write encodes one event as a single frame.
func (s *eventStream) Write(evt probe.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.buf.Reset()
	if s.format == FormatSSE {
		s.buf.WriteString("data: ")
		s.buf.Write(payload)
		s.buf.WriteString("\n\n")
	} else {
		s.buf.Write(payload)
		s.buf.WriteByte('\n')
	}
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := s.flush(); err != nil {
		return err
	}
	metrics.ObserveStreamEvent(s.format)
	return nil
}

func (s *eventStream) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush stream: %w", err)
	}
	return nil
}
