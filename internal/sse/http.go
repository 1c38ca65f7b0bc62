package sse

import (
	"fmt"
	"net/http"
)

// HTTPFrameWriter adapts an http.ResponseWriter (which must also implement
// http.Flusher) into a FrameWriter. NewHTTPFrameWriter sets the SSE headers;
// the caller calls WriteHeader before the first WriteFrame.
type HTTPFrameWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewHTTPFrameWriter sets the three required SSE response headers and
// returns a FrameWriter over w, or an error if w is not flushable.
func NewHTTPFrameWriter(w http.ResponseWriter) (*HTTPFrameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	return &HTTPFrameWriter{w: w, f: flusher}, nil
}

func (h *HTTPFrameWriter) WriteFrame(eventType string, data []byte) error {
	if _, err := fmt.Fprintf(h.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}
	h.f.Flush()
	return nil
}
