package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	eventFragment = "fragment"
	eventMessage  = "message"
	eventError    = "error"
)

// sseStream writes named events whose data is always one JSON document.
type sseStream struct {
	w       gin.ResponseWriter
	flusher http.Flusher
}

func openSSE(c *gin.Context) (*sseStream, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	flusher.Flush()
	return &sseStream{w: c.Writer, flusher: flusher}, true
}

func (s *sseStream) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse payload failed: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) fragment(text string) error {
	return s.send(eventFragment, gin.H{"text": text})
}

func (s *sseStream) fail(err error) {
	e := classify(err)
	_ = s.send(eventError, gin.H{"code": e.code, "message": e.message})
}

// lazySSE opens the stream on the first fragment so that errors raised before
// any output can still be answered with a plain status code.
type lazySSE struct {
	c      *gin.Context
	stream *sseStream
}

func (l *lazySSE) open() error {
	if l.stream != nil {
		return nil
	}
	stream, ok := openSSE(l.c)
	if !ok {
		return errors.New("stream not supported")
	}
	l.stream = stream
	return nil
}

func (l *lazySSE) fragment(text string) error {
	if err := l.open(); err != nil {
		return err
	}
	return l.stream.fragment(text)
}
