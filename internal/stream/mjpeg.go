// Package stream serves the rendered detection view as an MJPEG stream.
package stream

import (
	"fmt"
	"log"
	"net/http"
	"sync"
)

// MJPEGStream fans out JPEG frames to HTTP clients. Frames are pushed by
// the display layer; slow clients skip frames instead of blocking it.
type MJPEGStream struct {
	clients   map[chan []byte]bool
	clientsMu sync.RWMutex

	currentFrame []byte
	frameSeq     uint64
	frameMu      sync.RWMutex

	stopped bool
}

// NewMJPEGStream creates an empty stream.
func NewMJPEGStream() *MJPEGStream {
	return &MJPEGStream{clients: make(map[chan []byte]bool)}
}

// Publish stores frame as the current frame and broadcasts it.
func (s *MJPEGStream) Publish(frame []byte) {
	if len(frame) == 0 {
		return
	}

	s.frameMu.Lock()
	s.currentFrame = frame
	s.frameSeq++
	s.frameMu.Unlock()

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip frame
		}
	}
	s.clientsMu.RUnlock()
}

// CurrentFrame returns the latest frame, or nil before the first one.
func (s *MJPEGStream) CurrentFrame() []byte {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.currentFrame
}

// FrameSeq returns the number of frames published.
func (s *MJPEGStream) FrameSeq() uint64 {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frameSeq
}

// ClientCount returns the number of connected viewers.
func (s *MJPEGStream) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Stop disconnects every client.
func (s *MJPEGStream) Stop() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
	s.stopped = true
}

// ServeHTTP streams frames as multipart/x-mixed-replace until the client
// goes away or the stream stops.
func (s *MJPEGStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	clientCh := make(chan []byte, 5)
	s.clientsMu.Lock()
	if s.stopped {
		s.clientsMu.Unlock()
		http.Error(w, "Stream stopped", http.StatusServiceUnavailable)
		return
	}
	s.clients[clientCh] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, clientCh)
		s.clientsMu.Unlock()
	}()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Printf("[MJPEGStream] Client connected from %s", r.RemoteAddr)

	if frame := s.CurrentFrame(); frame != nil {
		writePart(w, frame)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[MJPEGStream] Client disconnected from %s", r.RemoteAddr)
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
			}
			if err := writePart(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}
