// Serialmux provides an abstraction over the serial link to the robot base
// with the ability for multiple clients to subscribe to the line-delimited
// scan, odometry and map messages it streams, and to send commands to it.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/gridloc/internal/monitoring"
	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

var _ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)

// DefaultMaxLineBytes bounds a single message. Map snapshots are the
// largest: a 1200×1200 grid is about 6 MB of JSON.
const DefaultMaxLineBytes = 16 << 20

var logf = monitoring.Component("serialmux")

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to events from a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	maxLine      int
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving line events from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads lines from the serial port and sends them to the
	// appropriate channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// Initialise synchronises the base clock and enables the message streams.
	Initialise() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by a serial port at the
// given path.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:         port,
		maxLine:      DefaultMaxLineBytes,
		subscribers:  make(map[string]chan string),
		subscriberMu: sync.Mutex{},
		commandMu:    sync.Mutex{},
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// subscriberBuffer is the per-subscriber line backlog. Monitor drops lines
// for a subscriber whose backlog is full.
const subscriberBuffer = 256

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Initialise syncs the base clock so message stamps share our time base and
// turns on the streams the localiser consumes.
func (s *SerialMux[T]) Initialise() error {
	command := fmt.Sprintf("CLOCK %d", time.Now().UnixNano())
	if err := s.SendCommand(command); err != nil {
		return fmt.Errorf("failed to synchronise clock: %w", err)
	}

	for _, command := range []string{
		"FORMAT json",
		"STREAM odom on",
		"STREAM scan on",
		"STREAM map on",
	} {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}

	return nil
}

// SendCommand sends a command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n" // ensure command ends with a newline
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor monitors the serial port for events and sends them to subscribers.
// Lines longer than the mux's line limit are logged and skipped.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lineChan := make(chan string)
	readErrChan := make(chan error, 1)

	// the blocking reads run in their own goroutine so they do not interfere
	// with the outer loop awaiting lines & context cancellation. EOF ends the
	// goroutine with a nil error.
	go func() {
		readErrChan <- readLines(ctx, s.port, s.maxLine, lineChan)
		close(lineChan)
	}()

	for {
		select {
		// check if the context is done
		// and exit the loop if so
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			return err

		case line, ok := <-lineChan:
			// if the channel is closed, we're done reading from the serial port
			if !ok {
				return <-readErrChan
			}
			// Check if we're closing
			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			// otherwise take a read lock on the subscriber map
			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// if the channel is full/blocking skip so as not to block the outer loop
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

// readLines sends each newline-terminated line read from r to out, with any
// trailing carriage return removed. A line over maxLine bytes is discarded
// up to its newline and reading carries on with the next one.
func readLines(ctx context.Context, r io.Reader, maxLine int, out chan<- string) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		buf       []byte
		oversized bool
		skipped   int
	)
	emit := func(line []byte) bool {
		line = bytes.TrimSuffix(line, []byte("\r"))
		select {
		case out <- string(line):
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		chunk, err := br.ReadSlice('\n')
		if oversized {
			skipped += len(chunk)
		} else if len(buf)+len(chunk) > maxLine+1 {
			oversized = true
			skipped = len(buf) + len(chunk)
			buf = buf[:0]
		} else {
			buf = append(buf, chunk...)
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil:
			if oversized {
				logf("dropped %d byte line over the %d byte limit", skipped, maxLine)
				oversized = false
				buf = buf[:0]
				continue
			}
			if !emit(bytes.TrimSuffix(buf, []byte("\n"))) {
				return nil
			}
			buf = buf[:0]
		case errors.Is(err, io.EOF):
			if oversized {
				logf("dropped %d byte line over the %d byte limit", skipped, maxLine)
			} else if len(buf) > 0 {
				emit(buf)
			}
			return nil
		default:
			return err
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

// attachAdminRoutes registers the command and live-tail endpoints for any mux.
func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	// API endpoint to write command to the serial port
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})
	// API endpoint to issue Server-Side Events (SSE) in response to lines coming from the serial port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		// Optional ?type=scan|odom|map filter.
		want := r.URL.Query().Get("type")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				if want != "" && ClassifyPayload(payload) != want {
					continue
				}
				_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload)))
				if err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
