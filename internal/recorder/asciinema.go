// Package recorder writes terminal sessions as asciicast v2 recordings.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types of the asciicast v2 format.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventResize = "r"
)

// Header is the first line of an asciicast v2 recording.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one line after the header, encoded as [offset, type, data].
type Event struct {
	Offset float64
	Type   string
	Data   string
}

// MarshalJSON encodes the event as a three element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Offset, e.Type, e.Data})
}

// UnmarshalJSON decodes a three element array.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event: expected 3 elements, got %d", len(arr))
	}

	offset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid event offset")
	}
	typ, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	payload, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data")
	}

	e.Offset, e.Type, e.Data = offset, typ, payload
	return nil
}

// Recorder appends asciicast events for one session instance. A nil
// *Recorder is valid and records nothing, so callers need not check whether
// recording is enabled.
type Recorder struct {
	mu     sync.Mutex
	w      io.Writer
	file   *os.File
	start  time.Time
	closed bool
}

// Create opens dir/<sessionID>-<instanceID>.cast and writes the header.
func Create(dir, sessionID, instanceID string, cols, rows int) (*Recorder, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.cast", sessionID, instanceID))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	r := &Recorder{w: f, file: f, start: time.Now()}
	if err := r.writeHeader(cols, rows, sessionID); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// New records to w. The caller keeps ownership of w.
func New(w io.Writer, cols, rows int, title string) (*Recorder, error) {
	r := &Recorder{w: w, start: time.Now()}
	if err := r.writeHeader(cols, rows, title); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) writeHeader(cols, rows int, title string) error {
	data, err := json.Marshal(Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.start.Unix(),
		Title:     title,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// Output records terminal output.
func (r *Recorder) Output(data string) error {
	return r.event(EventOutput, data)
}

// Input records bytes written to the terminal.
func (r *Recorder) Input(data string) error {
	return r.event(EventInput, data)
}

// Resize records a window size change as "COLSxROWS".
func (r *Recorder) Resize(cols, rows int) error {
	return r.event(EventResize, fmt.Sprintf("%dx%d", cols, rows))
}

func (r *Recorder) event(typ, data string) error {
	if r == nil || data == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	line, err := json.Marshal(Event{
		Offset: time.Since(r.start).Seconds(),
		Type:   typ,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the recording file if the Recorder owns one. It is idempotent.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
