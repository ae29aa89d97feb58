// Package bridge moves bytes between HTTP requests and session terminals.
//
// There is no background reader: output is drained from the PTY primary only
// when a client polls, and every drain stops as soon as the descriptor has
// nothing more to give.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/httpterm/internal/metrics"
	"github.com/remote-agent-terminal/httpterm/internal/model"
	"github.com/remote-agent-terminal/httpterm/internal/pty"
	"github.com/remote-agent-terminal/httpterm/internal/session"
)

// DefaultMaxDrainBytes bounds the output returned by a single poll.
const DefaultMaxDrainBytes = 1 << 20

// Port is the readable and writable side of a terminal.
type Port interface {
	Readable() (bool, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Sessions gives the bridge serialized access to registered sessions.
type Sessions interface {
	Use(id string, fn func(s *session.Session) error) error
	Release(ctx context.Context, s *session.Session)
}

// Output is the result of one poll.
type Output struct {
	Text   string `json:"output"`
	Closed bool   `json:"closed"`
}

// Options configures a Bridge.
type Options struct {
	ReadChunk     int
	MaxDrainBytes int
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Bridge polls and writes session terminals.
type Bridge struct {
	sessions Sessions
	opts     Options
	log      *zap.Logger
}

// New creates a Bridge over sessions.
func New(sessions Sessions, opts Options) *Bridge {
	if opts.ReadChunk <= 0 {
		opts.ReadChunk = pty.DefaultReadChunk
	}
	if opts.MaxDrainBytes <= 0 {
		opts.MaxDrainBytes = DefaultMaxDrainBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bridge{sessions: sessions, opts: opts, log: opts.Logger}
}

// Poll drains pending output of session id. When the backing process has
// exited it drains once more, retires the session and reports Closed; the
// session is released before Poll returns, so Closed is reported once. A
// poll that returns a full MaxDrainBytes never reports Closed, so exit output
// larger than one poll is spread over several.
func (b *Bridge) Poll(ctx context.Context, id string) (Output, error) {
	var (
		out     Output
		retired *session.Session
	)

	err := b.sessions.Use(id, func(s *session.Session) error {
		term := s.Terminal()

		data, err := Drain(term, b.opts.ReadChunk, b.opts.MaxDrainBytes)
		if err != nil && !term.Exited() {
			return fmt.Errorf("%w: %v", model.ErrIO, err)
		}

		// A drain that filled the budget may have left output behind; the
		// session is retired only once a drain after exit stops short of it.
		if term.Exited() && len(data) < b.opts.MaxDrainBytes {
			// Output written just before exit may land after the first drain.
			rest, _ := Drain(term, b.opts.ReadChunk, b.opts.MaxDrainBytes-len(data))
			data = append(data, rest...)
			if len(data) < b.opts.MaxDrainBytes {
				s.Retire()
				retired = s
				out.Closed = true
			}
		}

		out.Text = Decode(data)
		if out.Text != "" {
			s.Scrollback().WriteString(out.Text)
			if err := s.Recorder().Output(out.Text); err != nil {
				b.log.Warn("Failed to record output", zap.String("session_id", id), zap.Error(err))
			}
		}
		return nil
	})

	if retired != nil {
		b.sessions.Release(ctx, retired)
	}
	if err != nil {
		return Output{}, err
	}

	b.opts.Metrics.Polled(len(out.Text))
	return out, nil
}

// Write normalizes text and writes it to session id.
func (b *Bridge) Write(id, text string) error {
	var n int
	err := b.sessions.Use(id, func(s *session.Session) error {
		var err error
		n, err = Write(s.Terminal(), text)
		if err != nil {
			return err
		}
		if err := s.Recorder().Input(text); err != nil {
			b.log.Warn("Failed to record input", zap.String("session_id", id), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.opts.Metrics.Wrote(n)
	return nil
}

// Scrollback returns the recent output retained for session id.
func (b *Bridge) Scrollback(id string) (string, error) {
	var text string
	err := b.sessions.Use(id, func(s *session.Session) error {
		text = s.Scrollback().String()
		return nil
	})
	return text, err
}

// Drain reads everything currently pending on port without blocking, in
// reads of at most chunk bytes, until the port is not ready, reports end of
// file, or limit bytes have been collected. Bytes read before an error are
// returned with it.
func Drain(port Port, chunk, limit int) ([]byte, error) {
	if chunk <= 0 {
		chunk = pty.DefaultReadChunk
	}

	var out []byte
	buf := make([]byte, chunk)
	for len(out) < limit {
		ready, err := port.Readable()
		if err != nil {
			return out, err
		}
		if !ready {
			break
		}

		want := chunk
		if rem := limit - len(out); rem < want {
			want = rem
		}
		n, err := port.Read(buf[:want])
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

// Decode converts drained bytes to text, dropping invalid UTF-8.
func Decode(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}

// Normalize turns every carriage return not followed by a line feed into a
// line feed. CRLF pairs are kept.
func Normalize(text string) string {
	if !strings.Contains(text, "\r") {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\r' && (i+1 == len(text) || text[i+1] != '\n') {
			c = '\n'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// Write normalizes text and writes all of it to port. Empty text writes
// nothing. It returns the number of bytes written.
func Write(port Port, text string) (int, error) {
	data := Normalize(text)
	if data == "" {
		return 0, nil
	}

	written := 0
	for written < len(data) {
		n, err := port.Write([]byte(data[written:]))
		written += n
		if err != nil {
			return written, fmt.Errorf("%w: %v", model.ErrIO, err)
		}
		if n == 0 {
			return written, fmt.Errorf("%w: %v", model.ErrIO, io.ErrShortWrite)
		}
	}
	return written, nil
}
