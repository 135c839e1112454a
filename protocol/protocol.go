package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single encoded message. Longer lines are skipped up
// to their terminator.
const MaxFrameSize = 64 * 1024

// Request is any frame a client sends: the auth handshake uses Action,
// Username and Password; commands use Type plus command fields.
type Request struct {
	Action   string `json:"action,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	Type        string `json:"type,omitempty"`
	RoomName    string `json:"room_name,omitempty"`
	Description string `json:"description,omitempty"`
	Search      string `json:"search,omitempty"`
	Content     string `json:"content,omitempty"`
	Target      string `json:"target,omitempty"`
}

// DecodeError reports a frame that was not valid JSON. The stream is still
// usable; the next call to Next resumes at the following line.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed frame (%d bytes): %v", len(e.Line), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Reader splits a byte stream into newline-terminated frames.
type Reader struct {
	br   *bufio.Reader
	line []byte
	max  int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{
		br:  bufio.NewReader(r),
		max: MaxFrameSize,
	}
}

// Next returns the next decoded frame. Blank lines are skipped. It returns
// io.EOF once the peer has closed the stream (an unterminated trailing line
// is dropped), a *DecodeError for a malformed line, and ErrFrameTooLarge
// for an oversized one; after either of the last two Next may be called
// again.
func (r *Reader) Next() (*Request, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, &DecodeError{Line: append([]byte(nil), line...), Err: err}
		}
		return &req, nil
	}
}

func (r *Reader) readLine() ([]byte, error) {
	r.line = r.line[:0]
	overflow := false

	for {
		chunk, err := r.br.ReadSlice('\n')
		if !overflow {
			if len(r.line)+len(chunk) > r.max {
				overflow = true
				r.line = r.line[:0]
			} else {
				r.line = append(r.line, chunk...)
			}
		}

		switch {
		case err == nil:
			if overflow {
				return nil, ErrFrameTooLarge
			}
			return r.line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}

// Encode serializes v as a single frame. encoding/json escapes control
// characters, so the only raw newline is the terminator.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
