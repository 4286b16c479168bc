package status

import (
	"bytes"
	"errors"
	"io"
)

const (
	linePrefix = "[GNUPG:] "

	// minSlack is the free space required past the read cursor before a read.
	minSlack = 256
	// growBy is the increment applied when the slack runs out.
	growBy = 1024
	// initialSize is the capacity of a new line buffer.
	initialSize = 1024
)

// Handler receives every recognized status event, and the EOF pseudo-event
// once the stream ends. A returned error aborts the read that produced it.
type Handler func(code Code, args string) error

// Reader is the single-read primitive the parser consumes.
// A zero-byte read at end of stream must be reported as io.EOF.
type Reader interface {
	Read(p []byte) (int, error)
}

// Parser turns a byte stream into status events.
//
// Bytes before readPos are an unterminated line carried over from earlier
// reads; complete lines are shifted out as soon as they are dispatched. After
// a handler error the first unscanned bytes may still hold complete lines.
type Parser struct {
	buf       []byte
	readPos   int
	unscanned int
	eof       bool
	handler   Handler
}

// NewParser creates a parser that reports events to h.
func NewParser(h Handler) *Parser {
	return &Parser{
		buf:     make([]byte, initialSize),
		handler: h,
	}
}

// SetHandler replaces the event handler.
func (p *Parser) SetHandler(h Handler) {
	p.handler = h
}

// EOF reports whether the end of the stream has been seen.
func (p *Parser) EOF() bool {
	return p.eof
}

// Cap returns the current capacity of the line buffer.
func (p *Parser) Cap() int {
	return len(p.buf)
}

// Buffered returns the number of bytes of an incomplete line held.
func (p *Parser) Buffered() int {
	return p.readPos
}

// ReadFrom performs exactly one read from r and dispatches every line it
// completes. Errors from r other than io.EOF are returned unchanged.
func (p *Parser) ReadFrom(r Reader) error {
	if p.eof {
		return nil
	}

	// Lines left behind by a handler error go out before the next read.
	if p.unscanned > 0 {
		n := p.unscanned
		p.unscanned, p.readPos = 0, 0
		if err := p.scan(n); err != nil {
			return err
		}
	}

	if len(p.buf)-p.readPos < minSlack {
		grown := make([]byte, len(p.buf)+growBy)
		copy(grown, p.buf[:p.readPos])
		p.buf = grown
	}

	n, err := r.Read(p.buf[p.readPos:])
	if n > 0 {
		if scanErr := p.scan(n); scanErr != nil {
			return scanErr
		}
	}

	switch {
	case errors.Is(err, io.EOF):
		// An unterminated trailing line is dropped.
		p.eof = true
		p.readPos = 0
		if p.handler != nil {
			return p.handler(EOF, "")
		}
		return nil
	case err != nil:
		return err
	}
	return nil
}

// scan dispatches the complete lines in the n freshly read bytes and moves
// the remainder to the start of the buffer.
func (p *Parser) scan(n int) error {
	end := p.readPos + n
	start := 0
	var err error
	for i := p.readPos; i < end && err == nil; i++ {
		if p.buf[i] != '\n' {
			continue
		}
		err = p.dispatch(p.buf[start:i])
		start = i + 1
	}
	copy(p.buf, p.buf[start:end])
	p.readPos = end - start
	if err != nil {
		p.unscanned = p.readPos
	}
	return err
}

func (p *Parser) dispatch(line []byte) error {
	if p.handler == nil || len(line) <= len(linePrefix) || !bytes.HasPrefix(line, []byte(linePrefix)) {
		return nil
	}
	rest := line[len(linePrefix):]
	if rest[0] < 'A' || rest[0] > 'Z' {
		return nil
	}

	keyword, args := rest, []byte(nil)
	if i := bytes.IndexByte(rest, ' '); i >= 0 {
		keyword, args = rest[:i], rest[i+1:]
	}

	code, ok := Lookup(string(keyword))
	if !ok {
		return nil
	}
	return p.handler(code, string(args))
}
