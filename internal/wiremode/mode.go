// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wiremode implements the handshake that precedes every channel:
// a capability preamble followed by a wire-mode preamble (binary or
// base64-framed text), scanned byte-by-byte so that banner text from an
// outer protocol can be teed off to a caller-supplied sink instead of
// aborting the handshake.
package wiremode

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nishisan-dev/goremoting/internal/capability"
)

// Mode selects how command bytes are framed on the wire once the
// handshake completes.
type Mode int

const (
	// ModeNegotiate means "adopt whatever preamble the peer sends first,
	// then echo it back". Exactly one side of a connection may negotiate
	// against a peer with a preset Mode; two ModeNegotiate peers deadlock
	// and must be caught by the embedder.
	ModeNegotiate Mode = iota
	Binary
	Text
)

func (m Mode) String() string {
	switch m {
	case Binary:
		return "binary"
	case Text:
		return "text"
	default:
		return "negotiate"
	}
}

// Preambles. These are this project's own magic markers, not a copy of
// any other protocol's; only their shape (ASCII marker, then a
// length-prefixed capability blob for the first one) matters to the wire
// format described for this core.
var (
	capacityPreamble = []byte("<===[GOREMOTING CAPACITY]===>")
	binaryPreamble   = []byte("<===[GOREMOTING PROTOCOL]===>")
	textPreamble     = []byte("<===[GOREMOTING TEXT]===>")
)

// ALPNProtocol is advertised by both ends of the outer TLS connection
// (see internal/pki) so a listener can reject a non-remoting client at
// the TLS handshake, before spending a read on the preamble scan above.
const ALPNProtocol = "goremoting/1"

// Result carries what both handshake phases produced.
type Result struct {
	RemoteCapability capability.Capability
	Mode             Mode
}

// Negotiate performs the full handshake over rw: it writes the local
// capability preamble and (if local is not ModeNegotiate) the matching mode
// preamble, and meanwhile reads the peer's preambles: first the capability
// preamble, then either mode preamble. headerSink, if non-nil, receives
// every byte read that did not contribute to matching the preamble being
// scanned for at that point — useful when an outer protocol prefixes its
// own banner text before the remoting preambles begin. A mode preamble
// that arrives before the capability preamble is not recognized; its
// bytes go to headerSink.
func Negotiate(rw io.ReadWriter, local capability.Capability, mode Mode, headerSink io.Writer) (*Result, error) {
	// The local preamble is written while the peer's is read, so two
	// peers on an unbuffered transport (net.Pipe) do not block each
	// other's writes.
	writeErr := make(chan error, 1)
	go func() { writeErr <- writePreamble(rw, local, mode) }()

	scanner := newPreambleScanner(rw, headerSink)

	remoteCap, err := scanner.readCapability()
	if err != nil {
		return nil, fmt.Errorf("wiremode: reading remote capability: %w", err)
	}

	remoteMode, err := scanner.readMode()
	if err != nil {
		return nil, fmt.Errorf("wiremode: reading remote mode: %w", err)
	}

	if err := <-writeErr; err != nil {
		return nil, fmt.Errorf("wiremode: writing local preamble: %w", err)
	}

	effectiveMode := mode
	switch mode {
	case ModeNegotiate:
		effectiveMode = remoteMode
		if err := writeModePreamble(rw, effectiveMode); err != nil {
			return nil, fmt.Errorf("wiremode: echoing negotiated mode: %w", err)
		}
	default:
		if remoteMode != mode {
			return nil, fmt.Errorf("%w: local preset %s, peer sent %s", ErrModeMismatch, mode, remoteMode)
		}
	}

	return &Result{RemoteCapability: remoteCap, Mode: effectiveMode}, nil
}

// ErrModeMismatch is returned when both peers have a preset Mode and they
// disagree.
var ErrModeMismatch = fmt.Errorf("wiremode: mode mismatch")

func writePreamble(w io.Writer, c capability.Capability, mode Mode) error {
	if _, err := w.Write(capacityPreamble); err != nil {
		return err
	}
	encoded, err := capability.Encode(c, capability.MaxEncodedLen)
	if err != nil {
		return err
	}
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(encoded)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	if _, err := w.Write(encoded); err != nil {
		return err
	}
	if mode == ModeNegotiate {
		return nil
	}
	return writeModePreamble(w, mode)
}

func writeModePreamble(w io.Writer, mode Mode) error {
	switch mode {
	case Binary:
		_, err := w.Write(binaryPreamble)
		return err
	case Text:
		_, err := w.Write(textPreamble)
		return err
	default:
		return fmt.Errorf("wiremode: cannot write preamble for mode %s", mode)
	}
}

// preambleScanner matches incoming bytes against the three known
// preambles simultaneously, byte by byte, so bytes belonging to none of
// them can be teed to headerSink without losing the handshake's place.
type preambleScanner struct {
	r   *bufio.Reader
	tee io.Writer
}

func newPreambleScanner(r io.Reader, tee io.Writer) *preambleScanner {
	return &preambleScanner{r: bufio.NewReader(r), tee: tee}
}

// readCapability consumes bytes until the capacity preamble matches, tees
// every byte that didn't contribute to the match, then reads the
// length-prefixed capability payload that follows.
func (s *preambleScanner) readCapability() (capability.Capability, error) {
	if err := s.scanFor(capacityPreamble); err != nil {
		return 0, err
	}
	var length [2]byte
	if _, err := io.ReadFull(s.r, length[:]); err != nil {
		return 0, fmt.Errorf("reading capability length: %w", err)
	}
	n := binary.BigEndian.Uint16(length[:])
	if n > capability.MaxEncodedLen {
		return 0, fmt.Errorf("capability length %d exceeds maximum %d", n, capability.MaxEncodedLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return 0, fmt.Errorf("reading capability payload: %w", err)
	}
	return capability.Decode(buf), nil
}

// readMode consumes bytes until either the binary or text mode preamble
// matches, run in lock-step against both candidates.
func (s *preambleScanner) readMode() (Mode, error) {
	return s.scanForEither(binaryPreamble, Binary, textPreamble, Text)
}

// scanFor reads bytes one at a time, tracking how many trailing bytes
// match a prefix of want; bytes that can never be part of a match are
// teed off. Returns once want has matched in full.
func (s *preambleScanner) scanFor(want []byte) error {
	matched := 0
	for matched < len(want) {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if b == want[matched] {
			matched++
			continue
		}
		// Mismatch: flush whatever partial match we'd accumulated (it
		// wasn't part of the real preamble after all) plus this byte, and
		// restart the match from scratch.
		if matched > 0 {
			s.teeByte(want[:matched]...)
			matched = 0
		}
		if b == want[0] {
			matched = 1
			continue
		}
		s.teeByte(b)
	}
	return nil
}

// scanForEither runs two candidate matches concurrently byte-by-byte and
// returns as soon as one completes. Bytes that stop contributing to both
// candidates at once are flushed to the tee sink together, since until
// that point either candidate could still have completed.
func (s *preambleScanner) scanForEither(a []byte, aMode Mode, b []byte, bMode Mode) (Mode, error) {
	matchedA, matchedB := 0, 0
	pending := make([]byte, 0, len(a))
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return 0, err
		}

		nextA := advance(matchedA, a, c)
		nextB := advance(matchedB, b, c)

		if nextA == len(a) {
			return aMode, nil
		}
		if nextB == len(b) {
			return bMode, nil
		}

		if nextA == 0 && nextB == 0 {
			s.teeByte(pending...)
			s.teeByte(c)
			pending = pending[:0]
		} else {
			pending = append(pending, c)
		}
		matchedA, matchedB = nextA, nextB
	}
}

// advance returns the new match length for candidate pattern p after
// observing byte c, given the previous match length matched. It does not
// attempt full KMP restart-with-overlap; these preambles contain no
// internal repeats, so a mismatch always restarts the candidate at 0 or 1.
func advance(matched int, p []byte, c byte) int {
	if matched < len(p) && c == p[matched] {
		return matched + 1
	}
	if c == p[0] {
		return 1
	}
	return 0
}

func (s *preambleScanner) teeByte(bs ...byte) {
	if s.tee != nil {
		s.tee.Write(bs)
	}
}
