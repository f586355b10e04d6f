// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	// MaxMessageLen caps the size of a framed envelope.
	MaxMessageLen = 1 << 20

	framePrefixLen = 4
)

var (
	// ErrMessageTooLarge is returned for frames exceeding MaxMessageLen.
	ErrMessageTooLarge = errors.New("wire: message exceeds maximum length")

	// ErrConnectionClosed is returned by operations on a closed session.
	ErrConnectionClosed = errors.New("wire: connection is closed")
)

// Session frames envelopes onto an ordered reliable byte stream with a
// 4 byte big endian length prefix.  Send is safe for concurrent use;
// Recv must be driven by a single reader.
type Session struct {
	sendMu sync.Mutex
	conn   net.Conn
}

// NewSession wraps conn.  The session takes ownership of the
// connection.
func NewSession(conn net.Conn) *Session {
	return &Session{conn: conn}
}

// Send frames and writes one envelope.
func (s *Session) Send(e *Envelope) error {
	payload := e.Marshal()
	if len(payload) > MaxMessageLen {
		return ErrMessageTooLarge
	}
	frame := make([]byte, framePrefixLen+len(payload))
	binary.BigEndian.PutUint32(frame[:framePrefixLen], uint32(len(payload)))
	copy(frame[framePrefixLen:], payload)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("wire: send failed: %w", err)
	}
	return nil
}

// Recv reads one envelope, blocking until a full frame arrives, the
// read deadline expires or the connection fails.  A decode failure
// returns ErrDecode with the stream left positioned at the next frame,
// so the caller can report the error and keep the session.  An
// oversized frame is fatal; the stream is left mid frame.
func (s *Session) Recv() (*Envelope, error) {
	var prefix [framePrefixLen]byte
	if _, err := io.ReadFull(s.conn, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxMessageLen {
		// The stream is mid frame; the session cannot recover.
		return nil, ErrMessageTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		return nil, err
	}
	return Unmarshal(payload)
}

// SetReadDeadline bounds the next Recv.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer's address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
