package shardwire

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrClosed is returned by Session reads once the peer has cleanly closed
// the stream (a websocket close frame, or EOF).
var ErrClosed = errors.New("shardwire: session closed")

const (
	writeWait = 10 * time.Second
	readWait  = 60 * time.Second
)

// Session is one Lock bidirectional stream. It frames JSON envelopes over
// a websocket connection opened via ws.UpgradeHTTP (server side) or
// ws.Dial (client side) — the specification treats the wire codec as
// non-normative, only message shapes and FIFO ordering are. A Session
// may be read from one goroutine and written from another, but reads
// must not overlap reads, and writes must not overlap writes (the Lock
// protocol itself only ever has one reader and one writer active at a
// time per direction).
type Session struct {
	conn     net.Conn
	isServer bool // true on the accept side, false on the dial side

	writeMu sync.Mutex
	closed  bool
	mu      sync.Mutex
}

// NewServerSession wraps a connection accepted via ws.UpgradeHTTP.
func NewServerSession(conn net.Conn) *Session {
	return &Session{conn: conn, isServer: true}
}

// NewClientSession wraps a connection opened via ws.Dial.
func NewClientSession(conn net.Conn) *Session {
	return &Session{conn: conn, isServer: false}
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *Session) writeEnvelope(e envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if s.isServer {
		return wsutil.WriteServerMessage(s.conn, ws.OpText, payload)
	}
	return wsutil.WriteClientMessage(s.conn, ws.OpText, payload)
}

func (s *Session) readEnvelope() (envelope, error) {
	s.conn.SetReadDeadline(time.Now().Add(readWait))

	var (
		data []byte
		op   ws.OpCode
		err  error
	)
	if s.isServer {
		data, op, err = wsutil.ReadClientData(s.conn)
	} else {
		data, op, err = wsutil.ReadServerData(s.conn)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return envelope{}, ErrClosed
		}
		return envelope{}, err
	}
	if op == ws.OpClose {
		return envelope{}, ErrClosed
	}

	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return envelope{}, err
	}
	return e, nil
}

// WriteRequest sends a client→server message (Acquire or Released).
func (s *Session) WriteRequest(req LockRequest) error {
	e, err := req.toEnvelope()
	if err != nil {
		return err
	}
	return s.writeEnvelope(e)
}

// ReadRequest reads the next client→server message.
func (s *Session) ReadRequest() (LockRequest, error) {
	e, err := s.readEnvelope()
	if err != nil {
		return LockRequest{}, err
	}
	if e.Type == frameError {
		return LockRequest{}, statusFromEnvelope(e)
	}
	return requestFromEnvelope(e)
}

// WriteResponse sends a server→client message (Acquired or Release).
func (s *Session) WriteResponse(resp LockResponse) error {
	e, err := resp.toEnvelope()
	if err != nil {
		return err
	}
	return s.writeEnvelope(e)
}

// ReadResponse reads the next server→client message. If the server sent
// a status frame instead, ReadResponse returns the *StatusError.
func (s *Session) ReadResponse() (LockResponse, error) {
	e, err := s.readEnvelope()
	if err != nil {
		return LockResponse{}, err
	}
	if e.Type == frameError {
		return LockResponse{}, statusFromEnvelope(e)
	}
	return responseFromEnvelope(e)
}

// WriteStatus sends a terminal status frame. Callers are expected to
// Close the session immediately after (the protocol has no recovery from
// a status frame).
func (s *Session) WriteStatus(code Code, message string) error {
	return s.writeEnvelope(envelope{Type: frameError, Code: code, Message: message})
}

func statusFromEnvelope(e envelope) error {
	return &StatusError{Code: e.Code, Message: e.Message}
}
