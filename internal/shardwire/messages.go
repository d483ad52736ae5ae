// Package shardwire defines the Lock wire protocol: the tagged-union
// request/response message shapes, status codes, and the per-session
// frame codec that carries them.
package shardwire

import "fmt"

// ShardData is the authoritative lock state of one shard: a mapping from
// key to held/not-held. The key set is fixed at server init and equals
// the set of keys whose shard_id is this shard's id.
type ShardData struct {
	Locks map[string]bool `json:"locks"`
}

// Clone returns a deep copy, since ShardData moves between the registry,
// the wire, and client cache entries and must never be aliased across
// those locations (the single-copy invariant).
func (d ShardData) Clone() ShardData {
	locks := make(map[string]bool, len(d.Locks))
	for k, v := range d.Locks {
		locks[k] = v
	}
	return ShardData{Locks: locks}
}

// SameKeys reports whether d and other cover exactly the same key set,
// regardless of held/not-held values.
func (d ShardData) SameKeys(other ShardData) bool {
	if len(d.Locks) != len(other.Locks) {
		return false
	}
	for k := range d.Locks {
		if _, ok := other.Locks[k]; !ok {
			return false
		}
	}
	return true
}

// frameType discriminates the JSON frames exchanged on a Session.
type frameType string

const (
	frameAcquire  frameType = "acquire"
	frameAcquired frameType = "acquired"
	frameRelease  frameType = "release"
	frameReleased frameType = "released"
	frameError    frameType = "error"
)

// envelope is the on-the-wire JSON shape. Exactly one of the payload
// fields is populated per frameType; this mirrors the tagged unions
// LockRequest.body / LockResponse.body from the specification without
// requiring a protobuf oneof.
type envelope struct {
	Type     frameType  `json:"type"`
	ShardID  string     `json:"shard_id,omitempty"`
	Data     *ShardData `json:"data,omitempty"`
	Code     Code       `json:"code,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// LockRequest is a client→server message: Acquire or Released.
type LockRequest struct {
	Acquire  *AcquireMsg
	Released *ReleasedMsg
}

// AcquireMsg requests ownership of a shard. Must be the first message of
// a session.
type AcquireMsg struct {
	ShardID string
}

// ReleasedMsg returns a shard's data after the client has been told to
// give it up. Must be the second and final client message.
type ReleasedMsg struct {
	Data ShardData
}

// LockResponse is a server→client message: Acquired or Release.
type LockResponse struct {
	Acquired *AcquiredMsg
	Release  *ReleaseMsg
}

// AcquiredMsg hands ownership of a shard to the client. Exactly one per
// session.
type AcquiredMsg struct {
	Data ShardData
}

// ReleaseMsg asks the client holding a shard to give it up. Zero or one
// per session.
type ReleaseMsg struct {
	ShardID string
}

func (m LockRequest) toEnvelope() (envelope, error) {
	switch {
	case m.Acquire != nil:
		return envelope{Type: frameAcquire, ShardID: m.Acquire.ShardID}, nil
	case m.Released != nil:
		data := m.Released.Data
		return envelope{Type: frameReleased, Data: &data}, nil
	default:
		return envelope{}, fmt.Errorf("shardwire: empty LockRequest")
	}
}

func (m LockResponse) toEnvelope() (envelope, error) {
	switch {
	case m.Acquired != nil:
		data := m.Acquired.Data
		return envelope{Type: frameAcquired, Data: &data}, nil
	case m.Release != nil:
		return envelope{Type: frameRelease, ShardID: m.Release.ShardID}, nil
	default:
		return envelope{}, fmt.Errorf("shardwire: empty LockResponse")
	}
}

func requestFromEnvelope(e envelope) (LockRequest, error) {
	switch e.Type {
	case frameAcquire:
		return LockRequest{Acquire: &AcquireMsg{ShardID: e.ShardID}}, nil
	case frameReleased:
		if e.Data == nil {
			return LockRequest{}, fmt.Errorf("shardwire: released frame missing data")
		}
		return LockRequest{Released: &ReleasedMsg{Data: *e.Data}}, nil
	default:
		return LockRequest{}, fmt.Errorf("shardwire: unexpected request frame type %q", e.Type)
	}
}

func responseFromEnvelope(e envelope) (LockResponse, error) {
	switch e.Type {
	case frameAcquired:
		if e.Data == nil {
			return LockResponse{}, fmt.Errorf("shardwire: acquired frame missing data")
		}
		return LockResponse{Acquired: &AcquiredMsg{Data: *e.Data}}, nil
	case frameRelease:
		return LockResponse{Release: &ReleaseMsg{ShardID: e.ShardID}}, nil
	default:
		return LockResponse{}, fmt.Errorf("shardwire: unexpected response frame type %q", e.Type)
	}
}
