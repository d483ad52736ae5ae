package shardwire

import "testing"

func TestShardDataCloneIsIndependent(t *testing.T) {
	orig := ShardData{Locks: map[string]bool{"0/0": true, "0/1": false}}
	clone := orig.Clone()

	clone.Locks["0/0"] = false
	if !orig.Locks["0/0"] {
		t.Fatalf("mutating clone affected original")
	}
}

func TestShardDataSameKeys(t *testing.T) {
	a := ShardData{Locks: map[string]bool{"0/0": true, "0/1": false}}
	b := ShardData{Locks: map[string]bool{"0/0": false, "0/1": true}}
	c := ShardData{Locks: map[string]bool{"0/0": true}}

	if !a.SameKeys(b) {
		t.Fatalf("expected same key sets regardless of values")
	}
	if a.SameKeys(c) {
		t.Fatalf("expected different key sets to mismatch")
	}
}

func TestLockRequestEnvelopeRoundTrip(t *testing.T) {
	req := LockRequest{Acquire: &AcquireMsg{ShardID: "3"}}
	e, err := req.toEnvelope()
	if err != nil {
		t.Fatalf("toEnvelope: %v", err)
	}
	got, err := requestFromEnvelope(e)
	if err != nil {
		t.Fatalf("requestFromEnvelope: %v", err)
	}
	if got.Acquire == nil || got.Acquire.ShardID != "3" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestEmptyLockRequestErrors(t *testing.T) {
	if _, err := (LockRequest{}).toEnvelope(); err == nil {
		t.Fatalf("expected error for empty LockRequest")
	}
}

func TestEmptyLockResponseErrors(t *testing.T) {
	if _, err := (LockResponse{}).toEnvelope(); err == nil {
		t.Fatalf("expected error for empty LockResponse")
	}
}
