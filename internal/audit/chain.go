package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// canonicalPreimage builds the deterministic, key-sorted, whitespace-free
// byte form hashed for e, excluding Hash and Signature. encoding/json
// sorts map keys when marshaling a map, so building the preimage as a
// map (rather than the struct, whose field order json.Marshal would
// otherwise follow) gives a canonical form for free, including for the
// nested Data bag.
func canonicalPreimage(e Entry) ([]byte, error) {
	fields := map[string]any{
		"sequence":      e.Sequence,
		"event_id":      e.EventID,
		"event_type":    e.EventType,
		"timestamp":     e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		"request_id":    e.RequestID,
		"agent_id":      e.AgentID,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"status":        e.Status,
		"data":          e.Data,
		"previous_hash": e.PreviousHash,
	}
	return json.Marshal(fields)
}

// computeHash returns the SHA-256 hash of e's canonical preimage.
func computeHash(e Entry) (string, error) {
	preimage, err := canonicalPreimage(e)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(preimage)
	return hex.EncodeToString(sum[:]), nil
}

// computeSignature returns HMAC-SHA256(secret, hash) in hex.
func computeSignature(secret []byte, hash string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature constant-time compares sig against the expected HMAC
// of hash under secret.
func verifySignature(secret []byte, hash, sig string) bool {
	expected := computeSignature(secret, hash)
	return hmac.Equal([]byte(expected), []byte(sig))
}
