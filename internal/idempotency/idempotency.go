// Package idempotency makes the "check before you call" convention explicit:
// keys name one logical external call, a Guard serializes concurrent attempts
// at it, and Fingerprint identifies its inputs.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"kycflow/internal/vendor"
	"kycflow/pkg/domain"
)

// ErrInFlight is returned by Acquire when another invocation holds the key.
var ErrInFlight = errors.New("idempotency key in flight")

// Key names one idempotent unit of work.
type Key struct {
	Scope string
	Name  string
}

func (k Key) String() string {
	return k.Scope + ":" + k.Name
}

// IntentKey is the key the waterfall takes for one vendor kind under one
// decision intent.
func IntentKey(intentID domain.DecisionIntentID, kind vendor.Kind) Key {
	return Key{Scope: "intent", Name: intentID.String() + ":" + string(kind)}
}

// Guard grants exclusive use of a key for at most ttl. The returned release
// func is safe to call more than once.
type Guard interface {
	Acquire(ctx context.Context, key Key, ttl time.Duration) (release func(), err error)
}

// Fingerprint returns the hex SHA-256 of the RFC 8785 canonical JSON form of v.
// Field order and whitespace do not affect the result.
func Fingerprint(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize fingerprint input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
