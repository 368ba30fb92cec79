// Package jobs ships the daemon's builtin task handlers.
//
// Payloads arrive as decoded JSON (maps, slices, numbers); each handler
// coerces its payload into a typed struct before doing work.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskd/pkg/pool"
)

// Register installs all builtin handlers into reg.
func Register(reg *pool.Registry) {
	reg.Register("echo", Echo)
	reg.Register("sleep", Sleep)
	reg.Register("checksum", Checksum)
	reg.Register("sum", Sum)
}

// decode coerces a JSON-shaped payload into out via a marshal round-trip.
func decode(payload, out any) error {
	if payload == nil {
		return errors.New("payload is required")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Echo returns its payload unchanged. Useful for liveness checks and
// schedule smoke tests.
func Echo(ctx context.Context, payload any) (any, error) {
	_ = ctx
	return payload, nil
}

// Sleep blocks for the requested duration or until the task context ends.
func Sleep(ctx context.Context, payload any) (any, error) {
	var p struct {
		Duration string `json:"duration"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(p.Duration)
	if err != nil {
		return nil, fmt.Errorf("duration: %w", err)
	}
	if d < 0 {
		return nil, errors.New("duration must be >= 0")
	}
	select {
	case <-time.After(d):
		return map[string]any{"slept": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Checksum returns the hex SHA-256 of the payload data.
func Checksum(ctx context.Context, payload any) (any, error) {
	_ = ctx
	var p struct {
		Data string `json:"data"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	h := sha256.Sum256([]byte(p.Data))
	return map[string]any{"sha256": hex.EncodeToString(h[:])}, nil
}

// Sum adds the payload values and returns the total.
func Sum(ctx context.Context, payload any) (any, error) {
	_ = ctx
	var p struct {
		Values []float64 `json:"values"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if len(p.Values) == 0 {
		return nil, errors.New("values is required")
	}
	var total float64
	for _, v := range p.Values {
		total += v
	}
	return map[string]any{"total": total}, nil
}
