// Package generation talks to the remote generation services: the texture
// generator (batched, best effort) and the universe generator (one call per
// request, typed errors).
package generation

import (
	"errors"
	"fmt"

	"astronoma/internal/types"
)

// ErrorKind classifies a failed remote call.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network" // connection refused or aborted
	KindTimeout ErrorKind = "timeout" // no response within budget
	KindService ErrorKind = "service" // remote reported failure, or sent a malformed response
)

// Error is returned by UniverseClient and recorded per key by BatchClient.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind of err, or "" if err is not a *Error.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// Descriptor is everything the texture generator needs for one object.
type Descriptor struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Type        string      `json:"type"`
	Color       string      `json:"color"`
	Style       types.Style `json:"style"`
	Temperature int         `json:"temperature,omitempty"`
}

// DescriptorFor builds the generation descriptor for an object.
func DescriptorFor(obj types.CelestialObject) Descriptor {
	return Descriptor{
		ID:          obj.ID,
		Name:        obj.Name,
		Type:        string(obj.Type),
		Color:       obj.Color,
		Style:       types.StyleFor(obj),
		Temperature: obj.Temperature,
	}
}

// Slot names accepted in a generator payload. "diffuse" is the generator's
// historical name for the primary slot.
var slotAliases = map[string]string{
	"primary":  "primary",
	"diffuse":  "primary",
	"normal":   "normal",
	"bump":     "bump",
	"specular": "specular",
	"emissive": "emissive",
}

// Result is the per-key outcome of a batch. Exactly one of Refs or Err is set.
type Result struct {
	Refs    map[string]string // slot -> inline data URL or image URL
	Err     ErrorKind
	Message string
}

// OK reports whether the result carries image references.
func (r Result) OK() bool { return r.Err == "" && r.Refs != nil }

// Failed builds an error result.
func Failed(kind ErrorKind, msg string) Result {
	return Result{Err: kind, Message: msg}
}

// parseResult validates one raw per-key payload. Unknown fields are ignored,
// an "error" field or a missing primary slot yields a service failure.
func parseResult(raw map[string]interface{}) Result {
	if raw == nil {
		return Failed(KindService, "empty result")
	}
	if msg, ok := raw["error"]; ok {
		return Failed(KindService, fmt.Sprint(msg))
	}
	refs := make(map[string]string)
	for field, v := range raw {
		slot, known := slotAliases[field]
		if !known {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		refs[slot] = s
	}
	if refs["primary"] == "" {
		return Failed(KindService, "malformed result: no primary image")
	}
	return Result{Refs: refs}
}
