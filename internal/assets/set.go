// Package assets is the process resource cache: it hands out texture sets for
// celestial objects, preferring generated images and falling back to locally
// synthesized placeholders that are always available.
package assets

import (
	"image"
	"sync"
	"time"

	"astronoma/internal/types"
)

// Key names the texture set owed to one object.
type Key string

// Slot is one image role within a set.
type Slot string

const (
	SlotPrimary  Slot = "primary"
	SlotNormal   Slot = "normal"
	SlotBump     Slot = "bump"
	SlotSpecular Slot = "specular"
	SlotEmissive Slot = "emissive"
)

// Slots lists every slot in rendering order.
var Slots = []Slot{SlotPrimary, SlotNormal, SlotBump, SlotSpecular, SlotEmissive}

func parseSlot(s string) (Slot, bool) {
	for _, slot := range Slots {
		if string(slot) == s {
			return slot, true
		}
	}
	return "", false
}

// Texture is one decoded image. After Release the image is dropped and
// Image returns nil.
type Texture struct {
	Source string

	mu  sync.RWMutex
	img image.Image
}

// NewTexture wraps img.
func NewTexture(source string, img image.Image) *Texture {
	return &Texture{Source: source, img: img}
}

// Image returns the decoded image, or nil once released.
func (t *Texture) Image() image.Image {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.img
}

// Released reports whether Release has been called.
func (t *Texture) Released() bool {
	return t.Image() == nil
}

// Release drops the image. Safe to call more than once.
func (t *Texture) Release() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.img = nil
	t.mu.Unlock()
}

// Set is the group of textures rendered together for one object.
type Set map[Slot]*Texture

// Primary returns the primary texture, or nil.
func (s Set) Primary() *Texture {
	return s[SlotPrimary]
}

// Complete reports whether the set can be rendered.
func (s Set) Complete() bool {
	return s.Primary() != nil
}

// Release releases every texture in the set.
func (s Set) Release() {
	for _, t := range s {
		t.Release()
	}
}

// Provenance records where a cached set came from.
type Provenance string

const (
	ProvenanceGenerated   Provenance = "generated"
	ProvenanceSynthesized Provenance = "synthesized"
)

// Entry is one cached set.
type Entry struct {
	Key        Key
	Set        Set
	Provenance Provenance
	StoredAt   time.Time
}

// Request pairs a key with the object it is generated from.
type Request struct {
	Key    Key
	Object types.CelestialObject
}

// RequestFor keys an object by its id.
func RequestFor(obj types.CelestialObject) Request {
	return Request{Key: Key(obj.ID), Object: obj}
}
