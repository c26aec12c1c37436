// Package types holds the documents exchanged with the universe backend.
// They are shared by the asset, channel, and universe packages so none of
// those needs to import another just for a struct.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ObjectType classifies a celestial object.
type ObjectType string

const (
	ObjectStar   ObjectType = "star"
	ObjectPlanet ObjectType = "planet"
	ObjectMoon   ObjectType = "moon"
)

// Style is the visual family of an object's surface. It doubles as the
// style hint for placeholder synthesis.
type Style string

const (
	StyleGas         Style = "gas"
	StyleRocky       Style = "rocky"
	StyleIce         Style = "ice"
	StyleStar        Style = "star"
	StyleTerrestrial Style = "terrestrial"
)

// Styles lists every known style.
var Styles = []Style{StyleGas, StyleRocky, StyleIce, StyleStar, StyleTerrestrial}

// ParseStyle accepts a style name and a few common aliases.
func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gas", "gas_giant", "gas-giant":
		return StyleGas, nil
	case "rocky", "rock":
		return StyleRocky, nil
	case "ice", "icy":
		return StyleIce, nil
	case "star", "luminous":
		return StyleStar, nil
	case "terrestrial", "earth", "earth-like":
		return StyleTerrestrial, nil
	}
	return "", fmt.Errorf("unknown style %q", s)
}

// ObjectInfo carries the descriptive facts shown next to an object.
type ObjectInfo struct {
	Distance   string `json:"distance"`
	Temp       string `json:"temp"`
	Moons      *int   `json:"moons,omitempty"`
	Atmosphere string `json:"atmosphere,omitempty"`
	Magnitude  string `json:"magnitude,omitempty"`
}

// CelestialObject is one body in a universe document.
type CelestialObject struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Type            ObjectType `json:"type"`
	Position        [3]float64 `json:"position"`
	Size            float64    `json:"size"`
	Color           string     `json:"color"`
	Texture         string     `json:"texture,omitempty"`
	Style           Style      `json:"style,omitempty"`
	Temperature     int        `json:"temperature,omitempty"`
	Info            ObjectInfo `json:"info"`
	NarrationPrompt string     `json:"narrationPrompt,omitempty"`
}

// StyleFor picks the placeholder style for an object: an explicit style wins,
// then the object type decides.
func StyleFor(obj CelestialObject) Style {
	if obj.Style != "" {
		if s, err := ParseStyle(string(obj.Style)); err == nil {
			return s
		}
	}
	switch obj.Type {
	case ObjectStar:
		return StyleStar
	default:
		return StyleRocky
	}
}

// UniverseDocument is the generated (or stored) description of a universe.
type UniverseDocument struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	Objects        []CelestialObject    `json:"objects"`
	GeneratedAt    time.Time            `json:"generated_at"`
	ParametersUsed GenerationParameters `json:"parameters_used"`
}

// Object finds an object by id.
func (u *UniverseDocument) Object(id string) (CelestialObject, bool) {
	if u == nil {
		return CelestialObject{}, false
	}
	for _, o := range u.Objects {
		if o.ID == id {
			return o, true
		}
	}
	return CelestialObject{}, false
}

// GenerationParameters tune universe generation.
type GenerationParameters struct {
	Size       string                 `json:"size,omitempty"`
	Complexity string                 `json:"complexity,omitempty"`
	Style      string                 `json:"style,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// GenerationRequest asks the backend for a new universe.
type GenerationRequest struct {
	UniverseType string               `json:"universe_type"`
	Parameters   GenerationParameters `json:"parameters"`
}

// Validate checks the request before it is sent.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.UniverseType) == "" {
		return errors.New("universe_type is required")
	}
	return nil
}

// Language is a narration/speech language code.
type Language string

const (
	LangEnglish Language = "en"
	LangSpanish Language = "es"
	LangFrench  Language = "fr"
	LangHindi   Language = "hi"
)

// ParseLanguage validates a narration language code.
func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case LangEnglish, LangSpanish, LangFrench, LangHindi:
		return l, nil
	}
	return "", fmt.Errorf("unsupported language %q (supported: en, es, fr, hi)", s)
}

// NarrationRequest asks for narration of one object.
type NarrationRequest struct {
	ObjectID string   `json:"objectId"`
	Language Language `json:"language"`
}

// NarrationResponse is the narration text for one object.
type NarrationResponse struct {
	ObjectID string   `json:"objectId"`
	Text     string   `json:"text"`
	Language Language `json:"language"`
}

// ViewState describes what the user is looking at.
type ViewState struct {
	CameraPosition   [3]float64 `json:"cameraPosition"`
	LookAt           [3]float64 `json:"lookAt"`
	SelectedObjectID string     `json:"selectedObjectId,omitempty"`
}

// ChatMessage is one user utterance plus view context.
type ChatMessage struct {
	Message     string    `json:"message"`
	CurrentView ViewState `json:"currentView"`
	Timestamp   int64     `json:"timestamp"`
}

// DefaultNavigationDuration is used when the backend omits a duration.
const DefaultNavigationDuration = 2000

// NavigationAction moves the view to a target object.
type NavigationAction struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
	Duration int    `json:"duration"` // milliseconds
}

// DurationOrDefault returns the navigation duration as a time.Duration.
func (a NavigationAction) DurationOrDefault() time.Duration {
	if a.Duration <= 0 {
		return DefaultNavigationDuration * time.Millisecond
	}
	return time.Duration(a.Duration) * time.Millisecond
}

// ChatResponse is the assistant reply, optionally carrying a navigation.
type ChatResponse struct {
	Text   string            `json:"text"`
	Action *NavigationAction `json:"action,omitempty"`
}

// TranscriptionRequest carries raw audio to transcribe.
type TranscriptionRequest struct {
	Audio    []byte   `json:"audio"`
	Language Language `json:"language"`
}

// TranscriptionResponse is the recognized text.
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// SpeechRequest asks for synthesized speech.
type SpeechRequest struct {
	Text     string   `json:"text"`
	Language Language `json:"language"`
	Voice    string   `json:"voice_type,omitempty"`
}

// SpeechResponse points at the synthesized audio.
type SpeechResponse struct {
	AudioURL string `json:"audio_url"`
}
