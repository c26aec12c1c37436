package channel

import (
	"context"
	"encoding/json"
	"time"

	"astronoma/internal/logging"
	"astronoma/internal/types"
)

// Built-in call types. Each owns a distinct event pair.
var (
	NarrationCall = CallSpec{
		Event:        "request_narration",
		SuccessEvent: "narration_response",
		ErrorEvent:   "narration_error",
		Timeout:      10 * time.Second,
	}
	ChatCall = CallSpec{
		Event:        "chat_message",
		SuccessEvent: "chat_response",
		ErrorEvent:   "chat_error",
		Timeout:      5 * time.Second,
	}
	TranscriptionCall = CallSpec{
		Event:        "transcribe_audio",
		SuccessEvent: "transcription_response",
		ErrorEvent:   "transcription_error",
		Timeout:      15 * time.Second,
	}
	SpeechCall = CallSpec{
		Event:        "synthesize_speech",
		SuccessEvent: "speech_response",
		ErrorEvent:   "speech_error",
		Timeout:      10 * time.Second,
	}
	GenerationCall = CallSpec{
		Event:        "generate_universe",
		SuccessEvent: "universe_generated",
		ErrorEvent:   "generation_error",
		Timeout:      30 * time.Second,
	}
)

// Unsolicited events pushed by the backend.
const (
	EventNavigateTo            = "navigate_to"
	EventConnectionEstablished = "connection_established"
)

// WithTimeout returns a copy of spec with a different budget. A
// non-positive d keeps the default.
func (s CallSpec) WithTimeout(d time.Duration) CallSpec {
	if d > 0 {
		s.Timeout = d
	}
	return s
}

// Timeouts overrides the per-call budgets of the typed helpers.
type Timeouts struct {
	Narration     time.Duration
	Chat          time.Duration
	Transcription time.Duration
	Speech        time.Duration
	Generation    time.Duration
}

// Service is the typed face of a Client.
type Service struct {
	client   *Client
	timeouts Timeouts
}

// NewService wraps client. Zero timeouts keep the defaults.
func NewService(client *Client, timeouts Timeouts) *Service {
	return &Service{client: client, timeouts: timeouts}
}

// Client returns the underlying client.
func (s *Service) Client() *Client { return s.client }

// RequestNarration asks for narration of one object.
func (s *Service) RequestNarration(ctx context.Context, req types.NarrationRequest) (*types.NarrationResponse, error) {
	if req.Language == "" {
		req.Language = types.LangEnglish
	}
	var resp types.NarrationResponse
	if err := s.client.Call(ctx, NarrationCall.WithTimeout(s.timeouts.Narration), req, &resp); err != nil {
		return nil, err
	}
	if resp.ObjectID == "" {
		resp.ObjectID = req.ObjectID
	}
	return &resp, nil
}

// SendChat sends one chat message. The reply may carry a navigation action.
func (s *Service) SendChat(ctx context.Context, msg types.ChatMessage) (*types.ChatResponse, error) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	var resp types.ChatResponse
	if err := s.client.Call(ctx, ChatCall.WithTimeout(s.timeouts.Chat), msg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transcribe turns recorded audio into text.
func (s *Service) Transcribe(ctx context.Context, req types.TranscriptionRequest) (*types.TranscriptionResponse, error) {
	var resp types.TranscriptionResponse
	if err := s.client.Call(ctx, TranscriptionCall.WithTimeout(s.timeouts.Transcription), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SynthesizeSpeech asks for spoken audio of text.
func (s *Service) SynthesizeSpeech(ctx context.Context, req types.SpeechRequest) (*types.SpeechResponse, error) {
	var resp types.SpeechResponse
	if err := s.client.Call(ctx, SpeechCall.WithTimeout(s.timeouts.Speech), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateUniverse generates a universe over the channel.
func (s *Service) GenerateUniverse(ctx context.Context, req types.GenerationRequest) (*types.UniverseDocument, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var doc types.UniverseDocument
	if err := s.client.Call(ctx, GenerationCall.WithTimeout(s.timeouts.Generation), req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// OnNavigate subscribes to navigate_to pushes.
func (s *Service) OnNavigate(fn func(types.NavigationAction)) (unsubscribe func()) {
	return s.client.On(EventNavigateTo, func(data json.RawMessage) {
		var action types.NavigationAction
		if err := json.Unmarshal(data, &action); err != nil {
			logging.ChannelWarn("malformed %s push: %v", EventNavigateTo, err)
			return
		}
		if action.Type == "" {
			action.Type = "navigate"
		}
		fn(action)
	})
}

// OnConnected subscribes to the backend's greeting.
func (s *Service) OnConnected(fn func(message string)) (unsubscribe func()) {
	return s.client.On(EventConnectionEstablished, func(data json.RawMessage) {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &payload)
		fn(payload.Message)
	})
}
