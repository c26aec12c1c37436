package gate

import "sync/atomic"

// Token identifies one logical session, such as one regeneration.
type Token uint64

// Epoch hands out session tokens. Starting a new session makes every older
// token stale, so callbacks from superseded work can tell they should do
// nothing.
type Epoch struct {
	n atomic.Uint64
}

// Next starts a new session.
func (e *Epoch) Next() Token {
	return Token(e.n.Add(1))
}

// Current reports whether t belongs to the latest session.
func (e *Epoch) Current(t Token) bool {
	return e.n.Load() == uint64(t)
}
