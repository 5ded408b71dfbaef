package entities

// Call carries the identity of one phone call, assigned by the telephony
// side at stream start. A call id is never reused across sessions.
type Call struct {
	// CallID is the telephony provider's call identifier (e.g. CallSid).
	CallID string
	// StreamID identifies the media stream within the call.
	StreamID string
	// Caller is the caller's phone number or an anonymized token.
	Caller string
}
