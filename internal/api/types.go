package api

import "encoding/xml"

// TwiML is the voice response document returned by the incoming-call webhook.
// A Say verb plays before Connect opens the bidirectional media stream back
// to us, covering the backend handshake with an audible greeting.
type TwiML struct {
	XMLName xml.Name `xml:"Response"`
	Say     string   `xml:"Say,omitempty"`
	Connect *Connect `xml:"Connect,omitempty"`
}

// Connect wraps the stream instruction.
type Connect struct {
	Stream Stream `xml:"Stream"`
}

// Stream points the provider at the media-stream WebSocket endpoint.
type Stream struct {
	URL        string      `xml:"url,attr"`
	Parameters []Parameter `xml:"Parameter"`
}

// Parameter is forwarded verbatim in the stream's start message as a custom
// parameter. Used to carry the call token.
type Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	ActiveCalls int    `json:"active_calls"`
}

// ErrorResponse is the generic JSON error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
