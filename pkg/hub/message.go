// Package hub fans encoded JSON frames out to websocket clients over
// per-client buffered channels.
package hub

// Message is one pre-encoded JSON frame. Every frame goes out as a
// websocket text message.
type Message struct {
	Data []byte
}

// NewJSONMessage wraps already-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}
