package model

// Frame types carried over the chat websocket. A frame is a JSON object
// whose Type field selects which of the remaining fields are set.
const (
	FrameSend       = "send"
	FrameConnected  = "connected"
	FrameMessage    = "message"
	FrameMessageAck = "messageAck"
	FrameError      = "error"
)

type (
	// SendFrame is the only client->server frame. The sender id is never
	// carried here; the server takes it from the authenticated connection.
	SendFrame struct {
		Type          string           `json:"type"`
		ReceiverID    int64            `json:"receiverId"`
		Content       EncryptedContent `json:"content"`
		PublicKey     string           `json:"publicKey"`
		CorrelationID string           `json:"correlationId,omitempty"`
	}

	// ServerFrame is the union of all server->client frames.
	ServerFrame struct {
		Type            string           `json:"type"`
		UserID          int64            `json:"userId,omitempty"`
		Message         *MessageEnvelope `json:"message,omitempty"`
		SenderPublicKey string           `json:"senderPublicKey,omitempty"`
		MessageID       int64            `json:"messageId,omitempty"`
		CorrelationID   string           `json:"correlationId,omitempty"`
		Error           string           `json:"error,omitempty"`
	}
)
