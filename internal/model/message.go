package model

import "time"

type (
	// EncryptedContent is the sealed body of a direct message. All three
	// fields are base64. The IV travels in the clear; it is not secret,
	// it only has to be unique per message key.
	EncryptedContent struct {
		EncryptedContent   string `json:"encryptedContent" bson:"encryptedContent"`
		EncryptedKey       string `json:"encryptedKey" bson:"encryptedKey"`
		SenderEncryptedKey string `json:"senderEncryptedKey,omitempty" bson:"senderEncryptedKey,omitempty"`
		IV                 string `json:"iv" bson:"iv"`
	}

	// MessageEnvelope is the persisted/wire form of a message. The
	// encryptedKey is always the one-time message key wrapped with the
	// receiver's public key, so only the receiver can open it. The
	// senderEncryptedKey is the same key wrapped for the sender, kept
	// so the sender's own history loads stay readable.
	MessageEnvelope struct {
		ID                 int64     `json:"id" bson:"_id"`
		SenderID           int64     `json:"senderId" bson:"senderId"`
		ReceiverID         int64     `json:"receiverId" bson:"receiverId"`
		EncryptedContent   string    `json:"encryptedContent" bson:"encryptedContent"`
		EncryptedKey       string    `json:"encryptedKey" bson:"encryptedKey"`
		SenderEncryptedKey string    `json:"senderEncryptedKey,omitempty" bson:"senderEncryptedKey,omitempty"`
		IV                 string    `json:"iv" bson:"iv"`
		CreatedAt          time.Time `json:"createdAt" bson:"createdAt"`
		IsRead             bool      `json:"isRead" bson:"isRead"`
	}

	// DecryptedMessage exists only in the client's conversation store.
	// It is never persisted or transmitted.
	DecryptedMessage struct {
		ID            int64
		CorrelationID string
		SenderID      int64
		ReceiverID    int64
		Content       string
		CreatedAt     time.Time
		IsRead        bool
		Pending       bool
	}
)
