package model

type (
	User struct {
		ID        int64  `json:"id" bson:"_id"`
		Name      string `json:"name" bson:"name"`
		PublicKey string `json:"publicKey,omitempty" bson:"publicKey,omitempty"`
	}
)
