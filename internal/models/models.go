package models

import "time"

type User struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email,omitempty"`
	AvatarURL *string  `json:"avatar,omitempty"`
	IsNearby  bool     `json:"is_nearby"`
	Distance  *float64 `json:"distance,omitempty"` // meters
	DeviceID  *string  `json:"device_id,omitempty"`
	Language  string   `json:"language,omitempty"`
}

// DistanceOrZero treats an unknown distance as right next to the observer.
func (u User) DistanceOrZero() float64 {
	if u.Distance == nil {
		return 0
	}
	return *u.Distance
}

type RadioDevice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsConnected bool   `json:"is_connected"`
	RSSI        *int   `json:"rssi,omitempty"` // dBm
}

type DiscoveryState struct {
	Enabled        bool          `json:"is_enabled"`
	Scanning       bool          `json:"is_scanning"`
	Devices        []RadioDevice `json:"devices"`
	NearbyUsers    []User        `json:"nearby_users"`
	DetectionRange int           `json:"detection_range"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"` // epoch milliseconds
	Read           bool   `json:"read"`
}

func (m Message) CreatedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	Messages     []Message `json:"messages"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UnreadCount  int       `json:"unread_count"`
	CreatedAt    int64     `json:"created_at"`
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

func (c Conversation) Has(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

type OfferKind string

const (
	OfferBuying    OfferKind = "buying"
	OfferReceiving OfferKind = "receiving"
)

func (k OfferKind) Valid() bool {
	return k == OfferBuying || k == OfferReceiving
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

func (s OfferStatus) Resolved() bool {
	return s == OfferAccepted || s == OfferRejected
}

type CoffeeOffer struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Kind       OfferKind   `json:"type"`
	Status     OfferStatus `json:"status"`
	Timestamp  int64       `json:"timestamp"` // epoch milliseconds
}
