package models

import "time"

// EntityKind distinguishes the embedded annotations a tracker message may
// carry. Only URL-shaped entities matter to the parsers, but the contract
// preserves whatever the upstream session reports.
type EntityKind string

const (
	EntityURL     EntityKind = "url"
	EntityTextURL EntityKind = "text_url"
	EntityMention EntityKind = "mention"
	EntityCode    EntityKind = "code"
)

// Entity is one annotation over a range of the message text.
type Entity struct {
	Kind   EntityKind `json:"kind"`
	Offset int        `json:"offset"`
	Length int        `json:"length"`
	URL    string     `json:"url,omitempty"`
}

// InboundMessage is the contract between the upstream session and the
// fan-in router.
type InboundMessage struct {
	SessionID    string    `json:"session_id"`
	Text         string    `json:"text"`
	Entities     []Entity  `json:"entities"`
	SenderID     int64     `json:"sender_id"`
	SenderHandle string    `json:"sender_handle"`
	Outbound     bool      `json:"outbound"`
	Timestamp    time.Time `json:"timestamp"`
}

// AlertKind enumerates outbound alert shapes. The core only ever emits
// AlertKindConfluence today.
type AlertKind string

const AlertKindConfluence AlertKind = "CONFLUENCE"

// OutboundAlert is the structured message handed to an AlertSink.
type OutboundAlert struct {
	Tenant             string             `json:"tenant"`
	Kind               AlertKind          `json:"kind"`
	Coin               string             `json:"coin"`
	CoinAddress        string             `json:"coin_address"`
	Wallets            []ConfluenceWallet `json:"wallets"`
	DetectionTimestamp time.Time          `json:"detection_timestamp"`
	MarketCap          string             `json:"market_cap"`
}
