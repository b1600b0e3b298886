package messaging

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Aidin1998/barterex/pkg/models"
)

// MessageType defines the type of message being sent
type MessageType string

// MsgTradeExecuted is emitted once per fill after the trade commits.
const MsgTradeExecuted MessageType = "trade.executed"

// SchemaVersion of the messages below.
const SchemaVersion = "1"

// BaseMessage contains common fields for all messages
type BaseMessage struct {
	MessageID string      `json:"message_id"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Version   string      `json:"version"`
	Source    string      `json:"source"`
}

// FillEventMessage describes one executed fill.
type FillEventMessage struct {
	BaseMessage
	FillID        string    `json:"fill_id"`
	World         string    `json:"world"`
	TakerOrderID  uint64    `json:"taker_order_id"`
	MakerOrderID  uint64    `json:"maker_order_id"`
	TakerAccount  string    `json:"taker_account"`
	MakerAccount  string    `json:"maker_account"`
	TakerItem     string    `json:"taker_item"`
	TakerReceived int64     `json:"taker_received"`
	MakerItem     string    `json:"maker_item"`
	MakerReceived int64     `json:"maker_received"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// NewFillEvent wraps f in an event envelope stamped at now.
func NewFillEvent(f *models.Fill, now time.Time) *FillEventMessage {
	return &FillEventMessage{
		BaseMessage: BaseMessage{
			MessageID: uuid.NewString(),
			Type:      MsgTradeExecuted,
			Timestamp: now,
			Version:   SchemaVersion,
			Source:    "barterex",
		},
		FillID:        f.ID,
		World:         f.World,
		TakerOrderID:  f.TakerOrderID,
		MakerOrderID:  f.MakerOrderID,
		TakerAccount:  f.TakerAccount,
		MakerAccount:  f.MakerAccount,
		TakerItem:     f.TakerItem,
		TakerReceived: f.TakerReceived,
		MakerItem:     f.MakerItem,
		MakerReceived: f.MakerReceived,
		ExecutedAt:    f.CreatedAt,
	}
}

// FillKey partitions fills by taker order so one order's fills stay in sequence.
func FillKey(f *models.Fill) string {
	return f.World + ":" + strconv.FormatUint(f.TakerOrderID, 10)
}
