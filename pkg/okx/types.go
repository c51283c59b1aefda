package okx

import "encoding/json"

// ChannelTrades is the public trades channel name.
const ChannelTrades = "trades"

// SubscribeRequest is the outbound subscription message, e.g.
// {"id":"5323","op":"subscribe","args":[{"channel":"trades","instId":"BTC-USDT"}]}
type SubscribeRequest struct {
	ID   string         `json:"id"`
	Op   string         `json:"op"`
	Args []SubscribeArg `json:"args"`
}

// SubscribeArg names a single channel/instrument pair.
type SubscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// envelope holds the routing fields of a JSON frame: pushes carry arg+data,
// events (subscribe acks, errors) carry event, code and msg. Any of them may be zero.
type envelope struct {
	Event string
	Code  string
	Msg   string
	Arg   *SubscribeArg
	Data  json.RawMessage
}

// rawTrade is one entry of a trades push. All values arrive as strings.
type rawTrade struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

// TradeEntry is a decoded trade as delivered by the exchange.
type TradeEntry struct {
	TradeID     string
	TimestampMs int64  // exchange execution time, epoch milliseconds
	Price       string // verbatim decimal string
	Size        string // verbatim decimal string
	Side        string
}

// FrameKind classifies an inbound frame.
type FrameKind uint8

const (
	FrameOther FrameKind = iota // acks, errors, pongs, pushes we do not store
	FrameTrade
)

func (k FrameKind) String() string {
	if k == FrameTrade {
		return "trade"
	}
	return "other"
}

// Frame is a decoded inbound message.
type Frame struct {
	Kind FrameKind

	// Set on trade frames.
	Symbol string
	Trades []TradeEntry

	// Set on other frames when present.
	Event   string
	Code    string
	Message string
	Channel string
}
