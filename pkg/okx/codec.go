package okx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

const maxPayloadInError = 256

var pongPayload = []byte("pong")

// DecodeError is returned for payloads that cannot be parsed. The connection
// cannot safely continue after one.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	p := e.Payload
	if len(p) > maxPayloadInError {
		p = p[:maxPayloadInError]
	}
	return fmt.Sprintf("decode frame: %v (payload %q)", e.Err, p)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeSubscribe builds one subscribe request covering every symbol on the trades channel.
func EncodeSubscribe(requestID string, symbols []string) ([]byte, error) {
	if len(symbols) == 0 {
		return nil, errors.New("no symbols to subscribe")
	}

	req := SubscribeRequest{
		ID:   requestID,
		Op:   "subscribe",
		Args: make([]SubscribeArg, 0, len(symbols)),
	}
	for _, s := range symbols {
		req.Args = append(req.Args, SubscribeArg{Channel: ChannelTrades, InstID: s})
	}
	return json.Marshal(req)
}

// DecodeFrame parses one inbound payload. Frames that are well formed but not
// trade data decode as FrameOther; only unparseable payloads return an error.
func DecodeFrame(payload []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(payload)
	if bytes.Equal(trimmed, pongPayload) {
		return Frame{Kind: FrameOther, Event: "pong"}, nil
	}

	if !json.Valid(trimmed) {
		return Frame{}, &DecodeError{Payload: payload, Err: errors.New("invalid JSON")}
	}
	// arrays, strings, numbers and null are well formed but carry nothing to route
	if trimmed[0] != '{' {
		return Frame{Kind: FrameOther}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Frame{}, &DecodeError{Payload: payload, Err: err}
	}
	env := parseEnvelope(fields)

	other := Frame{
		Kind:    FrameOther,
		Event:   env.Event,
		Code:    env.Code,
		Message: env.Msg,
	}
	if env.Arg != nil {
		other.Symbol = env.Arg.InstID
		other.Channel = env.Arg.Channel
	}

	// events echo arg too, so they are never trade data
	if env.Event != "" || env.Arg == nil || env.Arg.Channel != ChannelTrades {
		return other, nil
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return other, nil
	}

	var raw []rawTrade
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, &DecodeError{Payload: payload, Err: fmt.Errorf("trades data: %w", err)}
	}
	if len(raw) == 0 {
		return other, nil
	}
	if env.Arg.InstID == "" {
		return Frame{}, &DecodeError{Payload: payload, Err: errors.New("trades push without instId")}
	}

	trades := make([]TradeEntry, 0, len(raw))
	for i, r := range raw {
		entry, err := r.entry()
		if err != nil {
			return Frame{}, &DecodeError{Payload: payload, Err: fmt.Errorf("trade %d: %w", i, err)}
		}
		trades = append(trades, entry)
	}

	return Frame{
		Kind:    FrameTrade,
		Symbol:  env.Arg.InstID,
		Channel: ChannelTrades,
		Trades:  trades,
	}, nil
}

// parseEnvelope reads routing fields leniently. A field of an unexpected type is
// treated as absent, which makes the frame FrameOther rather than an error.
func parseEnvelope(fields map[string]json.RawMessage) envelope {
	env := envelope{
		Event: text(fields["event"]),
		Code:  text(fields["code"]),
		Msg:   text(fields["msg"]),
		Data:  fields["data"],
	}
	if raw, ok := fields["arg"]; ok {
		var arg SubscribeArg
		if err := json.Unmarshal(raw, &arg); err == nil {
			env.Arg = &arg
		}
	}
	return env
}

// text returns a JSON string's value, or a number's literal text.
func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if c := raw[0]; c == '-' || (c >= '0' && c <= '9') {
		return string(raw)
	}
	return ""
}

// entry validates the raw strings. Price and size are checked as decimals but kept verbatim.
func (r rawTrade) entry() (TradeEntry, error) {
	if r.TradeID == "" {
		return TradeEntry{}, errors.New("missing tradeId")
	}
	ts, err := strconv.ParseInt(r.Ts, 10, 64)
	if err != nil {
		return TradeEntry{}, fmt.Errorf("ts %q: %w", r.Ts, err)
	}
	if _, err := decimal.NewFromString(r.Px); err != nil {
		return TradeEntry{}, fmt.Errorf("px %q: %w", r.Px, err)
	}
	if _, err := decimal.NewFromString(r.Sz); err != nil {
		return TradeEntry{}, fmt.Errorf("sz %q: %w", r.Sz, err)
	}

	return TradeEntry{
		TradeID:     r.TradeID,
		TimestampMs: ts,
		Price:       r.Px,
		Size:        r.Sz,
		Side:        r.Side,
	}, nil
}
