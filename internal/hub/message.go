package hub

import "strings"

// Well-known channel names. Per-symbol ticker channels use the
// "ticker:<SYMBOL>" form.
const (
	ChannelTickers       = "tickers"
	ChannelSignals       = "signals"
	ChannelPumps         = "pumps"
	ChannelNotifications = "notifications"

	tickerChannelPrefix = "ticker:"
)

// CloseAuthFailure is the close code sent when authentication is
// missing or fails, distinct from normal closure codes.
const CloseAuthFailure = 4401

// Error codes carried in outbound error messages.
const (
	ErrCodeInvalidFormat     = "INVALID_FORMAT"
	ErrCodeInvalidChannel    = "INVALID_CHANNEL"
	ErrCodeAlreadySubscribed = "ALREADY_SUBSCRIBED"
	ErrCodeNotSubscribed     = "NOT_SUBSCRIBED"
	ErrCodeUnknownType       = "UNKNOWN_TYPE"
)

// Message is the outbound envelope. Type is one of connected,
// subscribed, unsubscribed, pong, error, ticker, tickers, signal,
// pump or notification.
type Message struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// inboundMessage is what clients send: subscribe, unsubscribe or ping.
type inboundMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// ValidChannel reports whether a channel name is recognized. Symbol
// channels require a non-empty uppercase alphanumeric symbol.
func ValidChannel(name string) bool {
	switch name {
	case ChannelTickers, ChannelSignals, ChannelPumps, ChannelNotifications:
		return true
	}
	if symbol, ok := strings.CutPrefix(name, tickerChannelPrefix); ok {
		return validSymbol(symbol)
	}
	return false
}

// TickerChannel returns the per-symbol channel name for a symbol.
func TickerChannel(symbol string) string {
	return tickerChannelPrefix + symbol
}

func validSymbol(symbol string) bool {
	if symbol == "" {
		return false
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
