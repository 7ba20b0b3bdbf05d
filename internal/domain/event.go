package domain

import (
	"encoding/json"
	"fmt"
)

// EventType tags a normalized market-data event.
type EventType string

const (
	EventBook  EventType = "book"
	EventTrade EventType = "trade"
)

// MarketEvent is the normalized envelope delivered by upstream
// connectivity: exactly one of Book or Trade is set, matching Type.
type MarketEvent struct {
	Type  EventType          `json:"type"`
	Book  *OrderBookSnapshot `json:"book,omitempty"`
	Trade *ExecutedTrade     `json:"trade,omitempty"`
}

// DecodeMarketEvent parses and validates the envelope shape. Field-level
// validation of the payload happens at engine ingestion.
func DecodeMarketEvent(raw []byte) (MarketEvent, error) {
	var ev MarketEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return MarketEvent{}, fmt.Errorf("%w: decode event: %v", ErrInvalidInput, err)
	}
	switch ev.Type {
	case EventBook:
		if ev.Book == nil {
			return MarketEvent{}, fmt.Errorf("%w: book event without book", ErrInvalidInput)
		}
	case EventTrade:
		if ev.Trade == nil {
			return MarketEvent{}, fmt.Errorf("%w: trade event without trade", ErrInvalidInput)
		}
	default:
		return MarketEvent{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, ev.Type)
	}
	return ev, nil
}
