package shared

import (
	"fmt"
	"strings"
)

// Side represents an order side.
type Side int

const (
	Bid Side = iota
	Ask
)

// String stringifies the provided side.
func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// MarshalText encodes the side as its wire name.
func (s Side) MarshalText() ([]byte, error) {
	switch s {
	case Bid, Ask:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("%w: unknown side %d", ErrValidation, int(s))
	}
}

// UnmarshalText decodes the side from its wire name.
func (s *Side) UnmarshalText(text []byte) error {
	side, err := ParseSide(string(text))
	if err != nil {
		return err
	}

	*s = side
	return nil
}

// ParseSide parses the provided side name.
func ParseSide(name string) (Side, error) {
	switch strings.ToLower(name) {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrValidation, name)
	}
}

// Transaction is the immutable record of one fill or market execution.
type Transaction struct {
	OrderID   int64   `json:"orderId" csv:"order_id"`
	ContID    int64   `json:"contId" csv:"cont_id"`
	Asset     string  `json:"asset" csv:"asset"`
	Side      Side    `json:"side" csv:"side"`
	Units     float64 `json:"units" csv:"units"`
	Price     float64 `json:"price" csv:"price"`
	Total     float64 `json:"total" csv:"total"`
	Fee       float64 `json:"fee" csv:"fee"`
	Timestamp int64   `json:"timestamp" csv:"timestamp"`
}
