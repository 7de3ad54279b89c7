package enum

import "fmt"

// OrderSide buy, sell
type OrderSide uint8

const (
	_order_side_beg OrderSide = iota
	OrderSideBuy
	OrderSideSell
	_order_side_end
)

func (s OrderSide) IsAvailable() bool {
	return s > _order_side_beg && s < _order_side_end
}

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s OrderSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderSide) UnmarshalText(b []byte) error {
	if string(b) == "unknown" {
		*s = _order_side_beg
		return nil
	}
	for v := _order_side_beg + 1; v < _order_side_end; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown order side %q", b)
}

// OrderKind limit
type OrderKind uint8

const (
	_order_kind_beg OrderKind = iota
	OrderKindLimit
	_order_kind_end
)

func (k OrderKind) IsAvailable() bool {
	return k > _order_kind_beg && k < _order_kind_end
}

func (k OrderKind) String() string {
	if k == OrderKindLimit {
		return "limit"
	}
	return "unknown"
}

func (k OrderKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OrderKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "limit":
		*k = OrderKindLimit
	case "unknown":
		*k = _order_kind_beg
	default:
		return fmt.Errorf("unknown order kind %q", b)
	}
	return nil
}

// OrderStatus pending, open, partially filled, filled, cancelled, rejected, failed
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusPending
	OrderStatusOpen
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	OrderStatusFailed
	_order_status_end
)

var orderStatusNames = [...]string{
	OrderStatusPending:         "pending",
	OrderStatusOpen:            "open",
	OrderStatusPartiallyFilled: "partially_filled",
	OrderStatusFilled:          "filled",
	OrderStatusCancelled:       "cancelled",
	OrderStatusRejected:        "rejected",
	OrderStatusFailed:          "failed",
}

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	if !s.IsAvailable() {
		return "unknown"
	}
	return orderStatusNames[s]
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	if string(b) == "unknown" {
		*s = _order_status_beg
		return nil
	}
	for v := _order_status_beg + 1; v < _order_status_end; v++ {
		if orderStatusNames[v] == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown order status %q", b)
}
