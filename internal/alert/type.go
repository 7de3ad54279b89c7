package alert

import (
	"github.com/yanun0323/errors"
)

// Type identifies an alert kind.
type Type uint8

const (
	// Wildcard subscribes to every alert type.
	Wildcard Type = iota
	OrderPlaced
	OrderFilled
	OrderCancelled
	OrderFailed
	TierOrderFailed
	HighVolatility
	RiskLimitBreached
	Error
	PositionClosed
	_type_end
)

func (t Type) IsAvailable() bool {
	return t > Wildcard && t < _type_end
}

func (t Type) String() string {
	switch t {
	case Wildcard:
		return "*"
	case OrderPlaced:
		return "order_placed"
	case OrderFilled:
		return "order_filled"
	case OrderCancelled:
		return "order_cancelled"
	case OrderFailed:
		return "order_failed"
	case TierOrderFailed:
		return "tier_order_failed"
	case HighVolatility:
		return "high_volatility"
	case RiskLimitBreached:
		return "risk_limit_breached"
	case Error:
		return "error"
	case PositionClosed:
		return "position_closed"
	default:
		return "unknown"
	}
}

// ParseType maps a wire name to a Type.
func ParseType(s string) (Type, error) {
	for t := Wildcard; t < _type_end; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return Wildcard, errors.Errorf("unknown alert type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
