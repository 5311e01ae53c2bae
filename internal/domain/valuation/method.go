package valuation

import (
	"fmt"
	"strings"
)

// Method is the inventory cost valuation method.
type Method string

const (
	// MethodFIFO consumes the oldest acquisitions first.
	MethodFIFO Method = "FIFO"

	// MethodLIFO consumes the newest acquisitions first.
	MethodLIFO Method = "LIFO"

	// MethodWeightedAverage blends all active layers into one unit cost.
	MethodWeightedAverage Method = "WEIGHTED_AVERAGE"
)

// IsValid checks if the valuation method is known.
func (m Method) IsValid() bool {
	switch m {
	case MethodFIFO, MethodLIFO, MethodWeightedAverage:
		return true
	default:
		return false
	}
}

// String returns the string representation of the method.
func (m Method) String() string {
	return string(m)
}

// UsesLayerOrder reports whether consumption walks layers one by one (FIFO/LIFO)
// rather than blending them.
func (m Method) UsesLayerOrder() bool {
	return m == MethodFIFO || m == MethodLIFO
}

// ParseMethod accepts the canonical names case-insensitively, plus "AVG"/"WAC"
// as aliases for the weighted average.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FIFO":
		return MethodFIFO, nil
	case "LIFO":
		return MethodLIFO, nil
	case "WEIGHTED_AVERAGE", "AVG", "WAC":
		return MethodWeightedAverage, nil
	default:
		return "", fmt.Errorf("unknown valuation method %q", s)
	}
}
