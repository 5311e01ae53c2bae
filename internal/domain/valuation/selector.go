package valuation

import (
	"bytes"
	"sort"
)

// SelectOrder returns a copy of layers in the order consumption draws from them.
//
// FIFO sorts by acquisition date ascending, LIFO descending; equal dates fall back
// to insertion order (Seq, then the time-ordered ID), reversed for LIFO.
// Weighted average has no meaningful order and uses FIFO order so that
// proportional deductions are deterministic.
func SelectOrder(layers Layers, method Method) Layers {
	out := layers.Clone()
	if len(out) < 2 {
		return out
	}

	if method == MethodLIFO {
		sort.SliceStable(out, func(i, j int) bool { return acquiredBefore(out[j], out[i]) })
		return out
	}

	sort.SliceStable(out, func(i, j int) bool { return acquiredBefore(out[i], out[j]) })
	return out
}

// acquiredBefore is the FIFO strict ordering.
func acquiredBefore(a, b CostLayer) bool {
	if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
		return a.AcquisitionDate.Before(b.AcquisitionDate)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}
