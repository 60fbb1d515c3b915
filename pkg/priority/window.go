package priority

import (
	"math"

	"github.com/pkg/errors"
)

// MaxWindowSize is the largest value a flow-control window may hold
// (2^31 - 1), per RFC 7540 §6.9.1.
const MaxWindowSize int32 = math.MaxInt32

// AdjustWindow moves *window by (newInitial - oldInitial), computed in
// 64-bit signed arithmetic so the intermediate value can't itself overflow,
// and fails if the result would fall outside [math.MinInt32, MaxWindowSize].
// On failure *window is left unchanged. Used for both the remote and local
// INITIAL_WINDOW_SIZE SETTINGS changes; the delta may be of either sign.
func AdjustWindow(window *int32, newInitial, oldInitial int32) error {
	adjusted := int64(*window) + int64(newInitial) - int64(oldInitial)
	if adjusted < math.MinInt32 || adjusted > int64(MaxWindowSize) {
		return errors.Errorf(
			"flow window adjust out of range: window=%d new_initial=%d old_initial=%d result=%d",
			*window, newInitial, oldInitial, adjusted)
	}
	*window = int32(adjusted)
	return nil
}
