package gpsd

// FixQuality is the gpsd TPV "mode" value. Values are ordered; gated
// queries compare them numerically.
type FixQuality int

const (
	NoValue FixQuality = 0
	NoFix   FixQuality = 1
	Fix2D   FixQuality = 2
	Fix3D   FixQuality = 3
)

var fixLabels = map[FixQuality]string{
	NoValue: "No mode",
	NoFix:   "No fix",
	Fix2D:   "2D Fix",
	Fix3D:   "3D Fix",
}

// String returns the human-readable label for the fix quality.
func (q FixQuality) String() string {
	if label, ok := fixLabels[q]; ok {
		return label
	}
	return "Unknown mode"
}

// AtLeast reports whether q satisfies the minimum quality min.
func (q FixQuality) AtLeast(min FixQuality) bool {
	return q >= min
}
