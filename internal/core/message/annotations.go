package message

// Annotations hold broker or protocol metadata keyed by symbol name.
type Annotations map[string]any

// Well-known message annotations stamped by the broker.
const (
	AnnotationOriginalAddress  = "x-opt-original-address"
	AnnotationOriginalQueue    = "x-opt-original-queue"
	AnnotationDeadLetterReason = "x-opt-dead-letter-reason"
	AnnotationOriginalExpiry   = "x-opt-original-expiry"

	// AnnotationArtemisOriginalAddress mirrors the original address under the
	// property name Artemis clients read.
	AnnotationArtemisOriginalAddress = "_AMQ_ORIG_ADDRESS"
)

func (a Annotations) Get(key string) (any, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a[key]
	return v, ok
}

// GetString returns the annotation as a string when it holds one.
func (a Annotations) GetString(key string) (string, bool) {
	v, ok := a.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (a Annotations) Clone() Annotations {
	if a == nil {
		return nil
	}
	return Annotations(cloneValues(a))
}
