package core

// ShouldProcess applies the dual dedup check: the message must be absent from
// the seen-id index, and either the source has no watermark yet or the message
// carries a reliable timestamp strictly after it.
func ShouldProcess(msg *Message, wm *Watermark, seen bool) bool {
	ok, _ := shouldProcess(msg, wm, seen)
	return ok
}

func shouldProcess(msg *Message, wm *Watermark, seen bool) (bool, string) {
	if seen {
		return false, ReasonAlreadySeen
	}
	if wm == nil {
		return true, ""
	}
	if msg.TimestampReliable && msg.Timestamp.After(wm.LastProcessedAt) {
		return true, ""
	}
	return false, ReasonNotNewer
}

// NextWatermark returns the watermark implied by the persisted messages.
// Only reliable timestamps count, and the result never moves backwards.
// The bool is false when the watermark should stay as it is.
func NextWatermark(current *Watermark, source Source, persisted []*Message) (*Watermark, bool) {
	var next *Watermark
	for _, m := range persisted {
		if !m.TimestampReliable {
			continue
		}
		if next == nil || m.Timestamp.After(next.LastProcessedAt) {
			next = &Watermark{Source: source, LastProcessedAt: m.Timestamp.UTC()}
		}
	}
	if next == nil {
		return current, false
	}
	if current != nil && !next.LastProcessedAt.After(current.LastProcessedAt) {
		return current, false
	}
	return next, true
}
