package channel

// ordinal is the key that totally orders the received messages of a channel.
// The seq is the datagram sequence number unfolded onto an unbounded line
// and the index is the position of the message inside its datagram.
type ordinal struct {
	seq   int64
	index uint32
}

func (o ordinal) less(other ordinal) bool {
	if o.seq != other.seq {
		return o.seq < other.seq
	}

	return o.index < other.index
}

// next returns the ordinal of the following message in the same datagram.
func (o ordinal) next() ordinal {
	return ordinal{seq: o.seq, index: o.index + 1}
}

// isInWindow states whether seq lies in the circular interval
// [last - tolerance, last + tolerance], inclusive.
// Both bounds may wrap around, so the interval is walked forward from its minimum.
func isInWindow(seq uint16, last int64, tolerance uint16) bool {
	minSeq := uint16(last) - tolerance
	maxSeq := uint16(last) + tolerance

	return seq-minSeq <= maxSeq-minSeq
}

// unfold places seq on the same line as last.
// A sequence far below the last one has wrapped past 65535, a sequence far above
// it is a late datagram of the previous cycle (only once a cycle has been completed).
func unfold(seq uint16, last int64, tolerance uint16, wrapped bool) int64 {
	lastRaw := uint16(last)
	base := last - int64(lastRaw)

	unfolded := base + int64(seq)

	diff := int(seq) - int(lastRaw)
	if diff < 0 {
		diff = -diff
	}

	if diff > int(tolerance) {
		if seq < lastRaw {
			unfolded += seqSpan
		} else if wrapped {
			unfolded -= seqSpan
		}
	}

	return unfolded
}
