package negotiation

import "github.com/pion/webrtc/v4"

// PendingCandidate is a remote candidate held until a remote description
// exists.
type PendingCandidate = webrtc.ICECandidateInit

// candidateQueue keeps early candidates in arrival order. drain hands the
// whole backlog out once and leaves the queue empty.
type candidateQueue struct {
	items []webrtc.ICECandidateInit
}

func (q *candidateQueue) push(c webrtc.ICECandidateInit) {
	q.items = append(q.items, c)
}

func (q *candidateQueue) drain() []webrtc.ICECandidateInit {
	items := q.items
	q.items = nil
	return items
}

func (q *candidateQueue) len() int {
	return len(q.items)
}

func (q *candidateQueue) snapshot() []webrtc.ICECandidateInit {
	if len(q.items) == 0 {
		return nil
	}
	out := make([]webrtc.ICECandidateInit, len(q.items))
	copy(out, q.items)
	return out
}
