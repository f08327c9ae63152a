package resource

// ring is a fixed-capacity buffer of snapshots. Not safe for concurrent use;
// the Monitor serializes access under its own lock.
type ring struct {
	buf   []Snapshot
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Snapshot, capacity)}
}

func (r *ring) push(snap Snapshot) {
	r.buf[r.next] = snap
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// slice returns the retained snapshots, oldest first.
func (r *ring) slice() []Snapshot {
	out := make([]Snapshot, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
