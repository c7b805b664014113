package serial

// writeQueue holds bytes accepted by Transport.Write that the device has not
// taken yet. Buffers are copied on push so callers may reuse theirs.
type writeQueue struct {
	bufs [][]byte
	size int
}

func (q *writeQueue) push(p []byte) {
	if len(p) == 0 {
		return
	}
	b := make([]byte, len(p))
	copy(b, p)
	q.bufs = append(q.bufs, b)
	q.size += len(b)
}

func (q *writeQueue) len() int { return q.size }

func (q *writeQueue) empty() bool { return q.size == 0 }

// front returns the oldest pending buffer.
func (q *writeQueue) front() []byte {
	if len(q.bufs) == 0 {
		return nil
	}
	return q.bufs[0]
}

// consume drops n bytes from the front of the queue.
func (q *writeQueue) consume(n int) {
	for n > 0 && len(q.bufs) > 0 {
		head := q.bufs[0]
		if n < len(head) {
			q.bufs[0] = head[n:]
			q.size -= n
			return
		}
		n -= len(head)
		q.size -= len(head)
		q.bufs[0] = nil
		q.bufs = q.bufs[1:]
	}
}

func (q *writeQueue) reset() {
	q.bufs = nil
	q.size = 0
}
