// SPDX-License-Identifier: MIT
package scheduler

// queue is the ordered id list behind the 1-based queue positions. It
// holds queued and paused jobs; admitted jobs leave it. The zero value
// is ready to use.
type queue struct {
	ids []string
}

func (q *queue) len() int {
	return len(q.ids)
}

func (q *queue) indexOf(id string) int {
	for i, v := range q.ids {
		if v == id {
			return i
		}
	}
	return -1
}

func (q *queue) contains(id string) bool {
	return q.indexOf(id) >= 0
}

func (q *queue) pushTail(id string) {
	q.ids = append(q.ids, id)
}

func (q *queue) pushHead(id string) {
	q.ids = append([]string{id}, q.ids...)
}

func (q *queue) remove(id string) bool {
	i := q.indexOf(id)
	if i < 0 {
		return false
	}
	q.ids = append(q.ids[:i], q.ids[i+1:]...)
	return true
}

// moveTo re-inserts id at the given 1-based position. Positions beyond
// the tail clamp to the tail. The id must already be queued.
func (q *queue) moveTo(id string, pos int) bool {
	if !q.remove(id) {
		return false
	}
	i := pos - 1
	if i < 0 {
		i = 0
	}
	if i > len(q.ids) {
		i = len(q.ids)
	}
	q.ids = append(q.ids, "")
	copy(q.ids[i+1:], q.ids[i:])
	q.ids[i] = id
	return true
}

// snapshot copies the current order.
func (q *queue) snapshot() []string {
	out := make([]string, len(q.ids))
	copy(out, q.ids)
	return out
}
