package scheduler

// delayQueue is a min-heap of jobs ordered by requested start time.
type delayQueue []*job

func (q delayQueue) Len() int { return len(q) }

func (q delayQueue) Less(i, j int) bool { return q[i].startAt.Before(q[j].startAt) }

func (q delayQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *delayQueue) Push(x any) {
	j := x.(*job) //nolint:forcetypeassert // only jobs are pushed
	j.heapIndex = len(*q)
	*q = append(*q, j)
}

func (q *delayQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.heapIndex = -1
	*q = old[:n-1]
	return j
}
