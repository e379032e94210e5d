package builder

import "zonepager.ai/internal/pager"

type jobState int

const (
	jobIdle jobState = iota
	jobQueued
	jobBuilding
	jobBuilt
)

type job struct {
	task     pager.Task
	priority int
	seq      uint64
	index    int
	state    jobState

	rebuild       bool
	release       bool
	releaseQueued bool
}

// jobQueue orders by priority value, lowest first, then by submission.
type jobQueue []*job

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	j := x.(*job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*q = old[:n-1]
	return j
}
