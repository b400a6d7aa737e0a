package coordinator

import (
	"sort"
	"sync"
	"time"
)

// tracker owns the job table. Every read and write runs on its goroutine;
// drivers send snapshots and readers get copies back.
type tracker struct {
	ops       chan func(map[string]Job)
	done      chan struct{}
	closeOnce sync.Once
}

func newTracker() *tracker {
	t := &tracker{ops: make(chan func(map[string]Job)), done: make(chan struct{})}
	go t.run()
	return t
}

func (t *tracker) run() {
	jobs := make(map[string]Job)
	for {
		select {
		case op := <-t.ops:
			op(jobs)
		case <-t.done:
			return
		}
	}
}

func (t *tracker) do(op func(map[string]Job)) bool {
	select {
	case t.ops <- op:
		return true
	case <-t.done:
		return false
	}
}

func (t *tracker) put(job Job) {
	snapshot := job.clone()
	t.do(func(m map[string]Job) { m[snapshot.ID] = snapshot })
}

func (t *tracker) get(id string) (Job, bool) {
	type found struct {
		job Job
		ok  bool
	}
	reply := make(chan found, 1)
	if !t.do(func(m map[string]Job) {
		j, ok := m[id]
		reply <- found{j.clone(), ok}
	}) {
		return Job{}, false
	}
	r := <-reply
	return r.job, r.ok
}

func (t *tracker) session(sessionID string) []Job {
	reply := make(chan []Job, 1)
	if !t.do(func(m map[string]Job) {
		var out []Job
		for _, j := range m {
			if j.SessionID == sessionID {
				out = append(out, j.clone())
			}
		}
		reply <- out
	}) {
		return nil
	}
	out := <-reply
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].LessonNumber < out[j].LessonNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// evict drops terminal jobs that finished before cutoff.
func (t *tracker) evict(cutoff time.Time) int {
	reply := make(chan int, 1)
	if !t.do(func(m map[string]Job) {
		removed := 0
		for id, j := range m {
			if !j.Status.Terminal() {
				continue
			}
			finished := j.CreatedAt
			if j.CompletedAt != nil {
				finished = *j.CompletedAt
			}
			if finished.Before(cutoff) {
				delete(m, id)
				removed++
			}
		}
		reply <- removed
	}) {
		return 0
	}
	return <-reply
}

// counts returns active and total job counts.
func (t *tracker) counts() (active, total int) {
	type pair struct{ active, total int }
	reply := make(chan pair, 1)
	if !t.do(func(m map[string]Job) {
		p := pair{total: len(m)}
		for _, j := range m {
			if !j.Status.Terminal() {
				p.active++
			}
		}
		reply <- p
	}) {
		return 0, 0
	}
	p := <-reply
	return p.active, p.total
}

func (t *tracker) close() {
	t.closeOnce.Do(func() { close(t.done) })
}
