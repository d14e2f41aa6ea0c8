// Package registry provides the concurrent Job Registry: a thread-safe
// job id -> Job record map supporting insert, point lookup, filtered
// paginated listing, and a per-job publish/subscribe fan-out used to
// drive the streaming status endpoint.
//
// The map itself is guarded by a single RWMutex; each Job's own fields
// are guarded by the Job's own lock, so a status reader never waits
// behind a worker mutating progress.
package registry

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/reelforge/transcoder/internal/model"
)

// Registry is the in-memory Job Registry. Its method set is the
// interface a durable replacement would need to satisfy; DurableStore
// (registry/durable.go) is not such a replacement but a secondary
// snapshot sink with its own Save/LoadSnapshot methods.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job

	subMu sync.Mutex
	subs  map[string][]chan model.Snapshot

	logger hclog.Logger
}

// New creates an empty Job Registry.
func New(logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		jobs:   make(map[string]*model.Job),
		subs:   make(map[string][]chan model.Snapshot),
		logger: logger.Named("registry"),
	}
}

// Insert adds or overwrites the job record for job.ID.
func (r *Registry) Insert(job *model.Job) {
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	r.logger.Debug("inserted job", "job_id", job.ID)
}

// Get returns the job record for id, if any.
func (r *Registry) Get(id string) (*model.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// ListByVideoID returns every job created for videoID, unordered.
func (r *Registry) ListByVideoID(videoID string) []*model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Job
	for _, j := range r.jobs {
		if j.VideoID == videoID {
			out = append(out, j)
		}
	}
	return out
}

// ListByStatus returns every job currently in the given status, unordered.
func (r *Registry) ListByStatus(status model.Status) []*model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Job
	for _, j := range r.jobs {
		if j.Status() == status {
			out = append(out, j)
		}
	}
	return out
}

// ListAll returns every job in the registry, unordered.
func (r *Registry) ListAll() []*model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// Count returns the total number of jobs held by the registry.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

const defaultListLimit = 100

// List returns jobs ascending by created_at, filtered by status set
// (nil/empty = no filter) and by job id > pageToken (lexicographic)
// when pageToken is non-empty. nextPageToken is the id of the last
// record returned when the page was filled to limit, or "" otherwise.
func (r *Registry) List(limit int, statuses map[model.Status]bool, pageToken string) (jobs []model.Snapshot, nextPageToken string) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	r.mu.RLock()
	all := make([]*model.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		all = append(all, j)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, k int) bool {
		ti, tk := all[i].CreatedAt(), all[k].CreatedAt()
		if ti.Equal(tk) {
			return all[i].ID < all[k].ID
		}
		return ti.Before(tk)
	})

	for _, j := range all {
		if len(statuses) > 0 && !statuses[j.Status()] {
			continue
		}
		if pageToken != "" && !(j.ID > pageToken) {
			continue
		}
		jobs = append(jobs, j.Snapshot())
		if len(jobs) == limit {
			nextPageToken = j.ID
			break
		}
	}

	return jobs, nextPageToken
}

// Subscribe registers a listener for snapshot updates of jobID. The
// returned channel receives at-most-latest snapshots (sends are
// non-blocking; a slow reader misses intermediate updates but never stalls
// the publisher) and is closed by unsubscribe, which must be called
// exactly once when the caller is done.
func (r *Registry) Subscribe(jobID string) (ch <-chan model.Snapshot, unsubscribe func()) {
	c := make(chan model.Snapshot, 1)

	r.subMu.Lock()
	r.subs[jobID] = append(r.subs[jobID], c)
	r.subMu.Unlock()

	once := sync.Once{}
	unsub := func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			list := r.subs[jobID]
			for i, existing := range list {
				if existing == c {
					r.subs[jobID] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(r.subs[jobID]) == 0 {
				delete(r.subs, jobID)
			}
			close(c)
		})
	}

	return c, unsub
}

// Publish sends job's current snapshot to every subscriber, coalescing:
// if a subscriber hasn't drained the previous update, the stale one is
// dropped in favor of the new one rather than blocking.
func (r *Registry) Publish(job *model.Job) {
	snap := job.Snapshot()

	r.subMu.Lock()
	listeners := r.subs[job.ID]
	r.subMu.Unlock()

	for _, c := range listeners {
		select {
		case c <- snap:
		default:
			select {
			case <-c:
			default:
			}
			select {
			case c <- snap:
			default:
			}
		}
	}
}
