package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/transcoder/internal/model"
)

func newJob(id string, status model.Status) *model.Job {
	j := model.NewJob(id, "vid", "/in", "/out", "mp4", nil, model.TranscodeOptions{}, model.Metadata{}, 0)
	switch status {
	case model.StatusInProgress:
		j.Start()
	case model.StatusCompleted:
		j.Start()
		j.Complete()
	case model.StatusFailed:
		j.Start()
		j.Fail("boom")
	case model.StatusCancelled:
		j.Cancel()
	}
	return j
}

func TestInsertAndGet(t *testing.T) {
	r := New(nil)
	j := newJob("j1", model.StatusQueued)
	r.Insert(j)

	got, ok := r.Get("j1")
	require.True(t, ok)
	assert.Equal(t, "j1", got.ID)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestListByStatus(t *testing.T) {
	r := New(nil)
	r.Insert(newJob("j1", model.StatusQueued))
	r.Insert(newJob("j2", model.StatusInProgress))
	r.Insert(newJob("j3", model.StatusQueued))

	queued := r.ListByStatus(model.StatusQueued)
	assert.Len(t, queued, 2)
}

func TestListPaginatesAscendingByCreatedAtWithNoDuplicates(t *testing.T) {
	r := New(nil)
	base := time.Now()

	// Insert out of CreatedAt order to prove List actually sorts by
	// CreatedAt rather than by insertion order.
	type seeded struct {
		id      string
		created time.Time
	}
	seeds := []seeded{
		{"j3", base.Add(2 * time.Minute)},
		{"j1", base},
		{"j5", base.Add(4 * time.Minute)},
		{"j2", base.Add(1 * time.Minute)},
		{"j4", base.Add(3 * time.Minute)},
	}
	for _, s := range seeds {
		j := newJob(s.id, model.StatusQueued)
		j.SetCreatedAtForTest(s.created)
		r.Insert(j)
	}

	var ordered []string
	seen := map[string]bool{}
	token := ""
	for {
		page, next := r.List(2, nil, token)
		if len(page) == 0 {
			break
		}
		for _, j := range page {
			assert.False(t, seen[j.ID], "job %s visited twice", j.ID)
			seen[j.ID] = true
			ordered = append(ordered, j.ID)
		}
		if next == "" {
			break
		}
		token = next
	}

	assert.Len(t, seen, 5)
	assert.Equal(t, []string{"j1", "j2", "j3", "j4", "j5"}, ordered)
}

func TestListFiltersByStatusSet(t *testing.T) {
	r := New(nil)
	r.Insert(newJob("j1", model.StatusQueued))
	r.Insert(newJob("j2", model.StatusCompleted))

	page, _ := r.List(10, map[model.Status]bool{model.StatusCompleted: true}, "")
	require.Len(t, page, 1)
	assert.Equal(t, "j2", page[0].ID)
}

func TestSubscribePublishDeliversSnapshot(t *testing.T) {
	r := New(nil)
	j := newJob("j1", model.StatusInProgress)
	r.Insert(j)

	ch, unsubscribe := r.Subscribe("j1")
	defer unsubscribe()

	j.SetProgress(50, "encoding")
	r.Publish(j)

	select {
	case snap := <-ch:
		assert.Equal(t, 50, snap.Progress)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published snapshot")
	}
}

func TestCount(t *testing.T) {
	r := New(nil)
	assert.Equal(t, 0, r.Count())
	r.Insert(newJob("j1", model.StatusQueued))
	assert.Equal(t, 1, r.Count())
}
