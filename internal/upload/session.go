// Package upload implements the chunked-upload reassembly state
// machine: a process-wide table of in-flight Upload Sessions keyed by
// upload id, each accumulating chunks until the client marks one final,
// at which point the session is assembled into a Video through Storage.
//
// The table guards its id->record map with its own RWMutex, with
// per-record fields mutated independently so status readers never
// queue behind a chunk write.
package upload

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/reelforge/transcoder/internal/storage"
	"github.com/reelforge/transcoder/internal/xerrors"
)

// Status is the abstract upload status reported to clients.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// session is the server-side state for one in-flight chunked upload.
// Every field after the mutex is guarded by it.
type session struct {
	mu sync.Mutex

	uploadID    string
	filename    string
	contentType string

	chunks      map[int]string // seq -> staged chunk path
	lastSeen    bool
	totalChunks int // 0 until the final chunk sets it

	assembled bool
	videoID   string
	errMsg    string

	createdAt time.Time
}

func (s *session) extension() string {
	return filepath.Ext(s.filename)
}

// complete reports whether the session has received every chunk in
// [0, totalChunks) and has seen the final chunk. Caller holds s.mu.
func (s *session) complete() bool {
	return s.lastSeen && s.totalChunks > 0 && len(s.chunks) == s.totalChunks
}

// Table is the process-wide Session Table owning every Upload Session.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*session

	storage *storage.Storage
	logger  hclog.Logger
}

// NewTable creates an empty Session Table backed by the given Storage.
func NewTable(store *storage.Storage, logger hclog.Logger) *Table {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Table{
		sessions: make(map[string]*session),
		storage:  store,
		logger:   logger.Named("upload"),
	}
}

// getOrCreate returns the session for uploadID, creating it (and, if
// uploadID is empty, minting a fresh server-chosen id) when absent.
func (t *Table) getOrCreate(uploadID, filename, contentType string) *session {
	if uploadID == "" {
		uploadID = uuid.NewString()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[uploadID]; ok {
		return s
	}

	s := &session{
		uploadID:    uploadID,
		filename:    filename,
		contentType: contentType,
		chunks:      make(map[int]string),
		createdAt:   time.Now(),
	}
	t.sessions[uploadID] = s
	return s
}

// ChunkResult describes the outcome of handing one chunk to a session.
type ChunkResult struct {
	UploadID string
	// Assembled is set once the stream's final chunk has arrived and
	// every prior sequence is present; VideoID is then populated.
	Assembled bool
	VideoID   string
	Err       error
}

// PutChunk accepts one chunk for uploadID (opening a new session if
// uploadID is empty or unseen), writes it to Storage, and — if the
// session is complete once this chunk is recorded (the final chunk has
// been seen and every sequence below it is present) — immediately
// assembles, whichever sequence this chunk carries.
//
// Two concurrent PutChunk calls for the same upload id and different
// sequence numbers both succeed independently; for the same sequence
// number either write may win, a later one replacing an earlier one
// only if neither has been consumed by assembly.
func (t *Table) PutChunk(uploadID, filename, contentType string, seq int, isLast bool, content []byte) ChunkResult {
	s := t.getOrCreate(uploadID, filename, contentType)

	s.mu.Lock()
	if s.assembled {
		s.mu.Unlock()
		return ChunkResult{UploadID: s.uploadID, Err: xerrors.InvalidErr("upload.put_chunk", xerrors.ErrChunkAfterFinal)}
	}
	if s.totalChunks > 0 && seq >= s.totalChunks {
		s.errMsg = xerrors.ErrChunkAfterFinal.Error()
		s.mu.Unlock()
		return ChunkResult{UploadID: s.uploadID, Err: xerrors.InvalidErr("upload.put_chunk", xerrors.ErrChunkAfterFinal)}
	}
	s.mu.Unlock()

	path, err := t.storage.PutChunk(s.uploadID, seq, content)
	if err != nil {
		s.mu.Lock()
		s.errMsg = err.Error()
		s.mu.Unlock()
		return ChunkResult{UploadID: s.uploadID, Err: err}
	}

	s.mu.Lock()
	if old, ok := s.chunks[seq]; ok && old != path {
		t.storage.RemoveChunk(old)
	}
	s.chunks[seq] = path
	if isLast {
		s.lastSeen = true
		if s.totalChunks == 0 {
			s.totalChunks = seq + 1
		}
	}
	ready := s.complete()
	s.mu.Unlock()

	if !ready {
		return ChunkResult{UploadID: s.uploadID}
	}
	return t.assemble(s)
}

// EndStream finalizes uploadID at client stream end. If the session is
// complete it assembles (if not already assembled by a race with the
// final chunk's own completeness check); otherwise it fails the upload
// terminally, recording the incompleteness as the session error.
func (t *Table) EndStream(uploadID string) ChunkResult {
	t.mu.RLock()
	s, ok := t.sessions[uploadID]
	t.mu.RUnlock()
	if !ok {
		return ChunkResult{UploadID: uploadID, Err: xerrors.NotFoundErr("upload.end_stream", xerrors.ErrUploadNotFound)}
	}

	s.mu.Lock()
	if s.assembled {
		videoID := s.videoID
		s.mu.Unlock()
		return ChunkResult{UploadID: uploadID, Assembled: true, VideoID: videoID}
	}
	if !s.complete() {
		s.errMsg = xerrors.ErrUploadIncomplete.Error()
		s.mu.Unlock()
		return ChunkResult{UploadID: uploadID, Err: xerrors.InvalidErr("upload.end_stream", xerrors.ErrUploadIncomplete)}
	}
	s.mu.Unlock()

	return t.assemble(s)
}

// assemble invokes Storage.Assemble for a session already known to be
// complete, publishing the resulting video id or recording the failure.
func (t *Table) assemble(s *session) ChunkResult {
	s.mu.Lock()
	if s.assembled {
		videoID := s.videoID
		s.mu.Unlock()
		return ChunkResult{UploadID: s.uploadID, Assembled: true, VideoID: videoID}
	}
	chunks := make(map[int]string, len(s.chunks))
	for seq, p := range s.chunks {
		chunks[seq] = p
	}
	total := s.totalChunks
	ext := s.extension()
	s.mu.Unlock()

	videoID, _, err := t.storage.Assemble(storage.AssembleInput{
		ChunkPaths:  chunks,
		TotalChunks: total,
		Extension:   ext,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errMsg = err.Error()
		return ChunkResult{UploadID: s.uploadID, Err: err}
	}
	s.assembled = true
	s.videoID = videoID
	s.chunks = map[int]string{}
	t.logger.Debug("assembled upload", "upload_id", s.uploadID, "video_id", videoID)
	return ChunkResult{UploadID: s.uploadID, Assembled: true, VideoID: videoID}
}

// StatusInfo is the abstract status the upload_status RPC reports.
type StatusInfo struct {
	Status        Status
	PercentComplete int
	VideoID       string
	ErrorMessage  string
}

// GetUploadStatus reports the current status of uploadID, computing
// percent from |chunks|/total_chunks, or a coarse 10*|chunks| estimate
// when total_chunks isn't known yet (the final chunk hasn't arrived).
func (t *Table) GetUploadStatus(uploadID string) StatusInfo {
	t.mu.RLock()
	s, ok := t.sessions[uploadID]
	t.mu.RUnlock()
	if !ok {
		return StatusInfo{Status: StatusUnknown}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.errMsg != "" && !s.assembled {
		return StatusInfo{Status: StatusFailed, ErrorMessage: s.errMsg}
	}
	if s.assembled {
		return StatusInfo{Status: StatusCompleted, PercentComplete: 100, VideoID: s.videoID}
	}

	var percent int
	if s.totalChunks > 0 {
		percent = 100 * len(s.chunks) / s.totalChunks
	} else {
		percent = 10 * len(s.chunks)
	}
	if percent > 100 {
		percent = 100
	}
	return StatusInfo{Status: StatusInProgress, PercentComplete: percent}
}
