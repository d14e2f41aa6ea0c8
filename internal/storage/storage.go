// Package storage is the filesystem-backed byte store: a staging root
// for in-flight chunks and assembled source videos, and an output root
// holding one subdirectory per job.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/reelforge/transcoder/internal/xerrors"
)

// Storage roots the staging and output trees under configured
// directories. All paths it returns are namespaced so workers and the
// upload layer never collide: chunk files by upload id, assembled
// sources by video id, job outputs under per-job subdirectories.
type Storage struct {
	stagingRoot string
	outputRoot  string
}

// New creates a Storage rooted at stagingRoot/outputRoot, creating both
// directories if absent. The caller should treat a non-nil error as
// unrecoverable: there's nowhere to put chunks or outputs without them.
func New(stagingRoot, outputRoot string) (*Storage, error) {
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating staging root %s: %w", stagingRoot, err)
	}
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating output root %s: %w", outputRoot, err)
	}
	return &Storage{stagingRoot: stagingRoot, outputRoot: outputRoot}, nil
}

func (s *Storage) chunkPath(uploadID string, seq int) string {
	return filepath.Join(s.stagingRoot, fmt.Sprintf("%s_%d", uploadID, seq))
}

// PutChunk writes the full contents of b to the chunk file for
// (uploadID, seq). It writes to a temporary name first and renames into
// place so a reader never observes a partial chunk file.
func (s *Storage) PutChunk(uploadID string, seq int, b []byte) (string, error) {
	final := s.chunkPath(uploadID, seq)
	tmp := final + ".part"

	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", xerrors.InternalErr("storage.put_chunk", fmt.Errorf("writing chunk: %w", err))
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", xerrors.InternalErr("storage.put_chunk", fmt.Errorf("finalizing chunk: %w", err))
	}
	return final, nil
}

// RemoveChunk deletes a chunk file, e.g. one superseded by a later write
// for the same sequence number.
func (s *Storage) RemoveChunk(path string) {
	os.Remove(path)
}

// AssembleInput is the minimal view Assemble needs of a completed upload
// session: the ordered chunk paths and the extension to give the
// resulting video file.
type AssembleInput struct {
	ChunkPaths  map[int]string // seq -> path
	TotalChunks int
	Extension   string // dot included, empty if absent
}

// Assemble concatenates chunk files in ascending sequence order into a
// freshly minted video id's file, deleting the chunk files once the
// assembled file has been renamed into place.
// A missing sequence in [0, TotalChunks) fails the operation without
// leaving a partial output file visible.
func (s *Storage) Assemble(in AssembleInput) (videoID string, path string, err error) {
	for seq := 0; seq < in.TotalChunks; seq++ {
		if _, ok := in.ChunkPaths[seq]; !ok {
			return "", "", xerrors.InternalErr("storage.assemble", fmt.Errorf("missing chunk sequence %d", seq))
		}
	}

	videoID = uuid.NewString()
	finalPath := filepath.Join(s.stagingRoot, videoID+in.Extension)
	tmpPath := finalPath + ".assembling"

	out, err := os.Create(tmpPath)
	if err != nil {
		return "", "", xerrors.InternalErr("storage.assemble", fmt.Errorf("creating assembled file: %w", err))
	}

	assembleErr := func() error {
		defer out.Close()
		for seq := 0; seq < in.TotalChunks; seq++ {
			chunkPath := in.ChunkPaths[seq]
			chunkFile, err := os.Open(chunkPath)
			if err != nil {
				return fmt.Errorf("opening chunk %d: %w", seq, err)
			}
			_, copyErr := io.Copy(out, chunkFile)
			chunkFile.Close()
			if copyErr != nil {
				return fmt.Errorf("copying chunk %d: %w", seq, copyErr)
			}
		}
		return nil
	}()

	if assembleErr != nil {
		os.Remove(tmpPath)
		return "", "", xerrors.InternalErr("storage.assemble", assembleErr)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", "", xerrors.InternalErr("storage.assemble", fmt.Errorf("finalizing assembled file: %w", err))
	}

	for seq := 0; seq < in.TotalChunks; seq++ {
		os.Remove(in.ChunkPaths[seq])
	}

	return videoID, finalPath, nil
}

// CreateJobOutputDir creates and returns <output>/<job_id>/.
func (s *Storage) CreateJobOutputDir(jobID string) (string, error) {
	dir := filepath.Join(s.outputRoot, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.InternalErr("storage.create_job_output_dir", err)
	}
	return dir, nil
}

// OutputPath returns <output>/<job_id>/<video_id>_<format_name>.<container>.
func (s *Storage) OutputPath(jobID, videoID, formatName, container string) string {
	name := fmt.Sprintf("%s_%s.%s", videoID, formatName, strings.TrimPrefix(container, "."))
	return filepath.Join(s.outputRoot, jobID, name)
}

// LocateVideo returns the first file in the staging root whose name
// starts with videoID. More than one match is not defined behavior; this
// implementation picks the lexicographically first and is deterministic,
// but callers should treat a collision as a bug upstream (distinct video
// ids should never share a prefix since they're UUIDs).
func (s *Storage) LocateVideo(videoID string) (string, error) {
	entries, err := os.ReadDir(s.stagingRoot)
	if err != nil {
		return "", xerrors.InternalErr("storage.locate_video", err)
	}

	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), videoID) {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) == 0 {
		return "", xerrors.NotFoundErr("storage.locate_video", xerrors.ErrVideoNotFound)
	}
	sort.Strings(matches)
	return filepath.Join(s.stagingRoot, matches[0]), nil
}

// ChunkSeqFromName extracts the sequence number encoded in a chunk file's
// base name (<upload_id>_<seq>); ok is false if name is not a chunk file
// of uploadID.
func ChunkSeqFromName(uploadID, name string) (int, bool) {
	prefix := uploadID + "_"
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return 0, false
	}
	return seq, true
}
