package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "staging"), filepath.Join(dir, "output"))
	require.NoError(t, err)
	return s
}

func TestPutChunkWritesFullContents(t *testing.T) {
	s := newTestStorage(t)
	path, err := s.PutChunk("up1", 0, []byte("hello"))
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestAssembleConcatenatesInSequenceOrder(t *testing.T) {
	s := newTestStorage(t)

	p2, err := s.PutChunk("up1", 2, []byte("ghi"))
	require.NoError(t, err)
	p0, err := s.PutChunk("up1", 0, []byte("abc"))
	require.NoError(t, err)
	p1, err := s.PutChunk("up1", 1, []byte("def"))
	require.NoError(t, err)

	videoID, path, err := s.Assemble(AssembleInput{
		ChunkPaths:  map[int]string{0: p0, 1: p1, 2: p2},
		TotalChunks: 3,
		Extension:   ".mp4",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, videoID)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghi", string(b))

	for _, p := range []string{p0, p1, p2} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "chunk file should be deleted after assembly")
	}
}

func TestAssembleFailsOnMissingSequence(t *testing.T) {
	s := newTestStorage(t)
	p0, err := s.PutChunk("up1", 0, []byte("abc"))
	require.NoError(t, err)

	_, _, err = s.Assemble(AssembleInput{
		ChunkPaths:  map[int]string{0: p0},
		TotalChunks: 2,
		Extension:   ".mp4",
	})
	assert.Error(t, err)
}

func TestLocateVideoFindsPrefixMatch(t *testing.T) {
	s := newTestStorage(t)
	p0, err := s.PutChunk("up1", 0, []byte("abc"))
	require.NoError(t, err)
	videoID, _, err := s.Assemble(AssembleInput{
		ChunkPaths:  map[int]string{0: p0},
		TotalChunks: 1,
		Extension:   ".mp4",
	})
	require.NoError(t, err)

	found, err := s.LocateVideo(videoID)
	require.NoError(t, err)
	assert.Contains(t, found, videoID)
}

func TestLocateVideoMissingReturnsError(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.LocateVideo("does-not-exist")
	assert.Error(t, err)
}

func TestOutputPathAndJobDir(t *testing.T) {
	s := newTestStorage(t)
	dir, err := s.CreateJobOutputDir("job1")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	p := s.OutputPath("job1", "vid1", "720p", "mp4")
	assert.Equal(t, filepath.Join(dir, "vid1_720p.mp4"), p)
}
