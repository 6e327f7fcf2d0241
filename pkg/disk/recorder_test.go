package disk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	assert := assert.New(t)
	dir := filepath.Join(t.TempDir(), "rec")

	r, err := NewRecorder(dir, "abc")
	require.NoError(t, err)

	assert.NoError(r.WriteVideo([]byte{0, 0, 0, 1, 0x65, 1}))
	assert.NoError(r.WriteVideo([]byte{0, 0, 0, 1, 0x41, 2}))
	assert.NoError(r.WriteAudio([]byte("OggS")))

	video, audio := r.Written()
	assert.EqualValues(12, video)
	assert.EqualValues(4, audio)

	require.NoError(t, r.Close())
	assert.NoError(r.Close())
	assert.ErrorIs(r.WriteVideo([]byte{1}), ErrClosed)

	b, err := os.ReadFile(filepath.Join(dir, "abc.h264"))
	require.NoError(t, err)
	assert.Equal([]byte{0, 0, 0, 1, 0x65, 1, 0, 0, 0, 1, 0x41, 2}, b)

	b, err = os.ReadFile(filepath.Join(dir, "abc.ogg"))
	require.NoError(t, err)
	assert.Equal("OggS", string(b))
}
