package encoder

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickletour/courtlive/pkg/capture"
)

func TestAudioAdapterEmitsOggChunks(t *testing.T) {
	assert := assert.New(t)

	platform := capture.NewSynthetic()
	platform.Paced = false
	src, err := platform.OpenAudio(capture.AudioConstraints{})
	require.NoError(t, err)
	defer src.Close()

	var mu sync.Mutex
	var chunks [][]byte
	a := NewAudioAdapter(src)
	require.NoError(t, a.Start(context.Background(), func(b []byte) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, b)
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	a.Stop()
	a.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.True(bytes.HasPrefix(chunks[0], []byte("OggS")))
	// headers come first, then pages
	assert.True(bytes.Contains(chunks[0], []byte("OpusHead")))
	for _, c := range chunks {
		assert.NotEmpty(c)
		assert.True(bytes.HasPrefix(c, []byte("OggS")))
	}
	assert.False(bytes.Contains(chunks[1], []byte("OpusHead")))
}

func TestAudioAdapterStopBeforeStart(t *testing.T) {
	assert := assert.New(t)

	src, err := capture.NewSynthetic().OpenAudio(capture.AudioConstraints{})
	require.NoError(t, err)
	defer src.Close()

	a := NewAudioAdapter(src)
	a.Stop()
	assert.ErrorIs(a.Start(context.Background(), func([]byte) {}), ErrClosed)
}

func TestOggChunkerCutsEveryFiveFrames(t *testing.T) {
	assert := assert.New(t)

	o := &oggChunker{channels: 1}
	var emitted int
	for i := 0; i < 4*FramesPerChunk; i++ {
		chunk, err := o.add([]byte{0xf8, 0xff, 0xfe})
		require.NoError(t, err)
		if chunk != nil {
			emitted++
			assert.Zero((i + 1) % FramesPerChunk)
		}
	}
	assert.Equal(4, emitted)
}
