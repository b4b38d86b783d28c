package frames

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOf(b byte) Frame {
	var f Frame
	for i := range f {
		f[i] = b
	}
	return f
}

func TestSilenceFrame(t *testing.T) {
	s := Silence()
	assert.Len(t, s.Bytes(), Size)
	for _, b := range s {
		assert.Equal(t, byte(0xFF), b)
	}
	assert.True(t, s.IsSilence())
	assert.False(t, frameOf(0x7F).IsSilence())
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	_, err := FromBytes(make([]byte, 159))
	assert.ErrorIs(t, err, ErrInvalidFrameLength)

	_, err = FromBytes(make([]byte, 161))
	assert.ErrorIs(t, err, ErrInvalidFrameLength)

	f, err := FromBytes(frameOf(3).Bytes())
	require.NoError(t, err)
	assert.Equal(t, frameOf(3), f)
}

func TestEgressQueueFIFO(t *testing.T) {
	q := NewEgressQueue(4)
	q.Push(frameOf(1))
	q.Push(frameOf(2))
	q.Push(frameOf(3))

	for _, want := range []byte{1, 2, 3} {
		f, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, f[0])
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestEgressQueueDropsOldest(t *testing.T) {
	q := NewEgressQueue(3)
	for i := byte(1); i <= 5; i++ {
		q.Push(frameOf(i))
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())
	for _, want := range []byte{3, 4, 5} {
		f, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, f[0])
	}
}

func TestEgressQueueClear(t *testing.T) {
	q := NewEgressQueue(DefaultQueueCapacity)
	assert.Equal(t, 0, q.PushAll([]Frame{frameOf(1), frameOf(2)}))
	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())

	q.Push(frameOf(9))
	f, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, byte(9), f[0])
}

func TestEgressQueueConcurrentProducers(t *testing.T) {
	q := NewEgressQueue(1000)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				q.Push(Silence())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, q.Len())
	assert.Zero(t, q.Dropped())
}
