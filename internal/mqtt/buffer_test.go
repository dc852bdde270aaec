package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newRingBuffer[bufferedMsg](10)
	assert.Nil(t, rb.drainAll())
}

func TestRingBufferPushAndDrain(t *testing.T) {
	rb := newRingBuffer[bufferedMsg](10)
	for i := 0; i < 5; i++ {
		assert.False(t, rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}}))
	}

	got := rb.drainAll()
	require.Len(t, got, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, byte(i), got[i].payload[0], "item %d", i)
	}

	assert.Nil(t, rb.drainAll(), "second drain should be empty")
}

func TestRingBufferOverflowDropsOldest(t *testing.T) {
	const capacity = 5
	rb := newRingBuffer[bufferedMsg](capacity)

	// Push 0..7, the buffer keeps the most recent 5 (3..7)
	dropped := 0
	for i := 0; i < capacity+3; i++ {
		if rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}}) {
			dropped++
		}
	}
	assert.Equal(t, 3, dropped)
	assert.Equal(t, 3, rb.dropped)

	got := rb.drainAll()
	require.Len(t, got, capacity)
	for i := 0; i < capacity; i++ {
		assert.Equal(t, byte(i+3), got[i].payload[0], "item %d", i)
	}
	assert.Zero(t, rb.dropped, "drain resets the drop counter")
}

func TestRingBufferMultipleCycles(t *testing.T) {
	rb := newRingBuffer[bufferedMsg](5)

	for i := 0; i < 3; i++ {
		rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}})
	}
	require.Len(t, rb.drainAll(), 3)

	for i := 10; i < 14; i++ {
		rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}})
	}
	got := rb.drainAll()
	require.Len(t, got, 4)
	for i, msg := range got {
		assert.Equal(t, byte(10+i), msg.payload[0])
	}
}

func TestRingBufferLen(t *testing.T) {
	rb := newRingBuffer[bufferedMsg](10)
	assert.Zero(t, rb.len())

	rb.push(bufferedMsg{topic: "t"})
	rb.push(bufferedMsg{topic: "t"})
	assert.Equal(t, 2, rb.len())

	rb.drainAll()
	assert.Zero(t, rb.len())
}

func TestRingBufferMinimumCapacity(t *testing.T) {
	rb := newRingBuffer[bufferedMsg](0)
	rb.push(bufferedMsg{topic: "a"})
	assert.True(t, rb.push(bufferedMsg{topic: "b"}))
	got := rb.drainAll()
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].topic)
}

func TestRingBufferPreservesFields(t *testing.T) {
	rb := newRingBuffer[bufferedMsg](10)
	rb.push(bufferedMsg{
		topic:    TopicProduction,
		payload:  []byte(`{"type":"production_record"}`),
		qos:      1,
		retained: true,
	})

	got := rb.drainAll()
	require.Len(t, got, 1)
	assert.Equal(t, TopicProduction, got[0].topic)
	assert.Equal(t, `{"type":"production_record"}`, string(got[0].payload))
	assert.Equal(t, byte(1), got[0].qos)
	assert.True(t, got[0].retained)
}

func TestRingBufferGenericPayload(t *testing.T) {
	rb := newRingBuffer[int](2)
	rb.push(1)
	rb.push(2)
	rb.push(3)
	assert.Equal(t, []int{2, 3}, rb.drainAll())
}
