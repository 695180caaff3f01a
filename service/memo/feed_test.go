package memo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(name string) Record {
	return Record{Sender: "0xabc", DisplayName: name, Text: "msg from " + name}
}

func TestFeedCache_EmptyView(t *testing.T) {
	c := NewFeedCache()
	assert.Empty(t, c.View())
	assert.True(t, c.LastRefreshedAt().IsZero())
	assert.True(t, c.Stale(time.Now(), time.Hour))
}

func TestFeedCache_ViewIsReversed(t *testing.T) {
	c := NewFeedCache()
	now := time.Now()
	c.Replace([]Record{rec("a"), rec("b"), rec("c")}, now)

	view := c.View()
	require.Len(t, view, 3)
	assert.Equal(t, "c", view[0].DisplayName)
	assert.Equal(t, "b", view[1].DisplayName)
	assert.Equal(t, "a", view[2].DisplayName)
	assert.Equal(t, now, c.LastRefreshedAt())
}

func TestFeedCache_ReplaceCopiesInput(t *testing.T) {
	c := NewFeedCache()
	in := []Record{rec("a"), rec("b")}
	c.Replace(in, time.Now())

	in[0].DisplayName = "mutated"
	assert.Equal(t, "a", c.View()[1].DisplayName)

	out := c.View()
	out[0].DisplayName = "mutated"
	assert.Equal(t, "b", c.View()[0].DisplayName)
}

func TestFeedCache_ErrorKeepsSnapshot(t *testing.T) {
	c := NewFeedCache()
	t0 := time.Now()
	c.Replace([]Record{rec("a")}, t0)

	c.RecordError(errors.New("rpc unavailable. retry later"), t0.Add(time.Minute))
	assert.Equal(t, "rpc unavailable", c.LastError())
	assert.Len(t, c.View(), 1)
	assert.Equal(t, t0, c.LastRefreshedAt())

	c.Replace([]Record{rec("a"), rec("b")}, t0.Add(2*time.Minute))
	assert.Empty(t, c.LastError())
	assert.Equal(t, 2, c.Len())
}

func TestFeedCache_Stale(t *testing.T) {
	c := NewFeedCache()
	t0 := time.Now()
	c.Replace(nil, t0)

	assert.False(t, c.Stale(t0.Add(30*time.Second), time.Minute))
	assert.True(t, c.Stale(t0.Add(2*time.Minute), time.Minute))
}
