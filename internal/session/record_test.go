package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sessionstore/internal/clock"
)

func TestRecord_WithStampsAndCopies(t *testing.T) {
	c := clock.New(10)
	r := NewRecord(c.Tick(), epoch)

	r2 := r.With("foo", "bar", c)

	assert.Equal(t, 0, r.Len())
	v, ok := r2.Get("foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", v)
	assert.Equal(t, int64(12), r2.LastModified)
	assert.Greater(t, r2.LastModified, r.LastModified)
}

func TestRecord_Without(t *testing.T) {
	c := clock.New(0)
	r := NewRecord(c.Tick(), epoch).With("a", 1, c)

	r2 := r.Without("a", c)
	_, ok := r2.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
	assert.Greater(t, r2.LastModified, r.LastModified)
}

func TestRecord_InvalidateBumpsStamp(t *testing.T) {
	c := clock.New(0)
	r := NewRecord(c.Tick(), epoch)

	r2 := r.Invalidate(c)
	assert.True(t, r2.Invalid)
	assert.False(t, r.Invalid)
	assert.Greater(t, r2.LastModified, r.LastModified)
}

func TestRecord_TouchKeepsStamp(t *testing.T) {
	c := clock.New(0)
	r := NewRecord(c.Tick(), epoch)

	later := epoch.Add(time.Hour)
	r2 := r.Touch(later)
	assert.Equal(t, r.LastModified, r2.LastModified)
	assert.Equal(t, later, r2.LastAccessed)
	assert.Equal(t, epoch, r.LastAccessed)
}

func TestCredentials(t *testing.T) {
	a := &Credentials{Login: "alice", Password: "secret"}

	assert.True(t, a.Equal(&Credentials{Login: "alice", Password: "secret"}))
	assert.True(t, a.Equal(Credentials{Login: "alice", Password: "secret"}))
	assert.False(t, a.Equal(&Credentials{Login: "alice", Password: "nope"}))
	assert.False(t, a.Equal("alice"))
	assert.Equal(t, "Credentials (alice, ****)", a.String())
	assert.NotContains(t, a.String(), "secret")
}
