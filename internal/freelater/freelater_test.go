package freelater

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetireNotFreedBeforeGrace(t *testing.T) {
	var freed []interface{}
	p := NewWithGrace(time.Minute, func(v interface{}) { freed = append(freed, v) })

	now := time.Unix(1000, 0)
	p.nowFn = func() time.Time { return now }

	p.Retire("a")
	require.Equal(t, 1, p.Pending())

	n := p.Drain()
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, p.Pending())
	assert.Empty(t, freed)
}

func TestDrainReleasesAfterGrace(t *testing.T) {
	var freed []interface{}
	p := NewWithGrace(7*time.Second, func(v interface{}) { freed = append(freed, v) })

	cur := time.Unix(1000, 0)
	p.nowFn = func() time.Time { return cur }

	p.Retire("a")
	p.Retire("b")

	cur = cur.Add(8 * time.Second)
	n := p.Drain()

	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []interface{}{"a", "b"}, freed)
	assert.Equal(t, 0, p.Pending())
}

func TestDrainIsIdempotentOnEmptyPool(t *testing.T) {
	p := NewWithGrace(time.Second, nil)
	assert.Equal(t, 0, p.Drain())
}