package generic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_ResetsOnPut(t *testing.T) {
	created := 0
	p := NewPool(func() *bytes.Buffer {
		created++
		return new(bytes.Buffer)
	}, (*bytes.Buffer).Reset)

	buf := p.Get()
	assert.Equal(t, 1, created)
	buf.WriteString("stale")
	p.Put(buf)
	assert.Zero(t, buf.Len())

	// sync.Pool may or may not hand the same value back; either way it is empty
	assert.Zero(t, p.Get().Len())
}

func TestPool_NilReset(t *testing.T) {
	p := NewPool(func() []int { return make([]int, 0, 4) }, nil)
	s := p.Get()
	assert.Equal(t, 4, cap(s))
	assert.NotPanics(t, func() { p.Put(s) })
}
