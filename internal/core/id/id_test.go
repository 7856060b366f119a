package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsTimeOrdered(t *testing.T) {
	a := New()
	b := New()
	assert.Equal(t, 7, int(a.Version()))
	assert.Less(t, a.String(), b.String())
}

func TestPtr(t *testing.T) {
	assert.Nil(t, Ptr(ID{}))

	v := New()
	p := Ptr(v)
	require.NotNil(t, p)
	assert.Equal(t, v, *p)
}
