package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestSet() *Set {
	s := NewSet()
	s.items["TEST"] = &mockItem{name: "TEST"}
	return s
}

func TestSetHas(t *testing.T) {
	s := newTestSet()

	assert.True(t, s.Has("TEST"), "should contain label(TEST)")
	assert.False(t, s.Has("FTEST"), "shouldn't contain label(FTEST)")
}

func TestSetRegister(t *testing.T) {
	s := newTestSet()

	mock := &mockItem{name: "TEST"}
	assert.NotNil(t, s.Register("TEST", mock), "registering label(TEST) twice should fail")
	assert.Nil(t, s.Register("TEST1", mock))

	assert.True(t, s.Has("TEST"))
	assert.True(t, s.Has("TEST1"))
}

func TestSetSnapshot(t *testing.T) {
	s := newTestSet()

	snap := s.Snapshot()
	assert.Equal(t, 1, len(snap))
	assert.Equal(t, "TEST", snap["TEST"])

	labels := s.Labels()
	assert.Equal(t, []string{"TEST"}, labels)
}
