package transport

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	done := make(chan error, 1)
	go func() {
		done <- a.WriteAll([]byte("hello"))
	}()
	got, err := b.ReadExact(5)
	assert.NilError(t, err)
	assert.NilError(t, <-done)
	assert.Equal(t, string(got), "hello")
}

func TestPipeReadExactShortReadsEOF(t *testing.T) {
	a, b := Pipe()
	go func() {
		_ = a.WriteAll([]byte("ab"))
		_ = a.CloseWrite()
	}()
	_, err := b.ReadExact(10)
	assert.Assert(t, err != nil)
}

func TestPipeCloseIdempotent(t *testing.T) {
	a, _ := Pipe()
	assert.NilError(t, a.CloseWrite())
	assert.NilError(t, a.CloseWrite())
	assert.NilError(t, a.CloseRead())
}
