package errs

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageErrorMatchesKindAndCause(t *testing.T) {
	err := &PageError{Kind: ErrIO, Offset: 10, Msg: "read", Err: io.ErrUnexpectedEOF}

	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, ErrIntegrity)
	assert.Equal(t, "i/o failure: read (offset 10): unexpected EOF", err.Error())
}

func TestWithPageFillsMissingPosition(t *testing.T) {
	err := WithPage(Malformed("bad lacing"), 4096, 3)

	var pe *PageError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, int64(4096), pe.Offset)
	assert.True(t, pe.HasSeq)
	assert.Equal(t, uint32(3), pe.Seq)
	assert.Contains(t, err.Error(), "page 3")
	assert.ErrorIs(t, err, ErrMalformedContainer)
}

func TestWithPageKeepsExistingOffset(t *testing.T) {
	err := WithPage(At(ErrIntegrity, 27, "crc"), 4096, 1)

	var pe *PageError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, int64(27), pe.Offset)
}

func TestIONil(t *testing.T) {
	assert.NoError(t, IO("open", nil))
}
