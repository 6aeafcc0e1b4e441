package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("disk on fire")
	err := fmt.Errorf("put: %w", WrapError(RetCTransient, "transaction aborted", cause))

	assert.ErrorIs(t, err, ErrTransient)
	assert.NotErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "put: StoreError (code Transient): transaction aborted: disk on fire", err.Error())

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, RetCTransient, serr.Code)
}

func TestBaseImplementations(t *testing.T) {
	data := map[uint64][]byte{}
	put := func(id uint64, v []byte) error {
		if id == 0 {
			return NewError(RetCInvalidOperation, "id 0")
		}
		data[id] = v
		return nil
	}
	get := func(id uint64) ([]byte, bool, error) {
		v, ok := data[id]
		return v, ok, nil
	}

	require.NoError(t, PutEach(put, map[uint64][]byte{1: {1}, 2: {2}}))
	got, err := GetEach(get, []uint64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[uint64][]byte{1: {1}, 2: {2}}, got)

	assert.ErrorIs(t, PutEach(put, map[uint64][]byte{0: {0}}), ErrInvalid)
}
