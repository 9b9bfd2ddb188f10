package mq

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad payload")
	err := fmt.Errorf("handle: %w", Permanent(base))

	var pe *PermanentError
	assert.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "permanent: bad payload")
}
