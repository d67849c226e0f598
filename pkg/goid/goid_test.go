package goid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/node-manager/pkg/goid"
)

func TestGetGIDDistinct(t *testing.T) {
	self := goid.GetGID()
	assert.NotZero(t, self)
	assert.Equal(t, self, goid.GetGID())

	other := make(chan uint64)
	go func() { other <- goid.GetGID() }()
	assert.NotEqual(t, self, <-other)
}
