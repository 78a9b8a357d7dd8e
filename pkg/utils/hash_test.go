package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortHash(t *testing.T) {
	assert.Len(t, ShortHash("shop.myshopify.com|How are sales?"), 16)

	// First 16 hex chars of SHA-256("").
	assert.Equal(t, "e3b0c44298fc1c14", ShortHash(""))

	assert.Equal(t, ShortHash("same input"), ShortHash("same input"))
	assert.NotEqual(t, ShortHash("input a"), ShortHash("input b"))
}
