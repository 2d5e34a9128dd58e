package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoColorStylesPassThrough(t *testing.T) {
	s := NoColorStyles()
	assert.Equal(t, "hello", s.Header.Render("hello"))
	assert.Equal(t, "hello", s.Error.Render("hello"))
}

func TestGetStyles(t *testing.T) {
	assert.Equal(t, NoColorStyles(), GetStyles(true))
}
