package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoginRedirector_FirstWriteWins(t *testing.T) {
	sink := NewLoginRedirector()
	sink.RedirectToLogin("s1", "/audits/1")
	sink.RedirectToLogin("s1", "/audits/2")

	returnTo, ok := sink.Consume("s1")
	assert.True(t, ok)
	assert.Equal(t, "/audits/1", returnTo)
}

func TestLoginRedirector_ConsumePops(t *testing.T) {
	sink := NewLoginRedirector()
	sink.RedirectToLogin("s1", "/audits/1")

	_, ok := sink.Consume("s1")
	assert.True(t, ok)
	_, ok = sink.Consume("s1")
	assert.False(t, ok)
}

func TestLoginRedirector_SessionsAreIndependent(t *testing.T) {
	sink := NewLoginRedirector()
	sink.RedirectToLogin("s1", "/a")
	sink.RedirectToLogin("s2", "/b")

	returnTo, ok := sink.Consume("s2")
	assert.True(t, ok)
	assert.Equal(t, "/b", returnTo)

	returnTo, ok = sink.Consume("s1")
	assert.True(t, ok)
	assert.Equal(t, "/a", returnTo)
}

func TestLoginRedirector_ConsumeUnknownSession(t *testing.T) {
	sink := NewLoginRedirector()
	_, ok := sink.Consume("ghost")
	assert.False(t, ok)
}
