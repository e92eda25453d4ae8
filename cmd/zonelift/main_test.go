package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/credstore"
)

func TestStatusExitMapping(t *testing.T) {
	assert.Equal(t, 0, statusExit(credstore.StatusValid))
	assert.Equal(t, 6, statusExit(credstore.StatusExpiringSoon))
	assert.Equal(t, 7, statusExit(credstore.StatusExpired))
	assert.Equal(t, 8, statusExit(credstore.StatusMissing))
}

func TestCheckPairsExpansion(t *testing.T) {
	rt = config.Defaults()
	rt.Services = map[string]config.ServicePolicy{
		"beta":  {Accounts: []string{"a", "b"}},
		"alpha": {},
	}
	t.Cleanup(func() {
		rt = config.Runtime{}
		flagService, flagAccount = "", ""
	})

	flagService, flagAccount = "", ""
	assert.Equal(t, [][2]string{
		{"alpha", "default"},
		{"beta", "a"},
		{"beta", "b"},
	}, checkPairs())

	flagService = "beta"
	flagAccount = "b"
	assert.Equal(t, [][2]string{{"beta", "b"}}, checkPairs())

	// Unknown services fall back to the implicit single account.
	flagService, flagAccount = "gamma", ""
	assert.Equal(t, [][2]string{{"gamma", "default"}}, checkPairs())
}
