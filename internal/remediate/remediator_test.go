package remediate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/healthmon"
)

type recorded struct {
	refreshes []string
	extracts  []string
	cleans    []string
}

func recordingCallbacks(rec *recorded, failCleaners bool) Callbacks {
	return Callbacks{
		RefreshCredentials: func(_ context.Context, service, account string) error {
			rec.refreshes = append(rec.refreshes, service+"/"+account)
			return nil
		},
		RunExtractors: func(_ context.Context, service string) error {
			rec.extracts = append(rec.extracts, service)
			return nil
		},
		RunCleaners: func(_ context.Context, service string) error {
			if failCleaners {
				return errors.New("pass already running")
			}
			rec.cleans = append(rec.cleans, service)
			return nil
		},
	}
}

func testSnapshot() *healthmon.Snapshot {
	return &healthmon.Snapshot{
		TakenAt: time.Now(),
		Actions: []healthmon.AutoAction{
			{Type: healthmon.ActionCookieRefresh, Service: "spotify", Account: "default", Priority: healthmon.PriorityHigh},
			{Type: healthmon.ActionRunCleaners, Service: "gamma", Priority: healthmon.PriorityMedium},
			{Type: healthmon.ActionRunExtractor, Service: "fresh", Priority: healthmon.PriorityMedium},
		},
	}
}

func testConfig() config.Runtime {
	cfg := config.Defaults()
	cfg.RemediationInterval = time.Hour
	return cfg
}

func TestSweepExecutesActionsInOrder(t *testing.T) {
	var rec recorded
	r := New(testConfig(), recordingCallbacks(&rec, false))

	attempted, err := r.Sweep(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, 3, attempted)
	assert.Equal(t, []string{"spotify/default"}, rec.refreshes)
	assert.Equal(t, []string{"gamma"}, rec.cleans)
	assert.Equal(t, []string{"fresh"}, rec.extracts)
}

func TestSweepIsRateLimited(t *testing.T) {
	var rec recorded
	r := New(testConfig(), recordingCallbacks(&rec, false))

	first, err := r.Sweep(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, 3, first)

	// Second sweep inside the interval is suppressed entirely.
	second, err := r.Sweep(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Zero(t, second)
	assert.Len(t, rec.refreshes, 1)
}

func TestFailedActionDoesNotAbortSweep(t *testing.T) {
	var rec recorded
	r := New(testConfig(), recordingCallbacks(&rec, true))

	attempted, err := r.Sweep(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, 3, attempted)
	// Cleaners failed, the extractor action still ran.
	assert.Empty(t, rec.cleans)
	assert.Equal(t, []string{"fresh"}, rec.extracts)
}

func TestEmptySnapshotConsumesNoBudget(t *testing.T) {
	var rec recorded
	r := New(testConfig(), recordingCallbacks(&rec, false))

	n, err := r.Sweep(context.Background(), &healthmon.Snapshot{})
	require.NoError(t, err)
	assert.Zero(t, n)

	// The empty sweep did not burn the rate-limit token.
	n, err = r.Sweep(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
