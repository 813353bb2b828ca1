package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/apperr"
	"planline/internal/domain"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Conflict(nil, "stale"), 3},
		{fmt.Errorf("wrapped: %w", apperr.NotOwner(nil, "held by bob")), 3},
		{apperr.NotFound("story %s", "x"), 4},
		{apperr.InvalidArgument("bad"), 2},
		{apperr.InvalidState("done"), 2},
		{apperr.Busy(errors.New("locked")), 75},
		{errors.New("disk on fire"), 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, exitCode(tc.err), tc.err.Error())
	}
}

func TestParseIdx(t *testing.T) {
	n, err := parseIdx("3")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, bad := range []string{"0", "-1", "x"} {
		_, err := parseIdx(bad)
		assert.Error(t, err, bad)
	}
}

func TestProgressAndAgo(t *testing.T) {
	assert.Equal(t, "-", progress(domain.Progress{}))
	assert.Equal(t, "1/4 (25%)", progress(domain.Progress{Done: 1, Total: 4}))
	assert.Equal(t, "garbage", ago("garbage"))
	past := time.Now().Add(-3 * time.Hour).UTC().Format(domain.TimeLayout)
	assert.Equal(t, "3 hours ago", ago(past))
}

func TestParseCriteria(t *testing.T) {
	got := parseCriteria([]string{"[x] logs in", "[ ] logs out", "  plain  ", "[X]shouting"})
	assert.Equal(t, []domain.AcceptanceCriterion{
		{Criterion: "logs in", Met: true},
		{Criterion: "logs out"},
		{Criterion: "plain"},
		{Criterion: "shouting", Met: true},
	}, got)
}

func TestCommandTree(t *testing.T) {
	registerCommands()
	t.Cleanup(func() { rootCmd.ResetCommands() })
	for _, path := range [][]string{
		{"task", "reserve"},
		{"version", "switch"},
		{"doc", "put"},
		{"tool", "call"},
		{"log", "tail"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
