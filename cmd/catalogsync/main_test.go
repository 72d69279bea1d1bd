package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/health"
	"github.com/JonMunkholm/catalogsync/internal/pipeline"
)

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("yes\n"), &out, "? "))
	assert.True(t, confirm(strings.NewReader(" YES "), &out, "? "))
	assert.False(t, confirm(strings.NewReader("y\n"), &out, "? "))
	assert.False(t, confirm(strings.NewReader(""), &out, "? "))
	assert.Equal(t, "? ? ? ? ", out.String())
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, pipeline.RunResult{
		RunID:  uuid.New(),
		Status: health.StatusFailed,
		Err:    &catalog.ParseError{Path: "a.xml", Err: errors.New("unsupported feed root <catalog>")},
	})

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "failed", out["status"])
	assert.Contains(t, out["message"], "FEED001")
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, []health.Run{{
		ID:               uuid.New(),
		SyncType:         catalog.SyncFull,
		Status:           health.StatusSucceeded,
		StartTime:        time.Now(),
		DurationSeconds:  1.5,
		RecordsProcessed: 42,
		SourceFile:       "feed.xml",
	}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "RUN ID")
	assert.Contains(t, lines[1], "succeeded")
	assert.Contains(t, lines[1], "1.5s")
	assert.Contains(t, lines[1], "42")
}

func TestRun_UsageErrors(t *testing.T) {
	tests := map[string][]string{
		"no command":        nil,
		"unknown command":   {"export"},
		"missing file":      {"ingest"},
		"unknown mode":      {"ingest", "--file", "feed.xml", "--mode", "weekly"},
		"negative limit":    {"ingest", "--file", "feed.xml", "--limit", "-1"},
		"unknown flag":      {"ingest", "--file", "feed.xml", "--fast"},
		"bad run id":        {"runs", "--id", "not-a-uuid"},
		"missing direction": {"migrate"},
		"bad direction":     {"migrate", "sideways"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, exitUsage, run(args))
		})
	}
}

func TestRun_Help(t *testing.T) {
	assert.Equal(t, exitOK, run([]string{"--help"}))
}

func TestIngestCmd_UnconfirmedPurgeChangesNothing(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader("no\n"))
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"ingest", "--file", "feed.xml", "--purge"})

	err := cmd.Execute()

	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, exitFailure, ee.code)
	assert.Contains(t, out.String(), "Type 'yes' to continue")
}

func TestWithCode(t *testing.T) {
	err := withCode(exitFailure, errRunFailed)
	assert.ErrorIs(t, err, errRunFailed)
	assert.Equal(t, errRunFailed.Error(), err.Error())
}
