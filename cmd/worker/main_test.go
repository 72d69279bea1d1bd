package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogsync/internal/config"
	"github.com/JonMunkholm/catalogsync/internal/jobs"
)

func TestSchedule(t *testing.T) {
	cron, err := schedule(config.WorkerConfig{})
	require.NoError(t, err)
	assert.Empty(t, cron)

	cron, err = schedule(config.WorkerConfig{
		FeedPath:     "/feeds/nightly.xml",
		Schedule:     "0 3 * * *",
		ScheduleMode: "full",
		Queue:        "ingest",
	})
	require.NoError(t, err)
	require.Len(t, cron, 1)
	assert.Equal(t, "0 3 * * *", cron[0].Spec)
	assert.Equal(t, jobs.TaskIngest, cron[0].Task.Type())

	var payload jobs.IngestPayload
	require.NoError(t, json.Unmarshal(cron[0].Task.Payload(), &payload))
	assert.Equal(t, "/feeds/nightly.xml", payload.Source)
	assert.EqualValues(t, "full", payload.Mode)
}
