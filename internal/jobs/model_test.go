package jobs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpilot/internal/storage"
)

func TestJobUpdateApply(t *testing.T) {
	aff := "aff-1"
	cur := storage.Job{
		ID: 4, Name: "old", ScheduleTime: "06:30", Timezone: "UTC",
		SelectedNiches: []string{"tech"}, Tones: []string{"friendly"},
		AffiliateID: &aff, IsActive: true, TotalRuns: 7,
	}

	got := JobUpdate{
		Name:           strPtr("  new  "),
		SelectedNiches: &[]string{"beauty", "beauty", " fitness "},
		AffiliateID:    strPtr(""),
		UseSmartStyle:  boolPtr(true),
	}.apply(cur)

	assert.Equal(t, "new", got.Name)
	assert.Equal(t, []string{"beauty", "fitness"}, got.SelectedNiches)
	assert.Nil(t, got.AffiliateID, "empty string clears")
	assert.True(t, got.UseSmartStyle)
	assert.Equal(t, "06:30", got.ScheduleTime)
	assert.Equal(t, 7, got.TotalRuns)

	require.NotNil(t, cur.AffiliateID)
	assert.Equal(t, []string{"tech"}, cur.SelectedNiches, "apply must not alias the current job")
}

func TestDefaultsFallbacks(t *testing.T) {
	d := Defaults{Tones: []string{"bold"}}.withFallbacks()
	assert.Equal(t, []string{"bold"}, d.Tones)
	assert.Equal(t, "UTC", d.Timezone)
	assert.Equal(t, "claude", d.AIModel)

	j := CreateRequest{Name: "x", ScheduleTime: "06:30", SelectedNiches: []string{"a"}}.toJob(d)
	assert.Equal(t, []string{"bold"}, j.Tones)
	j.Tones[0] = "mutated"
	assert.Equal(t, "bold", d.Tones[0], "defaults must be copied")
	assert.True(t, j.IsActive)
	assert.NoError(t, validateDefinition(j))
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var k keyedMutex
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(1)
			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
	assert.Empty(t, k.locks)
}
