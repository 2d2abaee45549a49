package framecache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridline-data/gridline.replay/internal/telemetry"
)

func openTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, path
}

func sampleRace() *telemetry.RaceData {
	lapTime := 92.357
	return &telemetry.RaceData{
		Frames: []*telemetry.Frame{
			{
				Index: 0,
				T:     0,
				Lap:   1,
				Drivers: map[string]*telemetry.DriverFrameRecord{
					"VER": {
						X: 120.5, Y: -44.25, Speed: 287.3,
						Gear: 7, Lap: 1, Position: 1, Tyre: 2,
						Dist: 1403.7, RaceProgress: 1403.7,
						LapTime: &lapTime,
						Status:  telemetry.StatusRunning,
					},
				},
			},
		},
		Drivers: []telemetry.DriverInfo{
			{Code: "VER", Number: "1", Team: "Red Bull", Color: [3]uint8{30, 65, 255}, GridPosition: 1},
		},
		TrackStatus: []telemetry.TrackStatusInterval{
			{Status: telemetry.StatusGreen, Start: 0, End: -1},
		},
		RaceStart:     12.48,
		TotalLaps:     57,
		CircuitLength: 5412.0,
	}
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()
	c, _ := openTestCache(t)
	ctx := context.Background()

	want := sampleRace()
	require.NoError(t, c.Save(ctx, 2025, 4, "R", &Entry{Race: want}))

	got, err := c.Load(ctx, 2025, 4, "R")
	require.NoError(t, err)
	require.NotNil(t, got.Race)
	assert.Nil(t, got.Quali)
	if diff := cmp.Diff(want, got.Race); diff != "" {
		t.Errorf("race mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheQualiRoundTrip(t *testing.T) {
	t.Parallel()
	c, _ := openTestCache(t)
	ctx := context.Background()

	want := &telemetry.QualiCatalog{
		Results: []telemetry.QualiResult{
			{Code: "VER", Name: "Max Verstappen", Position: 1, Q1: 91.2, Q2: 90.8, Q3: 90.1},
		},
		Telemetry: map[string]map[string]*telemetry.SegmentTelemetry{
			"VER": {
				"Q1": {
					Frames: []*telemetry.QualiFrame{
						{T: 0, Telemetry: telemetry.QualiTelemetry{Speed: 280.1, Gear: 6}},
					},
					MaxSpeed: 331.5,
					MinSpeed: 84.2,
				},
			},
		},
		MaxSpeed: 331.5,
		MinSpeed: 84.2,
	}
	require.NoError(t, c.Save(ctx, 2025, 4, "Q", &Entry{Quali: want}))

	got, err := c.Load(ctx, 2025, 4, "Q")
	require.NoError(t, err)
	require.NotNil(t, got.Quali)
	if diff := cmp.Diff(want, got.Quali); diff != "" {
		t.Errorf("quali mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheMiss(t *testing.T) {
	t.Parallel()
	c, _ := openTestCache(t)
	_, err := c.Load(context.Background(), 2025, 1, "R")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCacheSaveReplaces(t *testing.T) {
	t.Parallel()
	c, _ := openTestCache(t)
	ctx := context.Background()

	first := sampleRace()
	require.NoError(t, c.Save(ctx, 2025, 4, "R", &Entry{Race: first}))

	second := sampleRace()
	second.TotalLaps = 71
	require.NoError(t, c.Save(ctx, 2025, 4, "R", &Entry{Race: second}))

	got, err := c.Load(ctx, 2025, 4, "R")
	require.NoError(t, err)
	assert.Equal(t, 71, got.Race.TotalLaps)
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()
	c, _ := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, 2025, 4, "R", &Entry{Race: sampleRace()}))
	require.NoError(t, c.Delete(ctx, 2025, 4, "R"))
	_, err := c.Load(ctx, 2025, 4, "R")
	assert.ErrorIs(t, err, ErrMiss)

	// Deleting an absent key is not an error.
	assert.NoError(t, c.Delete(ctx, 2024, 1, "Q"))
}

func TestCacheKeys(t *testing.T) {
	t.Parallel()
	c, _ := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, 2025, 4, "R", &Entry{Race: sampleRace()}))
	require.NoError(t, c.Save(ctx, 2025, 4, "Q", &Entry{Quali: &telemetry.QualiCatalog{}}))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2025_4_R", "2025_4_Q"}, keys)
}

func TestCacheCorruptPayloadIsMiss(t *testing.T) {
	t.Parallel()
	c, path := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, 2025, 4, "R", &Entry{Race: sampleRace()}))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx,
		`UPDATE sessions SET payload = x'DEADBEEF' WHERE year = 2025 AND round = 4 AND kind = 'R'`)
	require.NoError(t, err)

	_, err = c.Load(ctx, 2025, 4, "R")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cache.db")

	c1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Save(context.Background(), 2025, 9, "R", &Entry{Race: sampleRace()}))
	require.NoError(t, c1.Close())

	// Reopening runs migrations again as a no-op and sees the saved entry.
	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()
	got, err := c2.Load(context.Background(), 2025, 9, "R")
	require.NoError(t, err)
	assert.Equal(t, 57, got.Race.TotalLaps)
}
