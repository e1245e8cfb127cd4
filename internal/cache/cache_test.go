package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rideshare/internal/models"
)

// setupMiniredis creates a new miniredis server and a client connected to it.
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleRide() *models.Ride {
	return &models.Ride{ID: "r1", Driver: models.RefTo("d1"), From: "A", To: "B", Status: models.StatusOpen}
}

func TestActiveRides_PutGet(t *testing.T) {
	_, client := setupMiniredis(t)
	c := NewActiveRides(client, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err := c.Generation(ctx, "d1")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "d1", gen, sampleRide()))

	r, ok, err := c.Get(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, "d1", r.DriverID())
}

func TestActiveRides_CachesNoRide(t *testing.T) {
	_, client := setupMiniredis(t)
	c := NewActiveRides(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "u1", 0, nil))
	r, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, r)
}

func TestActiveRides_StaleWriterIsIgnored(t *testing.T) {
	_, client := setupMiniredis(t)
	c := NewActiveRides(client, time.Minute)
	ctx := context.Background()

	// A reader samples the generation, then a mutation invalidates before
	// the reader stores its (now stale) snapshot.
	gen, err := c.Generation(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "p1", "d1"))
	require.NoError(t, c.Put(ctx, "p1", gen, sampleRide()))

	_, ok, err := c.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err = c.Generation(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, gen)
}

func TestActiveRides_EntriesExpire(t *testing.T) {
	mr, client := setupMiniredis(t)
	c := NewActiveRides(client, time.Second)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "d1", 0, sampleRide()))
	mr.FastForward(2 * time.Second)
	_, ok, err := c.Get(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimeline_Get(t *testing.T) {
	mr, client := setupMiniredis(t)
	tl := NewTimeline(client)
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	for k, v := range TimelineFields(string(models.StatusBooked), at) {
		mr.HSet(TimelineKey("r1"), k, v.(string))
	}
	got, err := tl.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, at.Equal(got["booked"]))

	empty, err := tl.Get(context.Background(), "none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTimeline_RejectsCorruptField(t *testing.T) {
	mr, client := setupMiniredis(t)
	mr.HSet(TimelineKey("r1"), "open", "yesterday")
	_, err := NewTimeline(client).Get(context.Background(), "r1")
	assert.Error(t, err)
}
