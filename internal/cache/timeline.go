package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TimelineTTL bounds how long a ride's timeline outlives its last event.
const TimelineTTL = 7 * 24 * time.Hour

func TimelineKey(rideID string) string { return "ride:timeline:" + rideID }

// ReleasedField is the timeline entry for a booked ride going back to open.
const ReleasedField = "released"

// TimelineFields renders one lifecycle step as the hash fields the consumer
// writes. field is a ride status or ReleasedField.
func TimelineFields(field string, at time.Time) map[string]interface{} {
	return map[string]interface{}{field: at.UTC().Format(time.RFC3339Nano)}
}

// Timeline reads the step -> time hash maintained by the event consumer.
// A released ride that is booked again overwrites its earlier booked entry.
type Timeline struct {
	client *redis.Client
}

func NewTimeline(client *redis.Client) *Timeline { return &Timeline{client: client} }

func (t *Timeline) Get(ctx context.Context, rideID string) (map[string]time.Time, error) {
	m, err := t.client.HGetAll(ctx, TimelineKey(rideID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("timeline %s field %s: %w", rideID, k, err)
		}
		out[k] = ts
	}
	return out, nil
}
