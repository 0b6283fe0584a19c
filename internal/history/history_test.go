package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONShape(t *testing.T) {
	e := Event{
		Type:       EventReaped,
		OccurredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Worker:     "flask-backend",
		PID:        4242,
		Trigger:    "window_destroyed",
	}
	b, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"reaped","occurred_at":"2024-01-02T03:04:05Z","worker":"flask-backend","pid":4242,"trigger":"window_destroyed"}`, string(b))
}
