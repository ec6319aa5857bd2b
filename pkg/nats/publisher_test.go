package nats

import (
	"testing"

	"wordware-roast-be/pkg/events"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "wordware.completed", Subject(events.TypeRunCompleted))
	assert.Equal(t, "wordware.rolled_back", Subject(events.TypeRunRolledBack))
	assert.Equal(t, "wordware.custom", Subject("CUSTOM"))
}
