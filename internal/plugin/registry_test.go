package plugin

import (
	"context"
	"testing"

	"github.com/TrueNorthTeamsAI/agent-orchestrator/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct{ calls int }

func (f *fakeNotifier) Notify(ctx context.Context, event contracts.NotificationEvent) error {
	f.calls++
	return nil
}

func TestKeySplitKeyRoundTrip(t *testing.T) {
	slot, name, ok := SplitKey(Key(SlotTracker, "github"))
	require.True(t, ok)
	assert.Equal(t, SlotTracker, slot)
	assert.Equal(t, "github", name)
}

func TestSplitKeyRejectsMultipleColons(t *testing.T) {
	_, _, ok := SplitKey("tracker:git:hub")
	assert.False(t, ok)
}

func TestRegistryGetMiss(t *testing.T) {
	r := NewRegistry()
	_, err := NotifierPlugin(r, "slack")
	require.Error(t, err)
}

func TestRegistryTypedLookup(t *testing.T) {
	r := NewRegistry()
	n := &fakeNotifier{}
	r.Register(SlotNotifier, "slack", n)

	got, err := NotifierPlugin(r, "slack")
	require.NoError(t, err)
	require.NoError(t, got.Notify(context.Background(), contracts.NotificationEvent{}))
	assert.Equal(t, 1, n.calls)
}

func TestRegistryWrongTypeFails(t *testing.T) {
	r := NewRegistry()
	r.Register(SlotNotifier, "bogus", "not-a-notifier")
	_, err := NotifierPlugin(r, "bogus")
	require.Error(t, err)
}

func TestNamesSortedAndScopedToSlot(t *testing.T) {
	r := NewRegistry()
	r.Register(SlotNotifier, "slack", &fakeNotifier{})
	r.Register(SlotNotifier, "email", &fakeNotifier{})
	r.Register(SlotTracker, "github", &fakeNotifier{})

	assert.Equal(t, []string{"email", "slack"}, r.Names(SlotNotifier))
}
