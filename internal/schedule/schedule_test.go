package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := New(context.Background(), nil)
	_, err := s.Add("every tuesday", func(context.Context) {})
	assert.Error(t, err)
}

func TestScheduler_RunsJobWithContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "base")
	s := New(ctx, nil)

	got := make(chan any, 1)
	_, err := s.Add("@every 1s", func(ctx context.Context) {
		select {
		case got <- ctx.Value(key{}):
		default:
		}
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	select {
	case v := <-got:
		assert.Equal(t, "base", v)
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestScheduler_RecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := New(context.Background(), zap.New(core).Sugar())

	_, err := s.Add("@every 1s", func(context.Context) { panic("boom") })
	require.NoError(t, err)
	s.Start()

	require.Eventually(t, func() bool { return logs.Len() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
	assert.Contains(t, logs.All()[0].Message, "cron: panic")
}
