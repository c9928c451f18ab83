package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJobRejectsInvalidExpression(t *testing.T) {
	s := New()
	defer s.Stop()

	assert.Error(t, s.AddJob("not a cron", func() {}))
	assert.Error(t, s.AddJob("* * * * * *", func() {}))
	require.NoError(t, s.AddJob("*/15 * * * *", func() {}))
	require.NoError(t, s.AddJob("@every 1m", func() {}))
	assert.Equal(t, 2, s.Entries())
}

func TestAddScanRunsWithDeadline(t *testing.T) {
	s := New()
	defer s.Stop()

	done := make(chan bool, 1)
	err := s.AddScan(context.Background(), "@every 1s", time.Minute, func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		select {
		case done <- hasDeadline:
		default:
		}
		return errors.New("ignored")
	})
	require.NoError(t, err)

	select {
	case hasDeadline := <-done:
		assert.True(t, hasDeadline)
	case <-time.After(3 * time.Second):
		t.Fatal("scan job never ran")
	}
}

func TestAddScanSkipsAfterCancel(t *testing.T) {
	s := New()
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := make(chan struct{}, 1)
	require.NoError(t, s.AddScan(ctx, "@every 1s", time.Minute, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))

	select {
	case <-ran:
		t.Fatal("scan ran after its context was cancelled")
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestFields(t *testing.T) {
	f := fields([]interface{}{"entry", 1, "next", "soon", 42})
	assert.Equal(t, logrus.Fields{"entry": 1, "next": "soon"}, f)
}
