package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPublisher is a mock implementation of jobs.Publisher.
type MockPublisher struct {
	mu        sync.Mutex
	published []*jobs.Job
	err       error
}

func (m *MockPublisher) Publish(ctx context.Context, job *jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, job)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) types() []jobs.JobType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]jobs.JobType, 0, len(m.published))
	for _, j := range m.published {
		out = append(out, j.Type)
	}
	return out
}

func TestScheduledJobs(t *testing.T) {
	withReparse := scheduledJobs(true)()
	require.Len(t, withReparse, 2)
	assert.Equal(t, jobs.JobTypeSyncMailbox, withReparse[0].Type)
	assert.Equal(t, jobs.JobTypeReparseFacts, withReparse[1].Type)

	assert.Len(t, scheduledJobs(false)(), 1)
}

func TestSchedulePublishesOnEveryTick(t *testing.T) {
	pub := &MockPublisher{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		schedule(ctx, zerolog.Nop(), pub, 10*time.Millisecond, scheduledJobs(false))
		close(done)
	}()

	require.Eventually(t, func() bool { return len(pub.types()) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	for _, typ := range pub.types() {
		assert.Equal(t, jobs.JobTypeSyncMailbox, typ)
	}
}

func TestScheduleKeepsGoingAfterPublishError(t *testing.T) {
	pub := &MockPublisher{err: errors.New("queue is closed")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	schedule(ctx, zerolog.Nop(), pub, time.Hour, scheduledJobs(true))
	assert.Empty(t, pub.types())
}
