package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"ecoswarm/internal/sink"
	"ecoswarm/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{MaxAttempts: 3, BackoffBase: time.Millisecond}
}

func okHandler(counter *atomic.Int64) Handler {
	return func(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error) {
		counter.Add(1)
		return types.SwarmResult{OK: true}, nil
	}
}

func TestPublish_DeliversToExplicitTargets(t *testing.T) {
	b := New(nil, zap.NewNop(), testConfig())

	var risk, grant atomic.Int64
	b.Subscribe("RiskAgent", okHandler(&risk))
	b.Subscribe("GrantAgent", okHandler(&grant))

	msg := types.NewMessage("assessRisk", "test", []string{"RiskAgent"}, nil)
	require.NoError(t, b.Publish(context.Background(), msg))

	assert.Equal(t, int64(1), risk.Load())
	assert.Equal(t, int64(0), grant.Load(), "untargeted role must not receive the message")
}

// An empty To list broadcasts to every currently registered role, exactly
// once per registered handler.
func TestPublish_EmptyToBroadcastsToAllRoles(t *testing.T) {
	b := New(nil, zap.NewNop(), testConfig())

	var a, b1, b2 atomic.Int64
	b.Subscribe("RoleA", okHandler(&a))
	b.Subscribe("RoleB", okHandler(&b1))
	b.Subscribe("RoleB", okHandler(&b2))

	msg := types.NewMessage("propose", "test", nil, nil)
	require.NoError(t, b.Publish(context.Background(), msg))

	assert.Equal(t, int64(1), a.Load())
	assert.Equal(t, int64(1), b1.Load())
	assert.Equal(t, int64(1), b2.Load())
}

// A handler that always fails is attempted exactly MaxAttempts times, then
// dead-lettered and never retried again.
func TestPublish_RetryBoundAndDeadLetter(t *testing.T) {
	b := New(nil, zap.NewNop(), Config{MaxAttempts: 3, BackoffBase: 5 * time.Millisecond})

	var attempts atomic.Int64
	b.Subscribe("RiskAgent", func(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error) {
		attempts.Add(1)
		return types.SwarmResult{}, errors.New("sensor offline")
	})

	start := time.Now()
	msg := types.NewMessage("assessRisk", "test", []string{"RiskAgent"}, nil)
	require.NoError(t, b.Publish(context.Background(), msg), "handler failure is non-fatal to the publish call")
	elapsed := time.Since(start)

	assert.Equal(t, int64(3), attempts.Load())
	// Two intermediate delays, doubling: 5ms then 10ms.
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)

	letters := b.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, "RiskAgent", letters[0].Role)
	assert.Equal(t, msg.ID, letters[0].Message.ID)
	assert.Contains(t, letters[0].Error, "sensor offline")
	assert.False(t, letters[0].At.IsZero())

	// Dead letters are never retried: a fresh publish attempts again, but the
	// earlier failure stays settled.
	require.NoError(t, b.Publish(context.Background(), msg))
	assert.Equal(t, int64(6), attempts.Load())
	assert.Len(t, b.DeadLetters(), 2)
}

// One failing handler must not block delivery to the other handler of the
// same role.
func TestPublish_FanOutIndependence(t *testing.T) {
	b := New(nil, zap.NewNop(), testConfig())

	var succeeded atomic.Int64
	b.Subscribe("RiskAgent", func(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error) {
		return types.SwarmResult{}, errors.New("always fails")
	})
	b.Subscribe("RiskAgent", okHandler(&succeeded))

	msg := types.NewMessage("assessRisk", "test", []string{"RiskAgent"}, nil)
	require.NoError(t, b.Publish(context.Background(), msg))

	assert.Equal(t, int64(1), succeeded.Load())
	assert.Len(t, b.DeadLetters(), 1)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	b := New(nil, zap.NewNop(), testConfig())

	var count atomic.Int64
	unsub := b.Subscribe("RoleA", okHandler(&count))

	msg := types.NewMessage("propose", "test", []string{"RoleA"}, nil)
	require.NoError(t, b.Publish(context.Background(), msg))
	unsub()
	require.NoError(t, b.Publish(context.Background(), msg))

	assert.Equal(t, int64(1), count.Load())
}

// captureSink records appended events for assertions.
type captureSink struct {
	mu   sync.Mutex
	recs []sink.Record
}

func (s *captureSink) Append(rec sink.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *captureSink) records() []sink.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sink.Record, len(s.recs))
	copy(out, s.recs)
	return out
}

func TestPublish_AppendsAuditRecords(t *testing.T) {
	events := &captureSink{}
	b := New(events, zap.NewNop(), testConfig())

	var count atomic.Int64
	b.Subscribe("RoleA", okHandler(&count))
	b.Subscribe("RoleB", func(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error) {
		return types.SwarmResult{}, errors.New("down")
	})

	msg := types.NewMessage("propose", "test", nil, nil)
	require.NoError(t, b.Publish(context.Background(), msg))

	var publishes, deliveries, failures int
	for _, rec := range events.records() {
		switch rec.Kind {
		case sink.KindPublish:
			publishes++
		case sink.KindDelivery:
			deliveries++
		case sink.KindError:
			failures++
			assert.Equal(t, "RoleB", rec.Role)
		}
	}
	assert.Equal(t, 1, publishes)
	assert.Equal(t, 1, deliveries)
	assert.Equal(t, 1, failures)
}

// failingSink always errors; the delivery path must swallow it.
type failingSink struct{}

func (failingSink) Append(sink.Record) error { return errors.New("disk full") }

func TestPublish_SinkFailureDoesNotBlockDelivery(t *testing.T) {
	b := New(failingSink{}, zap.NewNop(), testConfig())

	var count atomic.Int64
	b.Subscribe("RoleA", okHandler(&count))

	msg := types.NewMessage("propose", "test", []string{"RoleA"}, nil)
	require.NoError(t, b.Publish(context.Background(), msg))
	assert.Equal(t, int64(1), count.Load())
}
