package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avencia/graphrun/internal/adapters/sandbox"
	"github.com/avencia/graphrun/internal/runner"
	"github.com/avencia/graphrun/internal/service"
	"github.com/avencia/graphrun/internal/testutils"
	"github.com/avencia/graphrun/pkg/domain"
	"github.com/avencia/graphrun/pkg/ports"
)

type memMessages struct {
	mu   sync.Mutex
	envs []*domain.Envelope
}

func (m *memMessages) Append(_ context.Context, env *domain.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *env
	m.envs = append(m.envs, &cp)
	return nil
}

func (m *memMessages) List(_ context.Context, sessionID string) ([]*domain.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Envelope
	for _, env := range m.envs {
		if env.SessionID == sessionID {
			out = append(out, env)
		}
	}
	return out, nil
}

type fakeSandbox struct{}

func (fakeSandbox) Run(_ context.Context, req ports.SandboxRequest) (ports.SandboxResult, error) {
	if req.Entrypoint == "boom" {
		return ports.SandboxResult{ReturnCode: 1, Stderr: "RuntimeError"}, nil
	}
	return ports.SandboxResult{Result: map[string]any{"greeting": "hello"}}, nil
}

func startService(t *testing.T) (*testutils.MemBroker, *testutils.MemSessionStore, *memMessages) {
	t.Helper()

	broker := testutils.NewMemBroker()
	sessions := testutils.NewMemSessionStore()
	messages := &memMessages{}

	r := runner.New(broker, fakeSandbox{}, sandbox.NewLocal(), nil, nil, runner.WithSessionStore(sessions))
	svc := service.New(broker, sessions, messages, r)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() {
		cancel()
		svc.Wait()
	})
	return broker, sessions, messages
}

func intakePayload(sessionID, entrypoint string) []byte {
	return []byte(fmt.Sprintf(`{
		"session_id": %q,
		"time_to_live": 60,
		"variables": {"seed": 1},
		"graph": {
			"name": "hello",
			"entry_point": "greet",
			"python_nodes": [{"node_name": "greet", "entrypoint": %q}]
		}
	}`, sessionID, entrypoint))
}

func TestService_RunsIntakeSessionToCompletion(t *testing.T) {
	broker, sessions, messages := startService(t)
	ctx := context.Background()

	require.NoError(t, broker.Publish(ctx, ports.ChannelSchemaIntake, intakePayload("s-ok", "main")))

	require.Eventually(t, func() bool {
		sess, err := sessions.Get(ctx, "s-ok")
		return err == nil && sess.Status == domain.StatusEnd
	}, 3*time.Second, 10*time.Millisecond)

	sess, err := sessions.Get(ctx, "s-ok")
	require.NoError(t, err)
	assert.Equal(t, "hello", sess.GraphName)
	assert.Equal(t, time.Minute, sess.TimeToLive)
	assert.NotNil(t, sess.FinishedAt)
	assert.Equal(t, "hello", sess.Variables["greeting"])
	assert.NotNil(t, sess.GraphSchema["graph"])

	require.Eventually(t, func() bool {
		envs, _ := messages.List(ctx, "s-ok")
		return len(envs) == 2
	}, 3*time.Second, 10*time.Millisecond)

	envs, err := messages.List(ctx, "s-ok")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStart, envs[0].MessageData.Type)
	assert.Equal(t, domain.MessageFinish, envs[1].MessageData.Type)
}

func TestService_FailedNodeMarksSessionError(t *testing.T) {
	broker, sessions, _ := startService(t)
	ctx := context.Background()

	require.NoError(t, broker.Publish(ctx, ports.ChannelSchemaIntake, intakePayload("s-bad", "boom")))

	require.Eventually(t, func() bool {
		sess, err := sessions.Get(ctx, "s-bad")
		return err == nil && sess.Status == domain.StatusError
	}, 3*time.Second, 10*time.Millisecond)

	sess, err := sessions.Get(ctx, "s-bad")
	require.NoError(t, err)
	assert.Contains(t, sess.StatusData["error"], "RuntimeError")
}

func TestService_RejectsMalformedIntake(t *testing.T) {
	broker, sessions, _ := startService(t)
	ctx := context.Background()

	// Unknown entry point fails validation; no session row appears.
	require.NoError(t, broker.Publish(ctx, ports.ChannelSchemaIntake, []byte(`{
		"session_id": "s-invalid",
		"graph": {"name": "g", "entry_point": "ghost"}
	}`)))
	require.NoError(t, broker.Publish(ctx, ports.ChannelSchemaIntake, []byte(`not json`)))

	time.Sleep(100 * time.Millisecond)
	_, err := sessions.Get(ctx, "s-invalid")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestService_ConcurrentIntake(t *testing.T) {
	broker, sessions, _ := startService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s-%d", i)
		require.NoError(t, broker.Publish(ctx, ports.ChannelSchemaIntake, intakePayload(id, "main")))
	}

	require.Eventually(t, func() bool {
		for i := 0; i < 5; i++ {
			sess, err := sessions.Get(ctx, fmt.Sprintf("s-%d", i))
			if err != nil || sess.Status != domain.StatusEnd {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}
