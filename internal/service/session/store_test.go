package session_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neurosync-os/backend/internal/model/chat"
	"github.com/neurosync-os/backend/internal/service/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type storeFactory func(t *testing.T) session.Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) session.Store {
			return session.NewMemoryStore()
		},
		"sqlite": func(t *testing.T) session.Store {
			s, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func exchange(requestID string) []chat.Turn {
	return []chat.Turn{
		{Role: chat.RoleUser, Content: "What does IDEA require?", Payload: &chat.Payload{RequestID: requestID}},
		{Role: chat.RoleRouter, Content: "compliance", Payload: &chat.Payload{Intent: "compliance", Confidence: 0.9, HandlerID: "compliance"}},
		{Role: chat.RoleExpert, Content: "An IEP meeting requires...", Payload: &chat.Payload{HandlerID: "compliance"}},
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("CreateAndGet", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				created, err := s.Create(ctx)
				require.NoError(t, err)
				got, err := s.Get(ctx, created.ID)
				require.NoError(t, err)
				assert.Equal(t, created.ID, got.ID)

				_, err = s.Get(ctx, "missing")
				assert.ErrorIs(t, err, session.ErrSessionNotFound)
			})

			t.Run("AppendRoundTrip", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				require.NoError(t, s.Append(ctx, "s1", exchange("r1"), map[string]any{"last_intent": "compliance"}))

				turns, err := s.Read(ctx, "s1", 0)
				require.NoError(t, err)
				require.Len(t, turns, 3)
				assert.Equal(t, chat.RoleUser, turns[0].Role)
				assert.Equal(t, chat.RoleRouter, turns[1].Role)
				assert.Equal(t, chat.RoleExpert, turns[2].Role)
				assert.Equal(t, "compliance", turns[2].Payload.HandlerID)
				assert.Equal(t, "r1", turns[0].Payload.RequestID)
				for i, turn := range turns {
					assert.Equal(t, int64(i+1), turn.Seq)
					assert.NotEmpty(t, turn.ID)
					assert.Equal(t, "s1", turn.SessionID)
				}

				sess, err := s.Get(ctx, "s1")
				require.NoError(t, err)
				assert.Equal(t, "compliance", sess.Memory["last_intent"])
			})

			t.Run("ReadWindow", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				require.NoError(t, s.Append(ctx, "s1", exchange("r1"), nil))
				require.NoError(t, s.Append(ctx, "s1", exchange("r2"), nil))

				turns, err := s.Read(ctx, "s1", 2)
				require.NoError(t, err)
				require.Len(t, turns, 2)
				assert.Equal(t, int64(5), turns[0].Seq)
				assert.Equal(t, int64(6), turns[1].Seq)
			})

			t.Run("InvalidAppendLeavesNothingVisible", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				require.NoError(t, s.Append(ctx, "s1", exchange("r1"), nil))

				bad := exchange("r2")
				bad[2].Role = "narrator"
				assert.Error(t, s.Append(ctx, "s1", bad, map[string]any{"poisoned": true}))

				turns, err := s.Read(ctx, "s1", 0)
				require.NoError(t, err)
				assert.Len(t, turns, 3)
				sess, err := s.Get(ctx, "s1")
				require.NoError(t, err)
				assert.NotContains(t, sess.Memory, "poisoned")
			})

			t.Run("EmptyAppendRejected", func(t *testing.T) {
				s := factory(t)
				assert.ErrorIs(t, s.Append(context.Background(), "s1", nil, nil), session.ErrNoTurns)
				assert.ErrorIs(t, s.Append(context.Background(), "", exchange("r"), nil), session.ErrSessionRequired)
			})

			t.Run("PutMemory", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				created, err := s.Create(ctx)
				require.NoError(t, err)
				require.NoError(t, s.PutMemory(ctx, created.ID, map[string]any{"student_context": "Jordan, dyslexia"}))
				require.NoError(t, s.PutMemory(ctx, created.ID, map[string]any{"other": "x"}))
				require.NoError(t, s.PutMemory(ctx, created.ID, map[string]any{"other": nil}))

				sess, err := s.Get(ctx, created.ID)
				require.NoError(t, err)
				assert.Equal(t, "Jordan, dyslexia", sess.Memory["student_context"])
				assert.NotContains(t, sess.Memory, "other")

				assert.ErrorIs(t, s.PutMemory(ctx, "missing", map[string]any{"k": "v"}), session.ErrSessionNotFound)
			})

			t.Run("Expire", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				require.NoError(t, s.Append(ctx, "s1", exchange("r1"), nil))
				require.NoError(t, s.Expire(ctx, "s1"))

				_, err := s.Read(ctx, "s1", 0)
				assert.ErrorIs(t, err, session.ErrSessionNotFound)
				assert.ErrorIs(t, s.Expire(ctx, "s1"), session.ErrSessionNotFound)
			})

			t.Run("Sweep", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				require.NoError(t, s.Append(ctx, "old", exchange("r1"), nil))
				cutoff := time.Now().UTC().Add(time.Second)

				n, err := s.Sweep(ctx, cutoff)
				require.NoError(t, err)
				assert.Equal(t, 1, n)
				_, err = s.Get(ctx, "old")
				assert.ErrorIs(t, err, session.ErrSessionNotFound)

				require.NoError(t, s.Append(ctx, "fresh", exchange("r2"), nil))
				n, err = s.Sweep(ctx, time.Now().UTC().Add(-time.Hour))
				require.NoError(t, err)
				assert.Equal(t, 0, n)
			})

			t.Run("ConcurrentSessionsStayOrdered", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()

				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						id := fmt.Sprintf("s-%d", i)
						for j := 0; j < 5; j++ {
							_ = s.Append(ctx, id, exchange(fmt.Sprintf("r-%d", j)), nil)
						}
					}(i)
				}
				wg.Wait()

				for i := 0; i < 8; i++ {
					turns, err := s.Read(ctx, fmt.Sprintf("s-%d", i), 0)
					require.NoError(t, err)
					require.Len(t, turns, 15)
					for k, turn := range turns {
						assert.Equal(t, int64(k+1), turn.Seq)
						if k%3 == 0 {
							assert.Equal(t, fmt.Sprintf("r-%d", k/3), turn.Payload.RequestID)
						}
					}
				}
			})
		})
	}
}

func TestSQLiteRollsBackOnConstraintViolation(t *testing.T) {
	s, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), nil)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	turns := exchange("r1")
	turns[0].ID = "dup"
	turns[2].ID = "dup"
	assert.Error(t, s.Append(ctx, "s1", turns, map[string]any{"k": "v"}))

	_, err = s.Read(ctx, "s1", 0)
	assert.ErrorIs(t, err, session.ErrSessionNotFound, "failed append must not create the session")
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s, err := session.NewSQLiteStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "s1", exchange("r1"), map[string]any{"last_handler": "compliance"}))
	require.NoError(t, s.Close())

	s2, err := session.NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	turns, err := s2.Read(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 3)
	sess, err := s2.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "compliance", sess.Memory["last_handler"])
}

func TestMemoryStoreReadReturnsCopies(t *testing.T) {
	s := session.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "s1", exchange("r1"), nil))

	turns, err := s.Read(ctx, "s1", 0)
	require.NoError(t, err)
	turns[0].Content = "mutated"
	turns[1].Payload.Intent = "mutated"

	again, err := s.Read(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, "What does IDEA require?", again[0].Content)
	assert.Equal(t, "compliance", again[1].Payload.Intent)
}

func TestJanitorSweepOnce(t *testing.T) {
	s := session.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "s1", exchange("r1"), nil))

	// A 1ns TTL makes every session idle by the time it sweeps.
	j := session.NewJanitor(s, time.Nanosecond, time.Hour, nil)
	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, j.SweepOnce(ctx))
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	s := session.NewMemoryStore()
	j := session.NewJanitor(s, time.Hour, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
