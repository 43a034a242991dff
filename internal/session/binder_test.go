package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/horizonbay/support-agent/internal/store"
	"github.com/horizonbay/support-agent/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore implements Store in memory with creation counters.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]*store.User
	conversations map[uuid.UUID]*store.Conversation
	usersCreated  int
	convsCreated  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]*store.User),
		conversations: make(map[uuid.UUID]*store.Conversation),
	}
}

func (f *fakeStore) GetUserBySessionKey(_ context.Context, sessionKey string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[sessionKey]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user: %w", store.ErrNotFound)
}

func (f *fakeStore) CreateUser(_ context.Context, sessionKey string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usersCreated++
	u := &store.User{ID: uuid.New(), SessionKey: sessionKey}
	f.users[sessionKey] = u
	return u, nil
}

func (f *fakeStore) CreateConversation(_ context.Context, userID uuid.UUID) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convsCreated++
	c := &store.Conversation{ID: uuid.New(), UserID: userID}
	f.conversations[userID] = c
	return c, nil
}

func (f *fakeStore) LatestConversation(_ context.Context, userID uuid.UUID) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conversations[userID]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("conversation: %w", store.ErrNotFound)
}

func TestBindCreatesOnFirstUse(t *testing.T) {
	fs := newFakeStore()
	binder := NewBinder(fs, testutil.DiscardLogger())

	binding, err := binder.Bind(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	if binding.User == nil || binding.Conversation == nil {
		t.Fatal("binding missing user or conversation")
	}
	if binding.Conversation.UserID != binding.User.ID {
		t.Error("conversation not owned by bound user")
	}
	if fs.usersCreated != 1 || fs.convsCreated != 1 {
		t.Errorf("created users=%d convs=%d, want 1/1", fs.usersCreated, fs.convsCreated)
	}
}

func TestBindReusesExisting(t *testing.T) {
	fs := newFakeStore()
	binder := NewBinder(fs, testutil.DiscardLogger())

	first, err := binder.Bind(context.Background(), "session-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := binder.Bind(context.Background(), "session-1")
	if err != nil {
		t.Fatal(err)
	}

	if first.Conversation.ID != second.Conversation.ID {
		t.Error("same session bound to different conversations")
	}
	if fs.usersCreated != 1 || fs.convsCreated != 1 {
		t.Errorf("created users=%d convs=%d, want 1/1", fs.usersCreated, fs.convsCreated)
	}
}

func TestBindDistinctSessions(t *testing.T) {
	fs := newFakeStore()
	binder := NewBinder(fs, testutil.DiscardLogger())

	a, _ := binder.Bind(context.Background(), "session-a")
	b, _ := binder.Bind(context.Background(), "session-b")
	if a.Conversation.ID == b.Conversation.ID {
		t.Error("distinct sessions share a conversation")
	}
}

func TestBindRejectsInvalidKeys(t *testing.T) {
	binder := NewBinder(newFakeStore(), testutil.DiscardLogger())

	if _, err := binder.Bind(context.Background(), "  "); !errors.Is(err, ErrEmptySessionKey) {
		t.Errorf("Bind(blank) = %v, want ErrEmptySessionKey", err)
	}
	if _, err := binder.Bind(context.Background(), strings.Repeat("k", MaxSessionKeyLength+1)); err == nil {
		t.Error("Bind() accepted oversized session key")
	}
}

func TestBindConcurrentSameSessionSingleConversation(t *testing.T) {
	fs := newFakeStore()
	binder := NewBinder(fs, testutil.DiscardLogger())

	const workers = 16
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			binding, err := binder.Bind(context.Background(), "session-race")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = binding.Conversation.ID
		}()
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got conversation %s, worker 0 got %s", i, ids[i], ids[0])
		}
	}
	if fs.convsCreated != 1 {
		t.Errorf("conversations created = %d, want 1", fs.convsCreated)
	}
}
