//go:build integration

package store_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/horizonbay/support-agent/internal/store"
	"github.com/horizonbay/support-agent/internal/testutil"
)

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := store.New(tdb.Pool, testutil.DiscardLogger())

	t.Run("UserLifecycle", func(t *testing.T) {
		if _, err := s.GetUserBySessionKey(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetUserBySessionKey(missing) = %v, want ErrNotFound", err)
		}

		created, err := s.CreateUser(ctx, "session-alpha")
		if err != nil {
			t.Fatalf("CreateUser() error: %v", err)
		}

		// Creating again for the same key must converge on the same row.
		again, err := s.CreateUser(ctx, "session-alpha")
		if err != nil {
			t.Fatalf("CreateUser() second call error: %v", err)
		}
		if again.ID != created.ID {
			t.Errorf("duplicate session key produced a second user: %s vs %s", again.ID, created.ID)
		}

		got, err := s.GetUserBySessionKey(ctx, "session-alpha")
		if err != nil {
			t.Fatalf("GetUserBySessionKey() error: %v", err)
		}
		if got.ID != created.ID {
			t.Errorf("looked-up user %s, want %s", got.ID, created.ID)
		}
	})

	t.Run("ContactMerge", func(t *testing.T) {
		u, err := s.CreateUser(ctx, "session-contact")
		if err != nil {
			t.Fatalf("CreateUser() error: %v", err)
		}

		err = s.UpdateUserContact(ctx, u.ID, store.ContactUpdate{
			Name:  "Jordan Ellis",
			Email: "jordan@example.com",
			Notes: "prefers email",
		})
		if err != nil {
			t.Fatalf("UpdateUserContact() error: %v", err)
		}

		// Empty fields must not erase stored values; notes must append.
		err = s.UpdateUserContact(ctx, u.ID, store.ContactUpdate{
			Phone: "555-0100",
			Notes: "asked about refinance",
		})
		if err != nil {
			t.Fatalf("UpdateUserContact() second call error: %v", err)
		}

		got, err := s.GetUserBySessionKey(ctx, "session-contact")
		if err != nil {
			t.Fatalf("GetUserBySessionKey() error: %v", err)
		}
		if got.Name != "Jordan Ellis" || got.Email != "jordan@example.com" || got.Phone != "555-0100" {
			t.Errorf("merged contact = %q/%q/%q", got.Name, got.Email, got.Phone)
		}
		if !strings.Contains(got.Notes, "prefers email") || !strings.Contains(got.Notes, "asked about refinance") {
			t.Errorf("notes = %q, want both entries kept", got.Notes)
		}

		if err := s.UpdateUserContact(ctx, uuid.New(), store.ContactUpdate{Name: "x"}); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("UpdateUserContact(unknown user) = %v, want ErrNotFound", err)
		}
	})

	t.Run("ConversationsAndMessages", func(t *testing.T) {
		u, err := s.CreateUser(ctx, "session-messages")
		if err != nil {
			t.Fatalf("CreateUser() error: %v", err)
		}

		if _, err := s.LatestConversation(ctx, u.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("LatestConversation(no conversations) = %v, want ErrNotFound", err)
		}

		conv, err := s.CreateConversation(ctx, u.ID)
		if err != nil {
			t.Fatalf("CreateConversation() error: %v", err)
		}
		latest, err := s.LatestConversation(ctx, u.ID)
		if err != nil {
			t.Fatalf("LatestConversation() error: %v", err)
		}
		if latest.ID != conv.ID {
			t.Errorf("latest conversation = %s, want %s", latest.ID, conv.ID)
		}

		for _, content := range []string{"first", "second", "third"} {
			if _, err := s.AddMessage(ctx, conv.ID, store.RoleUser, content); err != nil {
				t.Fatalf("AddMessage(%q) error: %v", content, err)
			}
		}

		msgs, err := s.RecentMessages(ctx, conv.ID, 2)
		if err != nil {
			t.Fatalf("RecentMessages() error: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("RecentMessages() = %d messages, want 2", len(msgs))
		}
		if msgs[0].Content != "second" || msgs[1].Content != "third" {
			t.Errorf("window = [%q, %q], want the two newest in chronological order",
				msgs[0].Content, msgs[1].Content)
		}
	})

	t.Run("MessageOrderingTieBreak", func(t *testing.T) {
		u, err := s.CreateUser(ctx, "session-ordering")
		if err != nil {
			t.Fatalf("CreateUser() error: %v", err)
		}
		conv, err := s.CreateConversation(ctx, u.ID)
		if err != nil {
			t.Fatalf("CreateConversation() error: %v", err)
		}

		// Insert three messages sharing one timestamp so only the id
		// tie-break determines the order.
		sentAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
		for i, id := range ids {
			_, err := tdb.Pool.Exec(ctx, `
				INSERT INTO messages (id, conversation_id, role, content, sent_at)
				VALUES ($1, $2, $3, $4, $5)`,
				id, conv.ID, store.RoleUser, "tied", sentAt)
			if err != nil {
				t.Fatalf("inserting message %d: %v", i, err)
			}
		}

		msgs, err := s.RecentMessages(ctx, conv.ID, 10)
		if err != nil {
			t.Fatalf("RecentMessages() error: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("RecentMessages() = %d messages, want 3", len(msgs))
		}
		gotIDs := []string{msgs[0].ID.String(), msgs[1].ID.String(), msgs[2].ID.String()}
		if !sort.StringsAreSorted(gotIDs) {
			t.Errorf("tied timestamps not ordered by id ascending: %v", gotIDs)
		}
	})

	t.Run("EscalationDedupLookup", func(t *testing.T) {
		u, err := s.CreateUser(ctx, "session-escalation")
		if err != nil {
			t.Fatalf("CreateUser() error: %v", err)
		}
		conv, err := s.CreateConversation(ctx, u.ID)
		if err != nil {
			t.Fatalf("CreateConversation() error: %v", err)
		}

		if _, err := s.EscalationByConversationAndType(ctx, conv.ID, store.IssueFraud); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("lookup before create = %v, want ErrNotFound", err)
		}

		created, err := s.CreateEscalation(ctx, store.Escalation{
			ConversationID:  conv.ID,
			IssueType:       store.IssueFraud,
			OriginalRequest: "unauthorized charge on my card",
			ContactPhone:    "555-0100",
		})
		if err != nil {
			t.Fatalf("CreateEscalation() error: %v", err)
		}
		if created.Status != store.StatusPending {
			t.Errorf("new escalation status = %q, want %q", created.Status, store.StatusPending)
		}

		if err := s.UpdateEscalationStatus(ctx, created.ID, store.StatusNotified); err != nil {
			t.Fatalf("UpdateEscalationStatus() error: %v", err)
		}

		got, err := s.EscalationByConversationAndType(ctx, conv.ID, store.IssueFraud)
		if err != nil {
			t.Fatalf("EscalationByConversationAndType() error: %v", err)
		}
		if got.ID != created.ID || got.Status != store.StatusNotified {
			t.Errorf("lookup = %s/%q, want %s/%q", got.ID, got.Status, created.ID, store.StatusNotified)
		}

		// A different issue type in the same conversation is independent.
		if _, err := s.EscalationByConversationAndType(ctx, conv.ID, store.IssueLoan); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("lookup for other issue type = %v, want ErrNotFound", err)
		}

		if err := s.ResolveEscalation(ctx, created.ID); err != nil {
			t.Fatalf("ResolveEscalation() error: %v", err)
		}
		resolved, err := s.EscalationByConversationAndType(ctx, conv.ID, store.IssueFraud)
		if err != nil {
			t.Fatalf("lookup after resolve error: %v", err)
		}
		if resolved.ResolvedAt == nil {
			t.Error("ResolvedAt not stamped")
		}
	})

	t.Run("UnknownQuestions", func(t *testing.T) {
		if err := s.LogUnknownQuestion(ctx, "do you offer crypto custody", "asked twice"); err != nil {
			t.Fatalf("LogUnknownQuestion() error: %v", err)
		}

		var count int
		err := tdb.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM unknown_questions WHERE question = $1`,
			"do you offer crypto custody").Scan(&count)
		if err != nil {
			t.Fatalf("counting unknown questions: %v", err)
		}
		if count != 1 {
			t.Errorf("unknown question rows = %d, want 1", count)
		}
	})
}
