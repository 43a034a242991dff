package store

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/horizonbay/support-agent/internal/testutil"
)

func TestValidIssueType(t *testing.T) {
	for _, issue := range []string{IssueLoan, IssueCard, IssueAccount, IssueFraud, IssueRefinance} {
		if !ValidIssueType(issue) {
			t.Errorf("ValidIssueType(%q) = false", issue)
		}
	}
	for _, issue := range []string{"", "mortgage", "LOAN", "other"} {
		if ValidIssueType(issue) {
			t.Errorf("ValidIssueType(%q) = true", issue)
		}
	}
}

func TestAddMessageRejectsInvalidRole(t *testing.T) {
	// Role validation happens before any database access, so a nil handle is
	// safe here.
	s := New(nil, testutil.DiscardLogger())

	if _, err := s.AddMessage(context.Background(), uuid.New(), "system", "hi"); err == nil {
		t.Error("AddMessage() accepted invalid role")
	}
}

func TestCreateEscalationRejectsInvalidIssueType(t *testing.T) {
	s := New(nil, testutil.DiscardLogger())

	_, err := s.CreateEscalation(context.Background(), Escalation{
		ConversationID:  uuid.New(),
		IssueType:       "mortgage",
		OriginalRequest: "help",
	})
	if err == nil {
		t.Error("CreateEscalation() accepted invalid issue type")
	}
}

func TestUpdateEscalationStatusRejectsInvalidStatus(t *testing.T) {
	s := New(nil, testutil.DiscardLogger())

	if err := s.UpdateEscalationStatus(context.Background(), uuid.New(), "done"); err == nil {
		t.Error("UpdateEscalationStatus() accepted invalid status")
	}
}

func TestRecentMessagesZeroLimit(t *testing.T) {
	s := New(nil, testutil.DiscardLogger())

	msgs, err := s.RecentMessages(context.Background(), uuid.New(), 0)
	if err != nil {
		t.Fatalf("RecentMessages() error: %v", err)
	}
	if msgs != nil {
		t.Errorf("RecentMessages() = %v, want nil", msgs)
	}
}

func TestLogUnknownQuestionEmptyQuestion(t *testing.T) {
	s := New(nil, testutil.DiscardLogger())
	if err := s.LogUnknownQuestion(context.Background(), "   ", ""); err == nil {
		t.Error("LogUnknownQuestion() with blank question should fail")
	}
}
