package windower

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xaenox/triagebot/internal/models"
)

var baseTime = time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)

func msg(id string, contactID int64, offset time.Duration, content string) *models.Message {
	return &models.Message{
		ID:        id,
		ContactID: contactID,
		Sender:    models.SenderUser,
		Content:   content,
		SentAt:    baseTime.Add(offset),
	}
}

func TestClusterIdleGapBoundary(t *testing.T) {
	w := New(30 * time.Minute)

	// 29:59 apart stays in one cluster.
	near := []*models.Message{
		msg("a", 1, 0, "first"),
		msg("b", 1, 29*time.Minute+59*time.Second, "second"),
	}
	if got := w.Cluster(near); len(got) != 1 {
		t.Errorf("29:59 gap produced %d clusters, want 1", len(got))
	}

	// Exactly 30:00 apart starts a new cluster.
	apart := []*models.Message{
		msg("a", 1, 0, "first"),
		msg("b", 1, 30*time.Minute, "second"),
	}
	if got := w.Cluster(apart); len(got) != 2 {
		t.Errorf("30:00 gap produced %d clusters, want 2", len(got))
	}
}

func TestClusterFiveThenOne(t *testing.T) {
	w := New(DefaultIdleGap)

	var messages []*models.Message
	for i := 0; i < 5; i++ {
		messages = append(messages, msg(fmt.Sprintf("m%d", i), 1, time.Duration(i)*10*time.Minute, "hello"))
	}
	// One more 40 minutes after the fifth.
	messages = append(messages, msg("m5", 1, 40*time.Minute+40*time.Minute, "late one"))

	clusters := w.Cluster(messages)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	if len(clusters[0].Messages) != 5 || len(clusters[1].Messages) != 1 {
		t.Errorf("cluster sizes = %d and %d, want 5 and 1",
			len(clusters[0].Messages), len(clusters[1].Messages))
	}
}

func TestClusterSplitsByContact(t *testing.T) {
	w := New(DefaultIdleGap)

	clusters := w.Cluster([]*models.Message{
		msg("a", 1, 0, "from one"),
		msg("b", 2, time.Minute, "from two"),
		msg("c", 1, 2*time.Minute, "from one again"),
	})
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	if clusters[0].ContactID != 1 || len(clusters[0].Messages) != 2 {
		t.Errorf("first cluster = contact %d with %d messages, want contact 1 with 2",
			clusters[0].ContactID, len(clusters[0].Messages))
	}
}

func TestClusterOrderIndependent(t *testing.T) {
	w := New(DefaultIdleGap)

	var messages []*models.Message
	for c := int64(1); c <= 3; c++ {
		for i := 0; i < 8; i++ {
			gap := time.Duration(i) * 11 * time.Minute
			if i >= 4 {
				gap += time.Hour
			}
			messages = append(messages, msg(fmt.Sprintf("c%d-m%d", c, i), c, gap, "text"))
		}
	}

	want := w.Cluster(messages)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 5; trial++ {
		shuffled := make([]*models.Message, len(messages))
		copy(shuffled, messages)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		got := w.Cluster(shuffled)
		if !reflect.DeepEqual(want, got) {
			t.Fatalf("trial %d: permuted input produced different clusters", trial)
		}
	}
}

func TestClustersChronological(t *testing.T) {
	w := New(DefaultIdleGap)

	clusters := w.Cluster([]*models.Message{
		msg("a", 2, 0, "early from two"),
		msg("b", 1, 10*time.Minute, "later from one"),
	})
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	if !clusters[0].StartAt.Before(clusters[1].StartAt) {
		t.Error("clusters not in chronological order")
	}
	if clusters[0].ContactID != 2 {
		t.Errorf("first cluster contact = %d, want 2", clusters[0].ContactID)
	}
}

func TestSummarySingleShortVerbatim(t *testing.T) {
	w := New(DefaultIdleGap)

	clusters := w.Cluster([]*models.Message{msg("a", 1, 0, "can we move the meeting?")})
	if clusters[0].Summary != "can we move the meeting?" {
		t.Errorf("summary = %q, want the message verbatim", clusters[0].Summary)
	}
}

func TestSummarySingleLongTruncated(t *testing.T) {
	w := New(DefaultIdleGap)
	long := strings.Repeat("word ", 40) // 200 chars

	clusters := w.Cluster([]*models.Message{msg("a", 1, 0, long)})
	summary := clusters[0].Summary
	if !strings.HasSuffix(summary, "...") {
		t.Errorf("summary %q should end with ellipsis", summary)
	}
	if len(summary) > 104 {
		t.Errorf("summary length = %d, want <= 104", len(summary))
	}
	if strings.Contains(summary, "  ") || strings.HasSuffix(strings.TrimSuffix(summary, "..."), " ") {
		t.Errorf("summary %q has ragged truncation", summary)
	}
}

func TestSummaryTopicPhrases(t *testing.T) {
	w := New(DefaultIdleGap)

	tests := []struct {
		texts []string
		want  string
	}{
		{[]string{"hi", "can we schedule for monday"}, "Discussed scheduling an appointment"},
		{[]string{"hey", "call me when free"}, "Asked to get on a call"},
		{[]string{"here", "sending the contract now"}, "Exchanged documents"},
		{[]string{"hungry?", "lunch tomorrow?"}, "Talked about meeting for a meal"},
		{[]string{"fine", "confirmed for 3pm"}, "Confirmed details"},
	}

	for _, tt := range tests {
		var messages []*models.Message
		for i, text := range tt.texts {
			messages = append(messages, msg(fmt.Sprintf("m%d", i), 1, time.Duration(i)*time.Minute, text))
		}
		clusters := w.Cluster(messages)
		if clusters[0].Summary != tt.want {
			t.Errorf("summary for %v = %q, want %q", tt.texts, clusters[0].Summary, tt.want)
		}
	}
}

func TestSummaryMultiNoTopicFallsBack(t *testing.T) {
	w := New(DefaultIdleGap)

	clusters := w.Cluster([]*models.Message{
		msg("a", 1, 0, "random chatter"),
		msg("b", 1, time.Minute, "more chatter"),
	})
	if clusters[0].Summary != "random chatter" {
		t.Errorf("summary = %q, want first message", clusters[0].Summary)
	}
}

func TestSummaryIgnoresAssistantMessages(t *testing.T) {
	w := New(DefaultIdleGap)

	user := msg("a", 1, time.Minute, "where is my order?")
	assistant := msg("b", 1, 0, "how can I help?")
	assistant.Sender = models.SenderAssistant

	clusters := w.Cluster([]*models.Message{assistant, user})
	if clusters[0].Summary != "where is my order?" {
		t.Errorf("summary = %q, want the single user message", clusters[0].Summary)
	}
}
