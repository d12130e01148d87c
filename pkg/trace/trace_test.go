package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestClearKeepsJoinedAndTimedOutDropsRunPhaseData(t *testing.T) {
	c := New()
	c.RecordJoined("n1", 1.5)
	c.RecordTimedOut(2.0)
	c.RecordClientRequest(3.0, 0.5, 2)
	c.RecordQueueLoad("n1", 3.0, 4)
	c.RecordCrashed("n1", 4.0)

	c.Clear()

	doc := c.ToDocument()
	if len(doc.ClientRequests) != 0 {
		t.Fatalf("expected client_requests cleared, got %v", doc.ClientRequests)
	}
	if len(doc.QueueLoad) != 0 {
		t.Fatalf("expected queue_load cleared, got %v", doc.QueueLoad)
	}
	if len(doc.CrashedTime) != 0 {
		t.Fatalf("expected crashed_time cleared, got %v", doc.CrashedTime)
	}
	if len(doc.TimedOutRequests) != 1 {
		t.Fatalf("expected timed_out_requests preserved across clear")
	}
	if doc.JoinedTime["n1"] != 1.5 {
		t.Fatalf("expected joined_time preserved across clear, got %v", doc.JoinedTime)
	}
}

func TestDocumentRoundsToTwoDecimals(t *testing.T) {
	c := New()
	c.RecordClientRequest(1.23456, 0.98765, 3)
	doc := c.ToDocument()
	if doc.ClientRequests[0][0] != 1.23 || doc.ClientRequests[0][1] != 0.99 {
		t.Fatalf("expected rounding to 2 decimals, got %v", doc.ClientRequests[0])
	}
}

func TestTimeoutHopsSentinelIsMinusOne(t *testing.T) {
	c := New()
	c.RecordClientRequest(1.0, 0.0, -1)
	doc := c.ToDocument()
	if doc.ClientRequests[0][2] != -1 {
		t.Fatalf("expected hops sentinel -1, got %v", doc.ClientRequests[0][2])
	}
}

func TestMessagesAfterCrashOmittedWhenEmpty(t *testing.T) {
	c := New()
	doc := c.ToDocument()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := raw["messages_after_crash"]; ok {
		t.Fatalf("expected messages_after_crash omitted when empty")
	}
}

func TestMessagesAfterCrashPresentWhenRecorded(t *testing.T) {
	c := New()
	c.RecordMessageAfterCrash("n1", 5.0)
	doc := c.ToDocument()
	if len(doc.MessagesAfterCrash["n1"]) != 1 {
		t.Fatalf("expected one message_after_crash entry for n1")
	}
}

func TestWriteDocumentRoundTrip(t *testing.T) {
	c := New()
	c.RecordFailedToJoin(9.0)
	doc := c.ToDocument()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	if err := WriteDocument(path, doc); err != nil {
		t.Fatalf("WriteDocument failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back trace file: %v", err)
	}
	var got Document
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to unmarshal trace file: %v", err)
	}
	if len(got.FailedToJoin) != 1 || got.FailedToJoin[0] != 9.0 {
		t.Fatalf("unexpected failed_to_join contents: %v", got.FailedToJoin)
	}
}
