package report

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
)

type mockS3Client struct {
	puts   []*s3.PutObjectInput
	bodies [][]byte
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, nil
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.puts = append(m.puts, params)
	m.bodies = append(m.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return nil, nil
}

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleReport() Report {
	c := NewCollector("run-1", "run", start)
	c.SetWindow(true, "last 60 days")
	c.Record(AccountOutcome{AccountID: "A2", Status: StatusSkipped, Reason: "AuthzError", Error: "denied"})
	c.Record(AccountOutcome{AccountID: "A1", Status: StatusCompleted, Counts: Counts{Inserted: 2, Skipped: 1}})
	c.Record(AccountOutcome{AccountID: "A3", Status: StatusCompleted, Counts: Counts{Updated: 1, Filtered: 4, Failed: 1}})
	return c.Finish(start.Add(90 * time.Second))
}

func TestCollectorFinish(t *testing.T) {
	r := sampleReport()

	if r.Duration != 90*time.Second {
		t.Errorf("expected 90s, got %s", r.Duration)
	}
	if len(r.Accounts) != 3 || r.Accounts[0].AccountID != "A1" || r.Accounts[2].AccountID != "A3" {
		t.Errorf("expected accounts sorted by id, got %+v", r.Accounts)
	}
	want := Counts{Inserted: 2, Updated: 1, Skipped: 1, Filtered: 4, Failed: 1}
	if r.Totals != want {
		t.Errorf("expected totals %+v, got %+v", want, r.Totals)
	}
	skipped := r.SkippedAccounts()
	if len(skipped) != 1 || skipped[0].Reason != "AuthzError" {
		t.Errorf("unexpected skipped accounts %+v", skipped)
	}
	if a, ok := r.Account("A3"); !ok || a.Updated != 1 {
		t.Errorf("unexpected A3 outcome %+v", a)
	}
	if _, ok := r.Account("A9"); ok {
		t.Error("did not expect unknown account")
	}
}

func TestCollectorMergesOutcomes(t *testing.T) {
	c := NewCollector("run-1", "refresh", start)
	c.Record(AccountOutcome{AccountID: "A1", Status: StatusCompleted, Counts: Counts{Inserted: 1}})
	c.Record(AccountOutcome{AccountID: "A1", Status: StatusSkipped, Reason: "TransientFetchError", Counts: Counts{Updated: 1}})
	c.Record(AccountOutcome{AccountID: "A1", Status: StatusCompleted, Counts: Counts{Skipped: 1}})

	r := c.Finish(start)
	if len(r.Accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(r.Accounts))
	}
	a := r.Accounts[0]
	if a.Status != StatusSkipped || a.Reason != "TransientFetchError" {
		t.Errorf("expected skip to win, got %+v", a)
	}
	if a.Inserted != 1 || a.Updated != 1 || a.Skipped != 1 {
		t.Errorf("expected counts summed, got %+v", a.Counts)
	}
}

func TestReportJSON(t *testing.T) {
	data, err := json.Marshal(sampleReport())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["duration"] != "1m30s" {
		t.Errorf("expected duration string, got %v", decoded["duration"])
	}
	if decoded["runId"] != "run-1" {
		t.Errorf("expected runId, got %v", decoded["runId"])
	}
	totals := decoded["totals"].(map[string]any)
	if totals["inserted"].(float64) != 2 {
		t.Errorf("unexpected totals %v", totals)
	}
	accounts := decoded["accounts"].([]any)
	first := accounts[0].(map[string]any)
	if first["inserted"].(float64) != 2 || first["status"] != StatusCompleted {
		t.Errorf("expected flattened counts, got %v", first)
	}
	if _, ok := decoded["fatal"]; ok {
		t.Error("expected fatal to be omitted")
	}
}

func TestEmptyReportJSONHasAccountsArray(t *testing.T) {
	r := NewCollector("run-2", "run", start)
	r.Fail("EnumerationError: organizations:ListAccounts: denied")
	data, err := json.Marshal(r.Finish(start))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"accounts":[]`) {
		t.Errorf("expected empty accounts array, got %s", data)
	}
	if !strings.Contains(string(data), `"fatal":"EnumerationError`) {
		t.Errorf("expected fatal reason, got %s", data)
	}
}

func TestReportString(t *testing.T) {
	str := sampleReport().String()
	for _, want := range []string{"run-1", "last 60 days", "2 processed, 1 skipped", "2 inserted", "skipped A2: AuthzError"} {
		if !strings.Contains(str, want) {
			t.Errorf("expected %q in:\n%s", want, str)
		}
	}
}

func TestS3Sink(t *testing.T) {
	testCases := []struct {
		name    string
		uri     string
		wantKey string
	}{
		{"explicit key", "s3://reports/runs/latest.json", "runs/latest.json"},
		{"prefix", "s3://reports/runs/", "runs/run-1.json"},
		{"bucket only", "s3://reports", "run-1.json"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := &mockS3Client{}
			sink, err := NewSink(tc.uri, client)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := sink.Write(context.Background(), sampleReport()); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			if len(client.puts) != 1 {
				t.Fatalf("expected 1 upload, got %d", len(client.puts))
			}
			if *client.puts[0].Bucket != "reports" || *client.puts[0].Key != tc.wantKey {
				t.Errorf("expected reports/%s, got %s/%s", tc.wantKey, *client.puts[0].Bucket, *client.puts[0].Key)
			}
			if !strings.Contains(string(client.bodies[0]), `"runId":"run-1"`) {
				t.Errorf("unexpected body %s", client.bodies[0])
			}
		})
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.json")
	sink, err := NewSink("file://"+path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sink.Write(context.Background(), sampleReport()); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), "1m30s") {
		t.Errorf("unexpected file contents %s", data)
	}
}

func TestNewSinkErrors(t *testing.T) {
	for _, uri := range []string{"ftp://host/x", "file:relative/path", "s3:///nobucket"} {
		if _, err := NewSink(uri, &mockS3Client{}); err == nil {
			t.Errorf("expected error for %s", uri)
		}
	}
	if _, err := NewSink("s3://bucket/key", nil); err == nil {
		t.Error("expected error without S3 client")
	}
	sink, err := NewSink("", nil)
	if sink != nil || err != nil {
		t.Errorf("expected nil sink for empty URI, got %v, %v", sink, err)
	}
}
