package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smsflow/smsflow/internal/core/domain"
	"github.com/smsflow/smsflow/internal/infra/broker"
)

type okPinger struct{ err error }

func (p okPinger) Ping(ctx context.Context) error { return p.err }

func TestGatewayAcceptsRawMessage(t *testing.T) {
	b := broker.NewMemoryBroker()
	g := NewGateway(b, okPinger{}, 0)

	body := `{"device_id":"android-pixel-9","body":"APPROVED PURCHASE Amount:52.00 USD","sender":"MyBank","timestamp":1718300000,"source":"device"}`
	req := httptest.NewRequest(http.MethodPost, "/sms/raw", strings.NewReader(body))
	rr := httptest.NewRecorder()
	g.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body: %s", rr.Code, rr.Body)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["fingerprint"] == "" {
		t.Error("response missing fingerprint")
	}

	msgs := b.Messages(broker.SubjectRaw)
	if len(msgs) != 1 {
		t.Fatalf("raw stream has %d messages, want 1", len(msgs))
	}
	var msg domain.RawMessage
	if err := json.Unmarshal(msgs[0].Payload, &msg); err != nil {
		t.Fatalf("decode published message: %v", err)
	}
	if msg.Sender != "MyBank" || msg.DeviceID != "android-pixel-9" {
		t.Errorf("published message = %+v", msg)
	}
}

func TestGatewayRejectsInvalidSubmissions(t *testing.T) {
	b := broker.NewMemoryBroker()
	g := NewGateway(b, okPinger{}, 0)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "hello"},
		{"missing body", `{"sender":"MyBank","timestamp":1}`},
		{"missing sender", `{"body":"x","timestamp":1}`},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/sms/raw", strings.NewReader(tt.body))
		rr := httptest.NewRecorder()
		g.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, rr.Code)
		}
	}

	if b.Len(broker.SubjectRaw) != 0 {
		t.Error("invalid submissions reached the raw stream")
	}
}

func TestGatewayHealth(t *testing.T) {
	g := NewGateway(broker.NewMemoryBroker(), okPinger{}, 0)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	g.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}

	g = NewGateway(broker.NewMemoryBroker(), okPinger{err: errors.New("down")}, 0)
	rr = httptest.NewRecorder()
	g.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when broker is down", rr.Code)
	}
}

func TestReplayBackup(t *testing.T) {
	content := `<?xml version='1.0' encoding='UTF-8'?>
<smses count="3">
  <sms address="MyBank" body="APPROVED PURCHASE Amount:52.00 USD" date="1718300000000" />
  <sms address="MyBank" body="OTP 123456" date="1718300060000" />
  <sms address="MyBank" body="broken entry" date="not-a-date" />
</smses>`

	path := filepath.Join(t.TempDir(), "sms-backup.xml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write backup: %v", err)
	}

	b := broker.NewMemoryBroker()
	published, skipped, err := ReplayBackup(context.Background(), b, "backup-device", path)
	if err != nil {
		t.Fatalf("ReplayBackup: %v", err)
	}
	if published != 2 || skipped != 1 {
		t.Errorf("published = %d, skipped = %d, want 2/1", published, skipped)
	}

	msgs := b.Messages(broker.SubjectRaw)
	if len(msgs) != 2 {
		t.Fatalf("raw stream has %d messages, want 2", len(msgs))
	}
	var msg domain.RawMessage
	if err := json.Unmarshal(msgs[0].Payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Source != domain.SourceBackup {
		t.Errorf("Source = %q, want backup", msg.Source)
	}
	if msg.Timestamp != 1718300000 {
		t.Errorf("Timestamp = %d, want seconds, not millis", msg.Timestamp)
	}
}

func TestReplayBackupMissingFile(t *testing.T) {
	_, _, err := ReplayBackup(context.Background(), broker.NewMemoryBroker(), "d", "/nonexistent.xml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}
