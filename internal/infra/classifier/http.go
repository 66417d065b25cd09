package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/smsflow/smsflow/internal/core/domain"
)

// HTTPClassifier calls the parsing gateway over HTTP. The gateway
// wraps the actual model; this client only knows the JSON contract.
type HTTPClassifier struct {
	cfg        Config
	httpClient *http.Client
}

// NewHTTPClassifier creates an HTTP-backed classifier. The per-call
// timeout must stay shorter than the broker's redelivery window.
func NewHTTPClassifier(cfg Config) *HTTPClassifier {
	return &HTTPClassifier{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type classifyRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

// classifyResponse is the gateway's reply. All values arrive as
// strings; the model is not trusted with types.
type classifyResponse struct {
	TxnType  string `json:"txn_type"`
	Date     string `json:"date"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Card     string `json:"card"`
	Merchant string `json:"merchant"`
	City     string `json:"city"`
	Address  string `json:"address"`
	Balance  string `json:"balance"`
}

// Classify sends the message body to the parsing gateway and maps the
// reply onto a verdict.
func (c *HTTPClassifier) Classify(ctx context.Context, msg *domain.RawMessage) (domain.Verdict, error) {
	reqBody, err := json.Marshal(classifyRequest{Model: c.cfg.Model, Text: msg.Body})
	if err != nil {
		return domain.Verdict{}, Malformed(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return domain.Verdict{}, Malformed(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are worth retrying.
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return domain.Verdict{}, Transient(fmt.Errorf("classifier call timed out: %w", err))
		}
		return domain.Verdict{}, Transient(fmt.Errorf("classifier call: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Verdict{}, Transient(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.Verdict{}, Transient(fmt.Errorf("rate limited (429), retry after: %s", resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return domain.Verdict{}, Transient(fmt.Errorf("http %d: %s", resp.StatusCode, body))
	case resp.StatusCode != http.StatusOK:
		return domain.Verdict{}, Malformed(fmt.Errorf("http %d: %s", resp.StatusCode, body))
	}

	var reply classifyResponse
	raw := extractJSON(body)
	if raw == nil {
		return domain.Verdict{}, Malformed(fmt.Errorf("reply contains no JSON object"))
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return domain.Verdict{}, Malformed(fmt.Errorf("decode reply: %w", err))
	}

	return c.toVerdict(msg, &reply)
}

func (c *HTTPClassifier) toVerdict(msg *domain.RawMessage, reply *classifyResponse) (domain.Verdict, error) {
	switch strings.ToLower(reply.TxnType) {
	case "otp":
		return domain.Filtered(), nil
	case "debit", "credit":
		// fallthrough to record building below
	default:
		return domain.Verdict{}, Malformed(fmt.Errorf("unrecognized txn_type %q", reply.TxnType))
	}

	amount, err := parseAmbiguousDecimal(reply.Amount)
	if err != nil {
		return domain.Verdict{}, Malformed(err)
	}

	occurredAt, err := parseMessageDate(reply.Date)
	if err != nil {
		return domain.Verdict{}, Malformed(err)
	}

	rec := &domain.ParsedRecord{
		Amount:       amount,
		Currency:     strings.ToUpper(reply.Currency),
		CardMask:     normalizeCardMask(reply.Card),
		Counterparty: reply.Merchant,
		City:         reply.City,
		Address:      reply.Address,
		OccurredAt:   occurredAt,
		Kind:         domain.TxnKind(strings.ToLower(reply.TxnType)),
		RawBody:      msg.Body,
		SourceRef:    msg.Ref(),
	}
	if reply.Balance != "" {
		balance, err := parseAmbiguousDecimal(reply.Balance)
		if err == nil {
			rec.Balance = &balance
		}
	}

	return domain.Transaction(rec), nil
}

var dateLayouts = []string{
	"02.01.06 15:04",
	"02.01.2006 15:04",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseMessageDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// normalizeCardMask keeps the last four digits of however the bank
// masked the card number ("*1234", "**** 1234", "41xx...1234").
func normalizeCardMask(s string) string {
	var digits []rune
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return string(digits)
}

// extractJSON returns the first top-level JSON object in the reply.
// Gateways fronting an LLM occasionally wrap the object in stray text.
func extractJSON(body []byte) []byte {
	start := bytes.IndexByte(body, '{')
	end := bytes.LastIndexByte(body, '}')
	if start == -1 || end == -1 || end < start {
		return nil
	}
	return body[start : end+1]
}
