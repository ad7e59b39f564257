package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	TypeReconcileMismatch Type = "RECONCILE_MISMATCH"
	TypePayoutFailed      Type = "PAYOUT_FAILED"
)

type Alert struct {
	Type    Type
	Title   string
	Message string
	Fields  map[string]string
}

type Alerter interface {
	Send(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the structured log at error level.
type LogAlerter struct {
	log *zap.Logger
}

func NewLogAlerter(log *zap.Logger) *LogAlerter {
	return &LogAlerter{log: log.Named("alert")}
}

func (l *LogAlerter) Send(_ context.Context, a Alert) error {
	fields := []zap.Field{zap.String("type", string(a.Type)), zap.String("message", a.Message)}
	for k, v := range a.Fields {
		fields = append(fields, zap.String(k, v))
	}
	l.log.Error(a.Title, fields...)
	return nil
}

// WebhookAlerter posts alerts as JSON to an HTTP endpoint.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookAlerter) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(map[string]any{
		"type":    string(a.Type),
		"title":   a.Title,
		"message": a.Message,
		"fields":  a.Fields,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Multi fans an alert out to every sink, suppressing repeats of the same
// type within the cooldown window.
type Multi struct {
	alerters []Alerter
	cooldown time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	lastSent map[Type]time.Time
}

func NewMulti(cooldown time.Duration, log *zap.Logger, alerters ...Alerter) *Multi {
	return &Multi{
		alerters: alerters,
		cooldown: cooldown,
		log:      log.Named("alerter"),
		lastSent: make(map[Type]time.Time),
	}
}

func (m *Multi) Send(ctx context.Context, a Alert) error {
	m.mu.Lock()
	if last, ok := m.lastSent[a.Type]; ok && time.Since(last) < m.cooldown {
		m.mu.Unlock()
		m.log.Debug("alert suppressed by cooldown", zap.String("type", string(a.Type)))
		return nil
	}
	m.lastSent[a.Type] = time.Now()
	m.mu.Unlock()

	var firstErr error
	for _, s := range m.alerters {
		if err := s.Send(ctx, a); err != nil {
			m.log.Warn("alert send failed", zap.String("type", string(a.Type)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
