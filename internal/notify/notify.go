// Package notify implements SPEC_FULL.md §E.4: best-effort exit
// notifications fired from the daemon's session_event("stopped", ...)
// hook, fanned out to both a browser Web Push subscriber and a Slack
// incoming webhook.
//
// Grounded on kojo's internal/notify/webpush.go for the VAPID
// key-management Manager (adapted from ~/.config/kojo to ~/.kild), and
// on the rest of the example pack's use of github.com/slack-go/slack
// for the webhook notifier.
package notify

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/slack-go/slack"
	webpush "github.com/SherClockHolmes/webpush-go"
)

const vapidFile = "vapid.json"

// Manager owns the VAPID keypair and the current set of browser push
// subscriptions, and optionally a Slack webhook URL.
type Manager struct {
	mu            sync.Mutex
	logger        *slog.Logger
	kildDir       string
	vapidPrivate  string
	vapidPublic   string
	subscriptions []*webpush.Subscription
	slackWebhook  string
}

type vapidKeys struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// NewManager builds a Manager rooted at kildDir (normally
// config.Context.KildDir), loading or generating the VAPID keypair
// there. slackWebhookURL may be empty, disabling Slack delivery.
func NewManager(kildDir string, slackWebhookURL string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:        logger,
		kildDir:       kildDir,
		subscriptions: make([]*webpush.Subscription, 0),
		slackWebhook:  slackWebhookURL,
	}
	if err := m.loadOrGenerateVAPID(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) VAPIDPublicKey() string {
	return m.vapidPublic
}

func (m *Manager) Subscribe(sub *webpush.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.subscriptions {
		if existing.Endpoint == sub.Endpoint {
			return
		}
	}
	m.subscriptions = append(m.subscriptions, sub)
	ep := sub.Endpoint
	if len(ep) > 50 {
		ep = ep[:50] + "..."
	}
	m.logger.Info("push subscription added", "event", "notify.subscribe", "endpoint", ep)
}

func (m *Manager) Unsubscribe(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscriptions {
		if sub.Endpoint == endpoint {
			m.subscriptions = append(m.subscriptions[:i], m.subscriptions[i+1:]...)
			return
		}
	}
}

// SessionStopped is the notification entry point, wired as
// daemon.Listener's OnStopped hook by cmd/kild-daemon. It is
// fire-and-forget: delivery failures are logged, never returned.
func (m *Manager) SessionStopped(sessionID string, exitCode *int) {
	code := 0
	if exitCode != nil {
		code = *exitCode
	}
	text := fmt.Sprintf("kild session %s stopped (exit code %d)", sessionID, code)

	m.sendPush([]byte(text))
	m.sendSlack(text)
}

func (m *Manager) sendPush(payload []byte) {
	m.mu.Lock()
	subs := make([]*webpush.Subscription, len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.mu.Unlock()

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, sub, &webpush.Options{
			VAPIDPublicKey:  m.vapidPublic,
			VAPIDPrivateKey: m.vapidPrivate,
			Subscriber:      "mailto:kild@localhost",
		})
		if err != nil {
			m.logger.Debug("push send failed", "event", "notify.push_failed", "error", err)
			continue
		}
		resp.Body.Close()
	}
}

func (m *Manager) sendSlack(text string) {
	if m.slackWebhook == "" {
		return
	}
	msg := &slack.WebhookMessage{Text: text}
	if err := slack.PostWebhook(m.slackWebhook, msg); err != nil {
		m.logger.Debug("slack notify failed", "event", "notify.slack_failed", "error", err)
	}
}

func (m *Manager) loadOrGenerateVAPID() error {
	path := filepath.Join(m.kildDir, vapidFile)

	data, err := os.ReadFile(path)
	if err == nil {
		var keys vapidKeys
		if err := json.Unmarshal(data, &keys); err == nil && keys.PrivateKey != "" {
			m.vapidPrivate = keys.PrivateKey
			m.vapidPublic = keys.PublicKey
			m.logger.Info("loaded VAPID keys", "event", "notify.vapid_loaded")
			return nil
		}
	}

	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate VAPID key: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(privKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), privKey.PublicKey.X, privKey.PublicKey.Y)

	m.vapidPrivate = base64.RawURLEncoding.EncodeToString(privBytes)
	m.vapidPublic = base64.RawURLEncoding.EncodeToString(pubBytes)

	if err := os.MkdirAll(m.kildDir, 0o755); err != nil {
		return fmt.Errorf("failed to create kild dir: %w", err)
	}

	keys := vapidKeys{PrivateKey: m.vapidPrivate, PublicKey: m.vapidPublic}
	data, _ = json.MarshalIndent(keys, "", "  ")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save VAPID keys: %w", err)
	}

	m.logger.Info("generated new VAPID keys", "event", "notify.vapid_generated")
	return nil
}
