// Package notify holds the HTTP clients the two services use to talk to
// each other. Calls carry the shared internal secret and short timeouts;
// neither service ever blocks a user request on the other for long.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// InternalSecretHeader authenticates service-to-service calls.
const InternalSecretHeader = "X-Internal-Secret"

const requestTimeout = 5 * time.Second

// EmailClient lets the auth service ask the email service to dispatch mail.
// Implements auth.Mailer.
type EmailClient struct {
	baseURL string
	secret  string
	client  *http.Client
	logger  *slog.Logger
}

func NewEmailClient(baseURL, secret string, logger *slog.Logger) *EmailClient {
	return &EmailClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

func (c *EmailClient) SendVerification(ctx context.Context, email string) error {
	return c.post(ctx, "/email/send-verification", map[string]any{"email": email})
}

func (c *EmailClient) SendMagicLink(ctx context.Context, email, token string, isNewUser bool) error {
	return c.post(ctx, "/email/send-magic-link", map[string]any{
		"email":     email,
		"token":     token,
		"isNewUser": isNewUser,
	})
}

func (c *EmailClient) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(InternalSecretHeader, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("email service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email service returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// AuditClient reports audit events from the email service to the auth
// service, which owns the non-transactional audit write path. Transactional
// entries are written straight through the store handed to RecordIn, so
// they stay inside the caller's transaction.
type AuditClient struct {
	baseURL string
	secret  string
	client  *http.Client
	logger  *slog.Logger
	clock   interface{ Now() time.Time }
}

var _ audit.Recorder = (*AuditClient)(nil)

func NewAuditClient(baseURL, secret string, logger *slog.Logger, clk interface{ Now() time.Time }) *AuditClient {
	return &AuditClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
		clock:   clk,
	}
}

// AuditEventPayload is the wire form of one reported audit entry.
type AuditEventPayload struct {
	UserID      *string        `json:"userId,omitempty"`
	PerformedBy *string        `json:"performedBy,omitempty"`
	Action      string         `json:"action"`
	Resource    string         `json:"resource,omitempty"`
	IPAddress   string         `json:"ipAddress,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
}

// Record posts the entry to the auth service. Fire-and-forget: a failed
// report is logged and never propagated, the primary operation has already
// happened.
func (c *AuditClient) Record(ctx context.Context, e audit.Entry) {
	payload := AuditEventPayload{
		Action:    string(e.Action),
		Resource:  e.Resource,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		Metadata:  e.Metadata,
		Success:   e.Success,
		Error:     e.Error,
	}
	if e.UserID != nil {
		id := e.UserID.String()
		payload.UserID = &id
	}
	if e.PerformedBy != nil {
		id := e.PerformedBy.String()
		payload.PerformedBy = &id
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("audit_report_marshal_failed", "action", payload.Action, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/internal/audit-log", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("audit_report_failed", "action", payload.Action, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(InternalSecretHeader, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("audit_report_failed", "action", payload.Action, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		c.logger.Error("audit_report_rejected", "action", payload.Action, "status", resp.StatusCode)
	}
}

// RecordIn bypasses HTTP and appends through the given store, keeping the
// row inside the enclosing transaction.
func (c *AuditClient) RecordIn(ctx context.Context, st storage.Store, e audit.Entry) {
	row := audit.Materialize(e, c.clock.Now())
	if err := st.AppendAuditLog(ctx, row); err != nil {
		c.logger.Error("audit_append_failed", "action", string(e.Action), "error", err)
	}
}
