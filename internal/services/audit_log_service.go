package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/platform/requestctx"
	"github.com/tiendaplus/api/internal/repositories"
)

const (
	auditIDPrefix        = "aud_"
	defaultAuditSeverity = "info"
	defaultActorType     = "unknown"
	ipHashPrefix         = "sha256:"
)

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	HashSalt    string
}

type auditLogService struct {
	repo     repositories.AuditLogRepository
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	hashSalt string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &auditLogService{
		repo:     deps.Repository,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
		hashSalt: deps.HashSalt,
	}, nil
}

// Record persists an audit log entry. Request id, client IP and user agent default to the values the
// HTTP edge stored on ctx. Repository failures are logged and never reach the caller:
// the business mutation has already committed.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	client := requestctx.ClientFrom(ctx)
	record.RequestID = firstNonEmpty(record.RequestID, client.RequestID)
	record.IPAddress = firstNonEmpty(record.IPAddress, client.IP)
	record.UserAgent = firstNonEmpty(record.UserAgent, client.UserAgent)

	entry := s.buildEntry(record)
	if entry.Action == "" {
		s.logger(ctx, "audit.record.skipped", map[string]any{"reason": "missing action"})
		return
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.record.failed", map[string]any{
			"action":    entry.Action,
			"targetRef": entry.TargetRef,
			"error":     err.Error(),
		})
	}
}

// List returns audit entries newest first.
func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	return s.repo.List(ctx, repositories.AuditLogFilter{
		TargetRef:  strings.TrimSpace(filter.TargetRef),
		Actor:      strings.TrimSpace(filter.Actor),
		Action:     strings.TrimSpace(filter.Action),
		Pagination: filter.Pagination,
	})
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	entry := domain.AuditLogEntry{
		ID:        auditIDPrefix + s.newID(),
		Actor:     sanitizeText(record.Actor, 160),
		ActorType: normalizeActorType(record.ActorType),
		Action:    sanitizeText(record.Action, 120),
		TargetRef: sanitizeText(record.TargetRef, 200),
		Severity:  normalizeSeverity(record.Severity),
		RequestID: sanitizeText(record.RequestID, 128),
		UserAgent: sanitizeText(record.UserAgent, 256),
		CreatedAt: s.now(),
	}
	if len(record.Metadata) > 0 {
		entry.Metadata = make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			if key = sanitizeText(key, 80); key != "" {
				entry.Metadata[key] = sanitizeAuditValue(value)
			}
		}
	}
	if len(record.Diff) > 0 {
		entry.Diff = make(map[string]any, len(record.Diff))
		for key, diff := range record.Diff {
			if key = sanitizeText(key, 80); key != "" {
				entry.Diff[key] = map[string]any{
					"before": sanitizeAuditValue(diff.Before),
					"after":  sanitizeAuditValue(diff.After),
				}
			}
		}
	}
	if ip := strings.TrimSpace(record.IPAddress); ip != "" {
		sum := sha256.Sum256([]byte(s.hashSalt + ip))
		entry.IPHash = ipHashPrefix + hex.EncodeToString(sum[:])
	}
	return entry
}

func normalizeActorType(actorType string) string {
	switch normalized := strings.ToLower(strings.TrimSpace(actorType)); normalized {
	case "customer", "staff", "system", "webhook":
		return normalized
	default:
		return defaultActorType
	}
}

func normalizeSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return defaultAuditSeverity
	}
}

func sanitizeAuditValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeText(v, 512)
	case fmt.Stringer:
		return sanitizeText(v.String(), 512)
	default:
		return v
	}
}

// sanitizeText drops control characters and truncates to limit bytes.
func sanitizeText(input string, limit int) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
