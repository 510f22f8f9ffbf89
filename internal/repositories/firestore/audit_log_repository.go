package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tiendaplus/api/internal/domain"
	pfirestore "github.com/tiendaplus/api/internal/platform/firestore"
	"github.com/tiendaplus/api/internal/platform/pagination"
	"github.com/tiendaplus/api/internal/repositories"
)

const auditLogCollection = "auditLogs"

type auditLogDocument struct {
	Actor     string         `firestore:"actor"`
	ActorType string         `firestore:"actorType,omitempty"`
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Diff      map[string]any `firestore:"diff,omitempty"`
	IPHash    string         `firestore:"ipHash,omitempty"`
	UserAgent string         `firestore:"userAgent,omitempty"`
	Severity  string         `firestore:"severity,omitempty"`
	RequestID string         `firestore:"requestId,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

// AuditLogRepository stores the audit trail of staff and checkout mutations in Firestore.
type AuditLogRepository struct {
	entries *pfirestore.Collection[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{
		entries: pfirestore.NewCollection[auditLogDocument](provider, auditLogCollection),
	}, nil
}

// Append writes the entry under its ID. A second append with the same ID is rejected as a conflict.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("audit log repository: entry id is required")
	}
	return r.entries.Create(ctx, entry.ID, auditLogDocument{
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Metadata:  entry.Metadata,
		Diff:      entry.Diff,
		IPHash:    entry.IPHash,
		UserAgent: entry.UserAgent,
		Severity:  entry.Severity,
		RequestID: entry.RequestID,
		CreatedAt: entry.CreatedAt.UTC(),
	})
}

// List returns entries newest first, filtered by target, actor or action.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	if size > pagination.DefaultMaxPageSize {
		size = pagination.DefaultMaxPageSize
	}

	docs, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		if target := strings.TrimSpace(filter.TargetRef); target != "" {
			q = q.Where("targetRef", "==", target)
		}
		if actor := strings.TrimSpace(filter.Actor); actor != "" {
			q = q.Where("actor", "==", actor)
		}
		if action := strings.TrimSpace(filter.Action); action != "" {
			q = q.Where("action", "==", action)
		}
		return q.OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Offset(cursor.Offset).
			Limit(size)
	})
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}

	items := make([]domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.AuditLogEntry{
			ID:        doc.ID,
			Actor:     doc.Data.Actor,
			ActorType: doc.Data.ActorType,
			Action:    doc.Data.Action,
			TargetRef: doc.Data.TargetRef,
			Metadata:  doc.Data.Metadata,
			Diff:      doc.Data.Diff,
			IPHash:    doc.Data.IPHash,
			UserAgent: doc.Data.UserAgent,
			Severity:  doc.Data.Severity,
			RequestID: doc.Data.RequestID,
			CreatedAt: doc.Data.CreatedAt,
		})
	}
	return domain.CursorPage[domain.AuditLogEntry]{
		Items:         items,
		NextPageToken: pagination.NextToken(cursor.Offset, size, len(items)),
	}, nil
}
