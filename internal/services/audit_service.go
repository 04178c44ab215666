package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/auditctx"
	"github.com/charlesng35/authguard/internal/models"
	"github.com/charlesng35/authguard/pkg/logger"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	Action     string
	ActorID    *string
	TargetID   *string
	EntityType string
	EntityID   string
	IPAddress  string
	UserAgent  string
	Details    map[string]any
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	Action  string
	ActorID string
	Since   *time.Time
	Until   *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditConfig configures the asynchronous audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	Clock      func() time.Time
}

// AuditService persists and retrieves audit log entries. Record queues entries on a
// background dispatcher so callers never wait on, or fail because of, audit persistence.
type AuditService struct {
	db         *gorm.DB
	dispatcher *Dispatcher[AuditEntry]
	now        func() time.Time
	log        *zap.Logger
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB, cfg AuditConfig) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	svc := &AuditService{db: db, now: clock, log: logger.WithModule("audit")}
	if cfg.Enabled {
		svc.dispatcher = NewDispatcher(DispatcherConfig{
			Name:       "audit",
			BufferSize: cfg.BufferSize,
			DropIfFull: cfg.DropIfFull,
		}, svc.Log)
	}
	return svc, nil
}

// Record queues an entry for persistence. Without a dispatcher the entry is written inline
// and failures are only logged.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	if s == nil {
		return
	}
	entry = withRequestActor(ctx, entry)
	if s.dispatcher != nil {
		s.dispatcher.Emit(ctx, entry)
		return
	}
	if err := s.Log(ctx, entry); err != nil {
		s.log.Warn("audit write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

// Log stores an audit entry, marshalling details into JSON form.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	if ctx == nil {
		ctx = context.Background()
	}

	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return errors.New("audit service: action is required")
	}
	entry = withRequestActor(ctx, entry)

	row := models.AuditLog{
		Action:     action,
		ActorID:    trimmedID(entry.ActorID),
		TargetID:   trimmedID(entry.TargetID),
		EntityType: strings.TrimSpace(entry.EntityType),
		EntityID:   strings.TrimSpace(entry.EntityID),
		IPAddress:  strings.TrimSpace(entry.IPAddress),
		UserAgent:  truncate(strings.TrimSpace(entry.UserAgent), 512),
		CreatedAt:  s.now().UTC(),
	}

	if entry.Details != nil {
		encoded, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("audit service: marshal details: %w", err)
		}
		row.Details = datatypes.JSON(encoded)
	}

	return s.db.WithContext(ctx).Create(&row).Error
}

// List returns paginated audit logs ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.AuditLog
		total   int64
	)

	query := applyAuditFilters(s.db.WithContext(ctx).Model(&models.AuditLog{}), opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes audit logs older than the supplied retention window (in days).
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// Close drains queued entries.
func (s *AuditService) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.dispatcher.Close(ctx)
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.ActorID != "" {
		query = query.Where("actor_id = ?", filters.ActorID)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}

// withRequestActor fills address, user agent and actor from the request metadata when the
// caller left them empty.
func withRequestActor(ctx context.Context, entry AuditEntry) AuditEntry {
	actor, ok := auditctx.FromContext(ctx)
	if !ok {
		return entry
	}
	if entry.IPAddress == "" {
		entry.IPAddress = actor.IPAddress
	}
	if entry.UserAgent == "" {
		entry.UserAgent = actor.UserAgent
	}
	if trimmedID(entry.ActorID) == nil && actor.UserID != "" {
		id := actor.UserID
		entry.ActorID = &id
	}
	return entry
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

func trimmedID(id *string) *string {
	if id == nil {
		return nil
	}
	value := strings.TrimSpace(*id)
	if value == "" {
		return nil
	}
	return &value
}
