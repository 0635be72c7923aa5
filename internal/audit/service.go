package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/querypilot/backend/internal/storage/models"
	"github.com/querypilot/backend/pkg/logger"
	"github.com/querypilot/backend/pkg/utils"
	"go.uber.org/zap"
)

// Store is the persistence surface the audit service writes to.
type Store interface {
	InsertAuditRecord(ctx context.Context, record *models.AuditRecord) error
	GetAuditStats(ctx context.Context, collectionID int64) (*models.AuditStats, error)
}

// Entry is one completed request to be written to the audit trail. Query is
// hashed before persistence; Params are redacted.
type Entry struct {
	QueryID            string
	CollectionID       int64
	Query              string
	Intent             string
	PlanJSON           string
	CompiledSQL        string
	Params             map[string]interface{}
	RowCount           int
	LatencyMS          int
	LLMRoute           string
	SentContextChars   int
	TemplateID         string
	TemplateName       string
	TemplateMatchCount int
}

// Service writes the append-only audit trail. Writes are best-effort:
// failures are logged and never abort the user-facing response.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// LogQuery persists one audit row. The raw query text is never stored; only
// its normalized hash.
func (s *Service) LogQuery(ctx context.Context, entry Entry) {
	record := &models.AuditRecord{
		QueryID:            entry.QueryID,
		CollectionID:       entry.CollectionID,
		UserQueryHash:      utils.HashQuery(entry.Query),
		Intent:             entry.Intent,
		PlanJSON:           entry.PlanJSON,
		CompiledSQL:        entry.CompiledSQL,
		ParamsJSON:         marshalRedacted(entry.Params),
		RowCount:           entry.RowCount,
		LatencyMS:          entry.LatencyMS,
		LLMRoute:           entry.LLMRoute,
		SentContextChars:   entry.SentContextChars,
		TemplateID:         entry.TemplateID,
		TemplateName:       entry.TemplateName,
		TemplateMatchCount: entry.TemplateMatchCount,
		CreatedAt:          time.Now(),
	}

	if err := s.store.InsertAuditRecord(ctx, record); err != nil {
		logger.Error("Failed to write audit record",
			zap.String("query_id", entry.QueryID),
			zap.Int64("collection_id", entry.CollectionID),
			zap.Error(err),
		)
	}
}

// Stats aggregates the audit trail for one collection.
func (s *Service) Stats(ctx context.Context, collectionID int64) (*models.AuditStats, error) {
	return s.store.GetAuditStats(ctx, collectionID)
}

func marshalRedacted(params map[string]interface{}) string {
	if len(params) == 0 {
		return "{}"
	}
	data, err := json.Marshal(RedactParams(params))
	if err != nil {
		logger.Warn("Failed to marshal redacted params", zap.Error(err))
		return "{}"
	}
	return string(data)
}
