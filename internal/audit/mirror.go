package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/common/metrics"
	"opz-funnels/internal/models"
)

// Mirror copies every appended entry into an Elasticsearch index for
// back-office search. Reads are served by the wrapped log.
type Mirror struct {
	Log
	es     *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewMirror(primary Log, es *elasticsearch.Client, index string, log logger.Logger) *Mirror {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Mirror{Log: primary, es: es, index: index, logger: log}
}

// Append writes to the primary log first. Mirror failures are logged only.
func (m *Mirror) Append(ctx context.Context, entry models.ReferralEntry) error {
	if err := m.Log.Append(ctx, entry); err != nil {
		return err
	}
	if err := m.indexEntry(ctx, entry); err != nil {
		metrics.AuditWriteFailures.WithLabelValues("elasticsearch").Inc()
		m.logger.Warn("audit mirror write failed", map[string]interface{}{
			"index":   m.index,
			"userRef": entry.UserRef,
			"error":   err,
		})
	}
	return nil
}

func (m *Mirror) indexEntry(ctx context.Context, entry models.ReferralEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	res, err := m.es.Index(
		m.index,
		bytes.NewReader(body),
		m.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index entry: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index entry: %s", res.Status())
	}
	return nil
}
