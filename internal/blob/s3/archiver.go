package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// DecisionArchiver uploads bandit decisions as JSONL and arm-state
// snapshots as JSON. It remembers the highest decision Seq it has archived
// so a periodic job can pass the full history each time.
type DecisionArchiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore // optional
	now    func() time.Time

	mu       sync.Mutex
	archived uint64
}

// NewDecisionArchiver creates a DecisionArchiver. audit may be nil.
func NewDecisionArchiver(writer domain.BlobWriter, audit domain.AuditStore) *DecisionArchiver {
	return &DecisionArchiver{writer: writer, audit: audit, now: time.Now}
}

// Archive uploads the decisions sequenced after the last archived one to
// archive/decisions/YYYY-MM-DD/<uuid>.jsonl. It returns the number written
// and the object path; nothing new means (0, "", nil).
func (a *DecisionArchiver) Archive(ctx context.Context, decisions []domain.Decision) (int, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending := make([]domain.Decision, 0, len(decisions))
	newest := a.archived
	for _, d := range decisions {
		if d.Seq <= a.archived {
			continue
		}
		pending = append(pending, d)
		newest = max(newest, d.Seq)
	}
	if len(pending) == 0 {
		return 0, "", nil
	}

	buf, err := marshalJSONL(pending)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive decisions marshal: %w", err)
	}

	path := decisionPath(a.now(), uuid.NewString())
	if int64(len(buf)) > MinPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive decisions upload: %w", err)
	}
	a.archived = newest

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.decisions", map[string]any{
			"path":  path,
			"count": len(pending),
		}); err != nil {
			return len(pending), path, fmt.Errorf("s3blob: archive decisions audit log: %w", err)
		}
	}
	return len(pending), path, nil
}

// Snapshot uploads states as a JSON array to snapshots/state/<unix>.json.
func (a *DecisionArchiver) Snapshot(ctx context.Context, states []domain.ArmState) (string, error) {
	buf, err := json.Marshal(states)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot marshal: %w", err)
	}
	path := fmt.Sprintf("snapshots/state/%d.json", a.now().Unix())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: snapshot upload: %w", err)
	}
	return path, nil
}

// decisionPath partitions archives by UTC day.
func decisionPath(at time.Time, id string) string {
	return fmt.Sprintf("archive/decisions/%s/%s.jsonl", at.UTC().Format("2006-01-02"), id)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
