package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/pkg/repo"
)

// ExplanationLabel is the node label for stored explanations.
const ExplanationLabel = "Explanation"

// recordRepo is the part of repo.Repository GraphRecords needs.
type recordRepo interface {
	Get(ctx context.Context, id string) (domain.ExplanationRecord, error)
	Upsert(ctx context.Context, rec domain.ExplanationRecord) (domain.ExplanationRecord, error)
}

// GraphRecords stores explanations as Neo4j nodes keyed by user_id. The
// full record rides along as a JSON property so feature order survives.
type GraphRecords struct {
	repo recordRepo
}

var _ Records = (*GraphRecords)(nil)

// NewGraphRecords builds GraphRecords on a Neo4j driver.
func NewGraphRecords(driver neo4j.DriverWithContext, database string) *GraphRecords {
	return &GraphRecords{repo: repo.NewNeo4jRepo[domain.ExplanationRecord, string](
		driver, ExplanationLabel, explanationProps, explanationFromRecord,
		repo.WithIDKey[domain.ExplanationRecord, string]("user_id"),
		repo.WithDatabase[domain.ExplanationRecord, string](database),
	)}
}

// Get returns the record for key.
func (g *GraphRecords) Get(ctx context.Context, key string) (domain.ExplanationRecord, error) {
	rec, err := g.repo.Get(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ExplanationRecord{}, fmt.Errorf("records: %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ExplanationRecord{}, fmt.Errorf("records: neo4j get %s: %w", key, err)
	}
	return rec, nil
}

// Put merges the record node.
func (g *GraphRecords) Put(ctx context.Context, rec domain.ExplanationRecord) error {
	if rec.UserID == "" {
		return domain.NewValidationError("user_id", "", domain.ErrRequired)
	}
	if _, err := g.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("records: neo4j put %s: %w", rec.UserID, err)
	}
	return nil
}

func explanationProps(rec domain.ExplanationRecord) map[string]any {
	payload, _ := json.Marshal(rec)
	return map[string]any{
		"user_id":     rec.UserID,
		"disease":     rec.Disease,
		"prediction":  rec.Prediction,
		"probability": rec.Probability,
		"features":    len(rec.Features),
		"payload":     string(payload),
	}
}

func explanationFromRecord(rec *neo4j.Record) (domain.ExplanationRecord, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.ExplanationRecord{}, fmt.Errorf("records: decode node: %w", err)
	}
	return explanationFromProps(node.Props)
}

func explanationFromProps(props map[string]any) (domain.ExplanationRecord, error) {
	payload, ok := props["payload"].(string)
	if !ok {
		return domain.ExplanationRecord{}, &domain.DataError{Input: fmt.Sprint(props["user_id"]), Err: domain.ErrCorruptPayload}
	}
	var out domain.ExplanationRecord
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return domain.ExplanationRecord{}, err
	}
	return out, nil
}
