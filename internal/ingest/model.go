// Package ingest implements the event intake pipeline: raw capture,
// deduplication, rule validation, and promotion into the trusted store.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Processing statuses recorded on a raw ingestion row. A row starts as
// REJECTED and is only promoted once the guarded transaction commits.
const (
	StatusAccepted  = "ACCEPTED"
	StatusRejected  = "REJECTED"
	StatusDuplicate = "DUPLICATE"
)

const DefaultSchemaVersion = "v1"

var (
	// ErrRawNotFound is returned when a raw ingestion row does not exist.
	ErrRawNotFound = errors.New("raw ingestion not found")
)

// Request is a single event submission as received on the wire.
type Request struct {
	Source         string         `json:"source"`
	ExternalID     string         `json:"external_id"`
	SchemaVersion  string         `json:"schema_version"`
	EntityID       string         `json:"entity_id"`
	EventType      string         `json:"event_type"`
	EventStatus    string         `json:"event_status"`
	EventTimestamp time.Time      `json:"event_timestamp"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// Validate checks structural shape only. Business rules (allowed types
// and statuses) are applied later by the validator so that malformed
// values still produce a durable rejected row rather than a 4xx.
func (r *Request) Validate() error {
	if r.SchemaVersion == "" {
		r.SchemaVersion = DefaultSchemaVersion
	}
	if strings.TrimSpace(r.Source) == "" {
		return errors.New("source is required")
	}
	if err := requireLen("external_id", r.ExternalID, 120); err != nil {
		return err
	}
	if err := requireLen("entity_id", r.EntityID, 120); err != nil {
		return err
	}
	if err := requireLen("event_type", r.EventType, 50); err != nil {
		return err
	}
	if err := requireLen("event_status", r.EventStatus, 50); err != nil {
		return err
	}
	if r.EventTimestamp.IsZero() {
		return errors.New("event_timestamp is required")
	}
	return nil
}

func requireLen(field, value string, max int) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > max {
		return fmt.Errorf("%s exceeds %d characters", field, max)
	}
	return nil
}

// Meta carries transport-level request attributes into the pipeline.
type Meta struct {
	ClientIP  string
	UserAgent string
}

// RawIngestion is the immutable record of a single submission attempt.
// Every submission produces exactly one row, whatever its outcome.
type RawIngestion struct {
	ID               int64     `json:"id"`
	SourceID         int64     `json:"source_id"`
	ExternalID       string    `json:"external_id"`
	SchemaVersion    string    `json:"schema_version"`
	EventTimestamp   time.Time `json:"event_timestamp"`
	ReceivedAt       time.Time `json:"received_at"`
	PayloadRaw       string    `json:"payload_raw"`
	PayloadHash      string    `json:"payload_hash"`
	ProcessingStatus string    `json:"processing_status"`
	ErrorCount       int       `json:"error_count"`
	RequestID        string    `json:"request_id"`
	ClientIP         string    `json:"client_ip,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
}

// Rejection records one business-rule violation for a raw ingestion.
type Rejection struct {
	ID             int64     `json:"id"`
	RawIngestionID int64     `json:"raw_ingestion_id"`
	Category       string    `json:"category"`
	Field          string    `json:"field"`
	Rule           string    `json:"rule"`
	Message        string    `json:"message"`
	Severity       string    `json:"severity"`
	CreatedAt      time.Time `json:"created_at"`
}

// Result is the pipeline outcome returned to the caller.
type Result struct {
	Status     string `json:"status"`
	RawID      int64  `json:"raw_id"`
	TrustedID  int64  `json:"trusted_id,omitempty"`
	ErrorCount int    `json:"error_count,omitempty"`
	RequestID  string `json:"request_id"`
}

// CanonicalPayload renders the request as canonical JSON: object keys
// sorted, no insignificant whitespace. Two submissions with the same
// content always serialize to the same bytes.
func CanonicalPayload(r *Request) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	// Round-trip through a map so encoding/json emits sorted keys.
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("normalizing request: %w", err)
	}
	canonical, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing request: %w", err)
	}
	return canonical, nil
}

// PayloadHash returns the hex SHA-256 digest of canonical payload bytes.
func PayloadHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
