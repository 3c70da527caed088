// Package webhook parses, verifies, and filters storage upload
// notifications before they reach the processing queue.
package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StorageEvent is the envelope delivered by the object store on row
// changes in its objects table.
type StorageEvent struct {
	Type   string        `json:"type"`
	Table  string        `json:"table"`
	Schema string        `json:"schema"`
	Record *StorageRecord `json:"record"`
}

// StorageRecord describes the uploaded object.
type StorageRecord struct {
	Name     string          `json:"name"`
	BucketID string          `json:"bucket_id"`
	Metadata *ObjectMetadata `json:"metadata"`
}

// ObjectMetadata carries upstream object metadata. ETag participates in
// duplicate suppression.
type ObjectMetadata struct {
	ETag     string `json:"eTag"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimetype"`
}

// ParseEvent decodes the envelope.
func ParseEvent(body []byte) (*StorageEvent, error) {
	var ev StorageEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}
	return &ev, nil
}

// FilterResult explains why an event was not accepted for processing.
type FilterResult struct {
	Accepted bool
	Reason   string
}

// Filter decides whether the event names a processable recording upload.
// Only INSERT events on the objects table, in the expected bucket, with a
// .c3d extension pass.
func (e *StorageEvent) Filter(expectedBucket string) FilterResult {
	if e.Type != "INSERT" {
		return FilterResult{Reason: fmt.Sprintf("ignoring event type %q", e.Type)}
	}
	if e.Table != "objects" {
		return FilterResult{Reason: fmt.Sprintf("ignoring table %q", e.Table)}
	}
	if e.Schema != "" && e.Schema != "storage" {
		return FilterResult{Reason: fmt.Sprintf("ignoring schema %q", e.Schema)}
	}
	if e.Record == nil || e.Record.Name == "" {
		return FilterResult{Reason: "event has no object record"}
	}
	if expectedBucket != "" && e.Record.BucketID != expectedBucket {
		return FilterResult{Reason: fmt.Sprintf("ignoring bucket %q", e.Record.BucketID)}
	}
	if !strings.HasSuffix(strings.ToLower(e.Record.Name), ".c3d") {
		return FilterResult{Reason: fmt.Sprintf("ignoring non-recording object %q", e.Record.Name)}
	}
	return FilterResult{Accepted: true}
}

// ETag returns the object ETag, empty when metadata is absent.
func (e *StorageEvent) ETag() string {
	if e.Record == nil || e.Record.Metadata == nil {
		return ""
	}
	return e.Record.Metadata.ETag
}
