package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertEvent(bucket, name string) *StorageEvent {
	return &StorageEvent{
		Type:   "INSERT",
		Table:  "objects",
		Schema: "storage",
		Record: &StorageRecord{
			Name:     name,
			BucketID: bucket,
			Metadata: &ObjectMetadata{ETag: "abc123", Size: 4096},
		},
	}
}

func TestFilterAcceptsRecordingUpload(t *testing.T) {
	result := insertEvent("c3d-examples", "P001/session.c3d").Filter("c3d-examples")
	assert.True(t, result.Accepted)

	// Extension match is case insensitive.
	result = insertEvent("c3d-examples", "P001/SESSION.C3D").Filter("c3d-examples")
	assert.True(t, result.Accepted)
}

func TestFilterRejections(t *testing.T) {
	tests := []struct {
		name  string
		event *StorageEvent
	}{
		{"update event", &StorageEvent{Type: "UPDATE", Table: "objects",
			Record: &StorageRecord{Name: "P001/session.c3d", BucketID: "c3d-examples"}}},
		{"wrong table", &StorageEvent{Type: "INSERT", Table: "buckets",
			Record: &StorageRecord{Name: "P001/session.c3d", BucketID: "c3d-examples"}}},
		{"wrong schema", &StorageEvent{Type: "INSERT", Table: "objects", Schema: "public",
			Record: &StorageRecord{Name: "P001/session.c3d", BucketID: "c3d-examples"}}},
		{"wrong bucket", insertEvent("avatars", "P001/session.c3d")},
		{"wrong extension", insertEvent("c3d-examples", "P001/notes.txt")},
		{"no record", &StorageEvent{Type: "INSERT", Table: "objects"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.event.Filter("c3d-examples")
			assert.False(t, result.Accepted)
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestParseEventMalformed(t *testing.T) {
	_, err := ParseEvent([]byte(`{"type": `))
	require.Error(t, err)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureFormats(t *testing.T) {
	v := NewVerifier("topsecret", zerolog.Nop())
	body := []byte(`{"type":"INSERT"}`)
	digest := sign("topsecret", body)

	require.NoError(t, v.Verify(body, "sha256="+digest))
	require.NoError(t, v.Verify(body, digest))
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	v := NewVerifier("topsecret", zerolog.Nop())
	body := []byte(`{"type":"INSERT"}`)

	assert.Error(t, v.Verify(body, ""))
	assert.Error(t, v.Verify(body, "sha256=deadbeef"))
	assert.Error(t, v.Verify(body, "not-hex!"))
	assert.Error(t, v.Verify(body, sign("wrongsecret", body)))

	// Tampered body fails against a signature of the original.
	digest := sign("topsecret", body)
	assert.Error(t, v.Verify([]byte(`{"type":"DELETE"}`), digest))
}

func TestVerifyDisabledWithoutSecret(t *testing.T) {
	v := NewVerifier("", zerolog.Nop())
	assert.False(t, v.Enabled())
	require.NoError(t, v.Verify([]byte("anything"), ""))
}

func TestDeduperWindow(t *testing.T) {
	d := NewDeduper(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }

	_, dup := d.Seen("b", "P001/a.c3d", "etag1")
	assert.False(t, dup)
	d.Record("b", "P001/a.c3d", "etag1", "P001S001")

	// A redelivery within the window answers with the recorded code.
	code, dup := d.Seen("b", "P001/a.c3d", "etag1")
	assert.True(t, dup)
	assert.Equal(t, "P001S001", code)

	// Different etag is a distinct upload.
	_, dup = d.Seen("b", "P001/a.c3d", "etag2")
	assert.False(t, dup)

	// Outside the window the triple is forgotten.
	now = now.Add(2 * time.Minute)
	_, dup = d.Seen("b", "P001/a.c3d", "etag1")
	assert.False(t, dup)
}

func TestDeduperUnrecordedDeliveryIsNotDuplicate(t *testing.T) {
	d := NewDeduper(time.Minute)

	// Seen alone records nothing: a delivery whose intake failed can be
	// retried.
	_, dup := d.Seen("b", "P001/a.c3d", "etag1")
	assert.False(t, dup)
	_, dup = d.Seen("b", "P001/a.c3d", "etag1")
	assert.False(t, dup)
}
