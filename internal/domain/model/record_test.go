package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusWorking.Valid())
	assert.True(t, StatusDone.Valid())
	assert.True(t, StatusError.Valid())
	assert.False(t, Status("running").Valid())
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusWorking.Terminal())
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusError.Terminal())
}

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusWorking, true},
		{StatusPending, StatusDone, false},
		{StatusPending, StatusError, false},
		{StatusPending, StatusPending, false},
		{StatusWorking, StatusWorking, true},
		{StatusWorking, StatusDone, true},
		{StatusWorking, StatusError, true},
		{StatusWorking, StatusPending, false},
		{StatusDone, StatusWorking, false},
		{StatusDone, StatusDone, false},
		{StatusError, StatusWorking, false},
		{StatusError, StatusError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestDomain_Key(t *testing.T) {
	assert.Equal(t, "summarize:abc123", DomainSummarize.Key("abc123"))
	assert.Equal(t, "transcription:abc123", DomainTranscription.Key("abc123"))
}

func TestDomain_UnmarshalText(t *testing.T) {
	var d Domain
	require.NoError(t, d.UnmarshalText([]byte(" Summarize ")))
	assert.Equal(t, DomainSummarize, d)

	assert.Error(t, d.UnmarshalText([]byte("crawl")))
}

func TestJobRecord_WireFormat_OmitsAbsentFields(t *testing.T) {
	data, err := EncodeRecord(&JobRecord{Status: StatusPending})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"pending"}`, string(data))

	done := &JobRecord{Status: StatusDone, Result: "a summary"}
	done.SetExpiry(time.Date(2025, 4, 17, 0, 0, 0, 0, time.UTC))
	data, err = EncodeRecord(done)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"done","result":"a summary","expires_at":"2025-04-17T00:00:00Z"}`, string(data))
}

func TestJobRecord_WireFormat_ErrorField(t *testing.T) {
	rec := &JobRecord{Status: StatusError, ErrorKind: string(FailureInference)}
	data, err := EncodeRecord(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "inference-failed", raw["error"])
	assert.NotContains(t, raw, "error_kind")
	assert.NotContains(t, raw, "result")
}

func TestDecodeRecord(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"status":"working"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, rec.Status)

	_, err = DecodeRecord([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeRecord([]byte(`{"status":"bogus"}`))
	assert.Error(t, err)
}

func TestJobRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rec     JobRecord
		wantErr bool
	}{
		{"pending bare", JobRecord{Status: StatusPending}, false},
		{"done with result", JobRecord{Status: StatusDone, Result: "x"}, false},
		{"error with kind", JobRecord{Status: StatusError, ErrorKind: "inference-failed"}, false},
		{"pending with result", JobRecord{Status: StatusPending, Result: "x"}, true},
		{"working with error kind", JobRecord{Status: StatusWorking, ErrorKind: "x"}, true},
		{"invalid status", JobRecord{Status: "running"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
