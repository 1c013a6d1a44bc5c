package jobsync

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/meshforge/studio/internal/domain"
)

var codecNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantErr bool
		check   func(t *testing.T, ev domain.Event)
	}{
		{
			name: "connected greeting",
			msg:  `{"type":"connected","job_id":"j1","current_status":"processing","progress":15,"timestamp":"2024-05-01T09:59:59.123456"}`,
			check: func(t *testing.T, ev domain.Event) {
				if ev.Kind != domain.EventConnected || ev.Status != domain.JobStatusProcessing || ev.Progress != 15 {
					t.Errorf("ev = %+v", ev)
				}
				if want := time.Date(2024, 5, 1, 9, 59, 59, 123456000, time.UTC); !ev.Timestamp.Equal(want) {
					t.Errorf("timestamp = %v, want %v", ev.Timestamp, want)
				}
			},
		},
		{
			name: "pong without job id is tagged",
			msg:  `{"type":"pong"}`,
			check: func(t *testing.T, ev domain.Event) {
				if ev.Kind != domain.EventPong || ev.JobID != "j1" || !ev.Timestamp.Equal(codecNow) {
					t.Errorf("ev = %+v", ev)
				}
			},
		},
		{
			name: "error code defaults",
			msg:  `{"type":"error","job_id":"j1","error":{"message":"boom"}}`,
			check: func(t *testing.T, ev domain.Event) {
				if ev.Error.Code != "UNKNOWN" || ev.Error.Message != "boom" || ev.Status != domain.JobStatusFailed {
					t.Errorf("ev = %+v err=%+v", ev, ev.Error)
				}
			},
		},
		{
			name: "status update cancelled is terminal",
			msg:  `{"type":"status_update","job_id":"j1","status":"cancelled"}`,
			check: func(t *testing.T, ev domain.Event) {
				if !ev.IsTerminal() {
					t.Error("cancelled status_update not terminal")
				}
			},
		},
		{
			name: "stage complete",
			msg:  `{"type":"stage_complete","job_id":"j1","stage":"generating_slat","message":"done"}`,
			check: func(t *testing.T, ev domain.Event) {
				if ev.Stage != "generating_slat" || ev.Message != "done" {
					t.Errorf("ev = %+v", ev)
				}
			},
		},
		{name: "malformed", msg: `{"type":`, wantErr: true},
		{name: "unknown type", msg: `{"type":"ping"}`, wantErr: true},
		{name: "foreign job", msg: `{"type":"pong","job_id":"j2"}`, wantErr: true},
		{name: "bad timestamp", msg: `{"type":"pong","timestamp":"yesterday"}`, wantErr: true},
		{name: "negative stage progress", msg: `{"type":"progress_update","progress":1,"stage_progress":-1}`, wantErr: true},
		{name: "progress with terminal status", msg: `{"type":"progress_update","progress":1,"status":"completed"}`, wantErr: true},
		{name: "status update without status", msg: `{"type":"status_update"}`, wantErr: true},
		{name: "completion without result", msg: `{"type":"completion"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeEvent([]byte(tt.msg), "j1", codecNow)
			if tt.wantErr {
				if !errors.Is(err, ErrProtocolAnomaly) {
					t.Fatalf("err = %v, want ErrProtocolAnomaly", err)
				}
				if ev.Kind != "" {
					t.Errorf("partial event returned: %+v", ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEvent: %v", err)
			}
			tt.check(t, ev)
		})
	}
}

func TestEncodePing(t *testing.T) {
	var msg map[string]string
	if err := json.Unmarshal(encodePing(codecNow), &msg); err != nil {
		t.Fatal(err)
	}
	if msg["type"] != "ping" || msg["timestamp"] != "2024-05-01T10:00:00Z" {
		t.Errorf("ping = %v", msg)
	}
}

func TestEventFromJob(t *testing.T) {
	tests := []struct {
		name     string
		job      *domain.Job
		wantKind domain.EventKind
		wantOK   bool
		wantErr  bool
	}{
		{"queued", &domain.Job{JobID: "j1", Status: domain.JobStatusQueued}, domain.EventProgressUpdate, true, false},
		{"processing", &domain.Job{JobID: "j1", Status: domain.JobStatusProcessing, Progress: 40}, domain.EventProgressUpdate, true, false},
		{"completed", &domain.Job{JobID: "j1", Status: domain.JobStatusCompleted, Result: &domain.JobResult{GLBURL: "g"}}, domain.EventCompletion, true, false},
		{"completed without result", &domain.Job{JobID: "j1", Status: domain.JobStatusCompleted}, "", false, false},
		{"failed", &domain.Job{JobID: "j1", Status: domain.JobStatusFailed, Error: &domain.JobError{Code: "GEN_FAIL", Message: "OOM"}}, domain.EventError, true, false},
		{"failed without error", &domain.Job{JobID: "j1", Status: domain.JobStatusFailed}, domain.EventError, true, false},
		{"cancelled", &domain.Job{JobID: "j1", Status: domain.JobStatusCancelled}, domain.EventStatusUpdate, true, false},
		{"other job", &domain.Job{JobID: "j2", Status: domain.JobStatusQueued}, "", false, true},
		{"unknown status", &domain.Job{JobID: "j1", Status: "paused"}, "", false, true},
		{"nil", nil, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := eventFromJob(tt.job, "j1", codecNow)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK || ev.Kind != tt.wantKind {
				t.Fatalf("got (%q, %v), want (%q, %v)", ev.Kind, ok, tt.wantKind, tt.wantOK)
			}
			if ok && ev.JobID != "j1" {
				t.Errorf("JobID = %q", ev.JobID)
			}
			if ev.Kind == domain.EventError && (ev.Error == nil || ev.Error.Message == "") {
				t.Errorf("error event without error triple: %+v", ev)
			}
			if ev.Kind == domain.EventCompletion && ev.Progress != 100 {
				t.Errorf("completion progress = %d", ev.Progress)
			}
		})
	}
}
