package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/jobsync"
)

type fakeDownloader struct {
	downloadFn func(ctx context.Context, jobID string, kind domain.ArtifactKind, w io.Writer) (int64, error)
}

func (f *fakeDownloader) Download(ctx context.Context, jobID string, kind domain.ArtifactKind, w io.Writer) (int64, error) {
	return f.downloadFn(ctx, jobID, kind, w)
}

// fakeChannel replays scripted events from a goroutine once connected.
type fakeChannel struct {
	mu            sync.Mutex
	handlers      []jobsync.Handler
	onUnreachable func(string, error)
	script        func(c *fakeChannel, jobID string)
	disconnected  bool
}

func (f *fakeChannel) Connect(jobID string) error {
	go f.script(f, jobID)
	return nil
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakeChannel) AddHandler(h jobsync.Handler) jobsync.HandlerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
	return jobsync.HandlerID(len(f.handlers))
}

func (f *fakeChannel) OnUnreachable(fn func(string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUnreachable = fn
}

func (f *fakeChannel) emit(ev domain.Event) {
	f.mu.Lock()
	hs := append([]jobsync.Handler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func testCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(io.Discard)
	cmd.SetContext(context.Background())
	return cmd
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "done"); got != "done" {
		t.Errorf("colorize with noColor=true = %q", got)
	}
	noColor = false
	if got := colorize(colorGreen, "done"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=false = %q, want ANSI codes", got)
	}
}

func TestParseArtifactKinds(t *testing.T) {
	tests := []struct {
		in      string
		want    []domain.ArtifactKind
		wantErr bool
	}{
		{"glb,ply,preview", allArtifactKinds, false},
		{" GLB , glb ", []domain.ArtifactKind{domain.ArtifactGLB}, false},
		{"preview,", []domain.ArtifactKind{domain.ArtifactPreview}, false},
		{"obj", nil, true},
		{"", nil, true},
	}
	for _, tt := range tests {
		got, err := parseArtifactKinds(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseArtifactKinds(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if strings.Join(kindStrings(got), ",") != strings.Join(kindStrings(tt.want), ",") {
			t.Errorf("parseArtifactKinds(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func kindStrings(kinds []domain.ArtifactKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func TestHumanBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
	}
	for in, want := range tests {
		if got := humanBytes(in); got != want {
			t.Errorf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestDownloadArtifacts_WritesEveryKind(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	dl := &fakeDownloader{downloadFn: func(_ context.Context, jobID string, kind domain.ArtifactKind, w io.Writer) (int64, error) {
		n, err := io.WriteString(w, jobID+":"+string(kind))
		return int64(n), err
	}}

	paths, err := downloadArtifacts(context.Background(), dl, "job1", dir, allArtifactKinds)
	if err != nil {
		t.Fatalf("downloadArtifacts: %v", err)
	}
	want := []string{"job1.glb", "job1.ply", "job1_preview.png"}
	for i, name := range want {
		if filepath.Base(paths[i]) != name {
			t.Errorf("paths[%d] = %s, want %s", i, paths[i], name)
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if string(data) != "job1:"+string(allArtifactKinds[i]) {
			t.Errorf("%s = %q", name, data)
		}
	}
}

func TestDownloadArtifacts_RemovesPartialFiles(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{downloadFn: func(_ context.Context, _ string, kind domain.ArtifactKind, w io.Writer) (int64, error) {
		if kind == domain.ArtifactPLY {
			_, _ = io.WriteString(w, "partial")
			return 7, errors.New("connection reset")
		}
		return 0, nil
	}}

	_, err := downloadArtifacts(context.Background(), dl, "job1", dir, allArtifactKinds)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err = %v, want connection reset", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "job1.ply")); !os.IsNotExist(err) {
		t.Errorf("partial ply left behind: %v", err)
	}
}

func TestWatchJob(t *testing.T) {
	result := &domain.JobResult{GLBURL: "/api/v1/download/j.glb"}
	tests := []struct {
		name    string
		script  func(c *fakeChannel, jobID string)
		wantErr string
	}{
		{
			name: "completion",
			script: func(c *fakeChannel, id string) {
				c.emit(domain.Event{Kind: domain.EventConnected, JobID: id, Status: domain.JobStatusQueued})
				c.emit(domain.Event{Kind: domain.EventProgressUpdate, JobID: id, Progress: 40, Stage: "generating_slat"})
				c.emit(domain.Event{Kind: domain.EventStageComplete, JobID: id, Stage: "generating_slat"})
				c.emit(domain.Event{Kind: domain.EventCompletion, JobID: id, Result: result})
			},
		},
		{
			name: "failure",
			script: func(c *fakeChannel, id string) {
				c.emit(domain.Event{Kind: domain.EventError, JobID: id, Error: &domain.JobError{Code: "PROCESSING_ERROR", Message: "boom"}})
			},
			wantErr: "PROCESSING_ERROR: boom",
		},
		{
			name: "cancelled",
			script: func(c *fakeChannel, id string) {
				c.emit(domain.Event{Kind: domain.EventStatusUpdate, JobID: id, Status: domain.JobStatusCancelled})
			},
		},
		{
			name: "unreachable",
			script: func(c *fakeChannel, id string) {
				c.mu.Lock()
				fn := c.onUnreachable
				c.mu.Unlock()
				fn(id, errors.New("no response for 10m"))
			},
			wantErr: "lost contact with job j",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{script: tt.script}
			errCh := make(chan error, 1)
			go func() { errCh <- watchJob(testCommand(), ch, "j") }()

			select {
			case err := <-errCh:
				if tt.wantErr == "" && err != nil {
					t.Fatalf("watchJob: %v", err)
				}
				if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
					t.Fatalf("watchJob error = %v, want %q", err, tt.wantErr)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("watchJob did not return")
			}
			ch.mu.Lock()
			defer ch.mu.Unlock()
			if !ch.disconnected {
				t.Error("channel not disconnected")
			}
		})
	}
}

func TestPrintJobTable(t *testing.T) {
	var buf bytes.Buffer
	jobs := []domain.Job{
		{JobID: "a1", Status: domain.JobStatusCompleted, Progress: 100, Input: &domain.JobInput{Type: domain.InputTypeText, Prompt: "a   red\nchair"}},
		{JobID: "b2", Status: domain.JobStatusQueued, Input: &domain.JobInput{Type: domain.InputTypeImage, ImageFilename: "cat.png"}},
	}
	if err := printJobTable(&buf, jobs); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"JOB ID", "a1", "completed", "100%", "a red chair", "image cat.png"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestGenerateTextCommand_Queues(t *testing.T) {
	var gotBody domain.TextRequest
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/generate/text-to-3d" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"job_id":"job-42","status":"queued","created_at":"2025-01-01T10:00:00.000000","estimated_time":60,"websocket_url":"/ws/jobs/job-42"}`))
	}))
	t.Cleanup(ts.Close)
	t.Setenv("STUDIO_API_BASE_URL", ts.URL)
	t.Setenv("STUDIO_API_TOKEN", "tok")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"generate", "text", "a", "blue", "vase", "--resolution", "low", "--seed", "7", "--no-color"})
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	}()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != "job-42" {
		t.Errorf("stdout = %q, want job id", out.String())
	}
	if gotBody.Prompt != "a blue vase" || gotBody.Resolution != domain.ResolutionLow || gotBody.Seed == nil || *gotBody.Seed != 7 {
		t.Errorf("request body = %+v", gotBody)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestGenerateTextCommand_RejectsBadResolution(t *testing.T) {
	rootCmd.SetArgs([]string{"generate", "text", "a vase", "--resolution", "ultra"})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(context.Background())
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestCLINotifier_RecordsInOrder(t *testing.T) {
	n := &cliNotifier{}
	n.Notify(domain.Notification{Level: domain.NotificationInfo, Message: "Generation cancelled"})
	n.Notify(domain.Notification{Level: domain.NotificationError, JobID: "j", Message: "boom"})

	got := n.notifications()
	if len(got) != 2 || got[0].Level != domain.NotificationInfo || got[1].Message != "boom" {
		t.Errorf("notifications = %+v", got)
	}
}
