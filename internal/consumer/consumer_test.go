package consumer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/shared"
)

func event(typ models.EventType, id string) models.Event {
	return models.Event{Type: typ, RequestID: id, Timestamp: time.Now()}
}

func TestTracker(t *testing.T) {
	t.Run("Processing Then Completed", func(t *testing.T) {
		tr := NewTracker(shared.NewLogger(&bytes.Buffer{}), time.Minute)

		p := event(models.EventProcessing, "r1")
		p.Progress = 0.4
		p.ProjectID = "p1"
		tr.Handle(p)

		c := event(models.EventCompleted, "r1")
		c.TokensUsed = 120
		tr.Handle(c)

		r, ok := tr.Request("r1")
		if !ok {
			t.Fatal("expected request to be tracked")
		}
		if r.State != RequestCompleted || r.Progress != 1 || r.TokensUsed != 120 || r.ProjectID != "p1" {
			t.Errorf("unexpected request %+v", r)
		}
		if !r.Done() {
			t.Error("expected completed request to be done")
		}
		if tr.TotalTokens() != 120 {
			t.Errorf("expected 120 tokens, got %d", tr.TotalTokens())
		}
	})

	t.Run("Error Fails Request", func(t *testing.T) {
		tr := NewTracker(shared.NewLogger(&bytes.Buffer{}), time.Minute)
		e := event(models.EventError, "r2")
		e.Message = "unsupported video"
		tr.Handle(e)

		r, _ := tr.Request("r2")
		if r.State != RequestFailed || r.Message != "unsupported video" {
			t.Errorf("unexpected request %+v", r)
		}
	})

	t.Run("Backend Error Is A Warning", func(t *testing.T) {
		tr := NewTracker(shared.NewLogger(&bytes.Buffer{}), time.Minute)
		tr.Handle(event(models.EventProcessing, "r3"))
		e := event(models.EventBackendError, "r3")
		e.Message = "retrying upstream"
		tr.Handle(e)

		r, _ := tr.Request("r3")
		if r.State != RequestProcessing || r.Warning != "retrying upstream" {
			t.Errorf("unexpected request %+v", r)
		}
	})

	t.Run("Late Processing Does Not Reopen", func(t *testing.T) {
		tr := NewTracker(shared.NewLogger(&bytes.Buffer{}), time.Minute)
		tr.Handle(event(models.EventCompleted, "r4"))
		tr.Handle(event(models.EventProcessing, "r4"))

		if r, _ := tr.Request("r4"); r.State != RequestCompleted {
			t.Errorf("expected completed, got %s", r.State)
		}
	})

	t.Run("Events Without Request Are Not Tracked", func(t *testing.T) {
		tr := NewTracker(shared.NewLogger(&bytes.Buffer{}), time.Minute)
		tr.Handle(event(models.EventBackendError, ""))
		tr.Handle(event(models.EventConnectionClose, ""))

		if len(tr.Requests()) != 0 {
			t.Errorf("expected no requests, got %+v", tr.Requests())
		}
	})

	t.Run("OnChange And Order", func(t *testing.T) {
		tr := NewTracker(shared.NewLogger(&bytes.Buffer{}), time.Minute)
		var seen []string
		tr.OnChange(func(r Request) { seen = append(seen, r.ID+":"+string(r.State)) })

		tr.Handle(event(models.EventProcessing, "b"))
		tr.Handle(event(models.EventProcessing, "a"))
		tr.Handle(event(models.EventCompleted, "b"))

		if strings.Join(seen, ",") != "b:processing,a:processing,b:completed" {
			t.Errorf("unexpected changes %v", seen)
		}
		reqs := tr.Requests()
		if len(reqs) != 2 || reqs[0].ID != "b" || reqs[1].ID != "a" {
			t.Errorf("expected first-seen order, got %+v", reqs)
		}
	})

	t.Run("Progress Logging Is Throttled", func(t *testing.T) {
		var buf bytes.Buffer
		tr := NewTracker(shared.NewLogger(&buf), time.Hour)
		for i := range 5 {
			e := event(models.EventProcessing, "r5")
			e.Progress = float64(i) / 10
			tr.Handle(e)
		}

		if got := strings.Count(buf.String(), "processing"); got != 1 {
			t.Errorf("expected a single progress line, got %d in %q", got, buf.String())
		}
	})
}
