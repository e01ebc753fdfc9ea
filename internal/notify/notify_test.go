package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"keyflow/internal/events"
	"keyflow/internal/model"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name      string
		ev        events.CompletionEvent
		wantTitle string
		wantBody  []string
	}{
		{
			name: "success",
			ev: events.CompletionEvent{
				WorkflowIDs: []string{"w1"},
				Finished:    []events.CommandRef{{ID: "a"}, {ID: "b"}},
			},
			wantTitle: "keyflow",
			wantBody:  []string{"w1 finished", "2 commands"},
		},
		{
			name: "failure names the command",
			ev: events.CompletionEvent{
				WorkflowIDs: []string{"w1", "w2"},
				Error:       "exit status 1",
				Failed:      &events.CommandRef{ID: "b", Name: "build", Kind: model.KindScript},
			},
			wantTitle: "keyflow: failed",
			wantBody:  []string{"w1, w2", "build failed", "exit status 1"},
		},
		{
			name: "workflow names win over generated ids",
			ev: events.CompletionEvent{
				WorkflowIDs:   []string{"6f1c2a9e-0d6b-5c4e-9a47-2f8f0c3d1b11"},
				WorkflowNames: []string{"Save all"},
				Finished:      []events.CommandRef{{ID: "a"}},
			},
			wantTitle: "keyflow",
			wantBody:  []string{"Save all finished", "1 commands"},
		},
		{
			name:      "no workflow ids",
			ev:        events.CompletionEvent{},
			wantTitle: "keyflow",
			wantBody:  []string{"workflow finished"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := Message(tt.ev)
			if title != tt.wantTitle {
				t.Fatalf("title = %q, want %q", title, tt.wantTitle)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(body, want) {
					t.Fatalf("body %q does not contain %q", body, want)
				}
			}
			if len(tt.ev.WorkflowNames) > 0 && strings.Contains(body, tt.ev.WorkflowIDs[0]) {
				t.Fatalf("body %q names the workflow by id", body)
			}
		})
	}
}

func TestObserverOnlyNotifiesWhenAsked(t *testing.T) {
	sent := make(chan string, 4)
	observer := Observer(context.Background(), func(_ context.Context, _ string, body string) error {
		sent <- body
		return nil
	})

	observer(events.CompletionEvent{RunID: "quiet", WorkflowIDs: []string{"quiet"}})
	observer(events.ChordEvent{})
	observer(events.CompletionEvent{RunID: "loud", WorkflowIDs: []string{"loud"}, Notify: true})

	select {
	case body := <-sent:
		if !strings.Contains(body, "loud") {
			t.Fatalf("notified %q, want the loud run", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not sent")
	}
	select {
	case body := <-sent:
		t.Fatalf("unexpected notification %q", body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestObserverToleratesSendFailure(t *testing.T) {
	done := make(chan struct{})
	observer := Observer(context.Background(), func(context.Context, string, string) error {
		defer close(done)
		return errors.New("no daemon")
	})
	observer(events.CompletionEvent{Notify: true})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send was not called")
	}
}
