package mqtt

import (
	"errors"
	"slices"
	"testing"
)

func TestFanout_OrderAndDuplicates(t *testing.T) {
	f := NewFanout()
	var log []string
	a := &recordingListener{name: "a", log: &log}
	b := &recordingListener{name: "b", log: &log}

	f.AddListener(a)
	f.AddListener(b)
	f.AddListener(a)
	f.AddListener(nil)

	if got := f.ListenerCount(); got != 3 {
		t.Fatalf("ListenerCount() = %d, want 3", got)
	}

	f.DeliveryComplete(DeliveryToken{Topic: "t"})
	want := []string{"a:delivery", "b:delivery", "a:delivery"}
	if !slices.Equal(log, want) {
		t.Errorf("notifications = %v, want %v", log, want)
	}
}

func TestFanout_RemoveFirstIdentical(t *testing.T) {
	f := NewFanout()
	var log []string
	a := &recordingListener{name: "a", log: &log}
	b := &recordingListener{name: "b", log: &log}
	stranger := &recordingListener{name: "stranger"}

	f.AddListener(a)
	f.AddListener(b)
	f.AddListener(a)

	f.RemoveListener(stranger)
	if got := f.ListenerCount(); got != 3 {
		t.Errorf("ListenerCount() after removing absent listener = %d, want 3", got)
	}

	f.RemoveListener(a)
	if got := f.ListenerCount(); got != 2 {
		t.Fatalf("ListenerCount() = %d, want 2", got)
	}

	f.ConnectionLost(errors.New("x"))
	want := []string{"b:lost", "a:lost"}
	if !slices.Equal(log, want) {
		t.Errorf("notifications = %v, want %v", log, want)
	}
}

func TestFanout_EqualValuesAreDistinctListeners(t *testing.T) {
	f := NewFanout()
	first := &recordingListener{name: "same"}
	second := &recordingListener{name: "same"}

	f.AddListener(first)
	f.AddListener(second)
	f.RemoveListener(second)

	if err := f.MessageArrived("t", Message{}); err != nil {
		t.Fatalf("MessageArrived() error = %v", err)
	}
	if first.messageCount() != 1 {
		t.Error("first listener was removed instead of second")
	}
	if second.messageCount() != 0 {
		t.Error("removed listener was notified")
	}
}

func TestFanout_MessageArrivedFailFast(t *testing.T) {
	f := NewFanout()
	rejectErr := errors.New("rejected")
	first := &recordingListener{}
	failing := &recordingListener{err: rejectErr}
	last := &recordingListener{}

	f.AddListener(first)
	f.AddListener(failing)
	f.AddListener(last)

	err := f.MessageArrived("t", Message{Payload: []byte("p")})
	if !errors.Is(err, rejectErr) {
		t.Errorf("MessageArrived() error = %v, want %v", err, rejectErr)
	}
	if first.messageCount() != 1 || failing.messageCount() != 1 {
		t.Error("listeners before the failure were not notified")
	}
	if last.messageCount() != 0 {
		t.Error("listener after the failure was notified")
	}
}

func TestFanout_SnapshotDuringNotification(t *testing.T) {
	f := NewFanout()
	late := &recordingListener{name: "late"}
	victim := &recordingListener{name: "victim"}

	var mutator *ListenerFuncs
	mutator = &ListenerFuncs{
		OnMessageArrived: func(string, Message) error {
			f.RemoveListener(mutator)
			f.RemoveListener(victim)
			f.AddListener(late)
			return nil
		},
	}

	f.AddListener(mutator)
	f.AddListener(victim)

	if err := f.MessageArrived("t", Message{}); err != nil {
		t.Fatalf("MessageArrived() error = %v", err)
	}
	// The in-progress notification keeps the registry it started with.
	if victim.messageCount() != 1 {
		t.Error("listener removed mid-notification missed the current message")
	}
	if late.messageCount() != 0 {
		t.Error("listener added mid-notification received the current message")
	}

	if err := f.MessageArrived("t", Message{}); err != nil {
		t.Fatalf("MessageArrived() error = %v", err)
	}
	if victim.messageCount() != 1 || late.messageCount() != 1 {
		t.Errorf("second notification: victim=%d late=%d, want 1 and 1",
			victim.messageCount(), late.messageCount())
	}
}

func TestListenerFuncs_NilFields(t *testing.T) {
	l := &ListenerFuncs{}
	l.ConnectionLost(errors.New("x"))
	l.DeliveryComplete(DeliveryToken{})
	if err := l.MessageArrived("t", Message{}); err != nil {
		t.Errorf("MessageArrived() error = %v, want nil", err)
	}
}
