package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	natspkg "github.com/brojonat/memoboard/service/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectForTopic(t *testing.T) {
	tests := []struct {
		topic   string
		handle  string
		want    string
		wantErr bool
	}{
		{topic: "indexed", want: "memos.indexed"},
		{topic: "feed", want: "memos.feed"},
		{topic: "lifecycle", want: "memos.lifecycle.*"},
		{topic: "lifecycle", handle: "h-1", want: "memos.lifecycle.h-1"},
		{topic: "all", want: "memos.>"},
		{topic: "payments", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.topic+"/"+tt.handle, func(t *testing.T) {
			got, err := subjectForTopic(tt.topic, tt.handle)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubscribeCommand_UnknownTopic(t *testing.T) {
	_, err := runApp(t, "http://unused", "nats", "subscribe", "payments")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown topic")
}

func TestPrintEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mustJSON := func(v any) []byte {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return data
	}

	tests := []struct {
		name    string
		subject string
		data    []byte
		want    string
	}{
		{
			name:    "indexed memo",
			subject: natspkg.SubjectIndexed,
			data:    mustJSON(natspkg.MemoEvent{Position: 4, DisplayName: "ada", Text: "hello", SubmittedAt: at}),
			want:    "[memo #4] 2026-03-01T12:00:00Z  ada: hello\n",
		},
		{
			name:    "feed refreshed",
			subject: natspkg.SubjectFeed,
			data:    mustJSON(natspkg.FeedEvent{Status: "refreshed", FeedSize: 7}),
			want:    "[feed] refreshed, 7 memos\n",
		},
		{
			name:    "feed error",
			subject: natspkg.SubjectFeed,
			data:    mustJSON(natspkg.FeedEvent{Status: "error", Error: "rpc unavailable"}),
			want:    "[feed] error: rpc unavailable\n",
		},
		{
			name:    "lifecycle confirmed",
			subject: natspkg.LifecycleSubject("h-1"),
			data:    mustJSON(natspkg.LifecycleEvent{Handle: "h-1", From: "broadcast", State: "confirmed", TxRef: "0xabc"}),
			want:    "[lifecycle h-1] broadcast -> confirmed tx=0xabc\n",
		},
		{
			name:    "lifecycle failed",
			subject: natspkg.LifecycleSubject("h-2"),
			data: mustJSON(natspkg.LifecycleEvent{
				Handle: "h-2", From: "awaiting_approval", State: "failed",
				Reason: "user_rejected", Message: "denied in wallet",
			}),
			want: "[lifecycle h-2] awaiting_approval -> failed (user_rejected: denied in wallet)\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, printEvent(&buf, tt.subject, tt.data))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrintEvent_Malformed(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, printEvent(&buf, natspkg.SubjectIndexed, []byte("{")))
	assert.Empty(t, buf.String())
}
