package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetView_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/view", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"form": {"display_name": "ada", "text": ""},
			"lifecycle": {"state": "idle"},
			"submittable": false,
			"feed": [{"sender": "0xa", "display_name": "grace", "text": "gm", "submitted_at": "2024-01-02T03:04:05Z"}],
			"refresh_pending": true
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	view, err := client.GetView(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "ada", view.Form.DisplayName)
	assert.Equal(t, StateIdle, view.Lifecycle.State)
	assert.False(t, view.Lifecycle.Terminal())
	require.Len(t, view.Feed, 1)
	assert.Equal(t, "grace", view.Feed[0].DisplayName)
	assert.True(t, view.RefreshPending)
}

func TestUpdateForm_SendsOnlyGivenFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "/api/v1/form", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]interface{}{"text": "hello"}, body)

		json.NewEncoder(w).Encode(View{Form: Form{DisplayName: "ada", Text: "hello"}, Submittable: true})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	text := "hello"
	view, err := client.UpdateForm(context.Background(), nil, &text)
	require.NoError(t, err)
	assert.True(t, view.Submittable)
}

func TestUpdateForm_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "text too long: maximum length is 280 characters",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	text := "x"
	_, err := client.UpdateForm(context.Background(), nil, &text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too long")
}

func TestSubmit_Accepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/submit", r.URL.Path)

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"handle":"h-1","view":{"lifecycle":{"handle":"h-1","state":"awaiting_approval"}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	handle, view, err := client.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "h-1", handle)
	assert.Equal(t, StateAwaitingApproval, view.Lifecycle.State)
}

func TestSubmit_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"a write is already in flight","view":{"lifecycle":{"handle":"h-1","state":"broadcast"}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, _, err := client.Submit(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubmitRejected))

	var serr *SubmitError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "a write is already in flight", serr.Reason)
	assert.Equal(t, StateBroadcast, serr.View.Lifecycle.State)
}

func TestRefresh(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/refresh", r.URL.Path)
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	require.NoError(t, client.Refresh(context.Background()))
	assert.True(t, called)
}

func TestListMemos(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/memos", r.URL.Path)
		assert.Equal(t, "solana", r.URL.Query().Get("backend"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"memos": []map[string]interface{}{
				{"backend": "solana", "position": 3, "sender": "abc", "display_name": "ada", "text": "gm", "tx_ref": "sig"},
			},
			"count":  1,
			"total":  21,
			"limit":  10,
			"offset": 20,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	page, err := client.ListMemos(context.Background(), "solana", ListOptions{Limit: 10, Offset: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(21), page.Total)
	require.Len(t, page.Memos, 1)
	assert.Equal(t, int64(3), page.Memos[0].Position)
	require.NotNil(t, page.Memos[0].TxRef)
	assert.Equal(t, "sig", *page.Memos[0].TxRef)
}

func TestListSubmissions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/submissions", r.URL.Path)
		assert.Equal(t, "failed", r.URL.Query().Get("state"))
		assert.Empty(t, r.URL.Query().Get("limit"))

		w.Write([]byte(`{"submissions":[{"handle":"h-1","state":"failed","reason":"timeout","value":"1000"}],"count":1}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	subs, err := client.ListSubmissions(context.Background(), "failed", ListOptions{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "timeout", *subs[0].Reason)
	assert.Equal(t, "1000", subs[0].Value)
}

func TestGetSubmission_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/submissions/h-404", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "submission not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	sub, err := client.GetSubmission(context.Background(), "h-404")
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.Contains(t, err.Error(), "submission not found")
}

func TestHealth(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("down"))
			return
		}
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.Health(context.Background()))

	healthy = false
	err := client.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

// sseServer streams the given lifecycles as view events, one per message.
func sseServer(t *testing.T, lifecycles ...Lifecycle) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":\"c1\"}\n\n")
		fmt.Fprintf(w, ": keepalive\n\n")
		for i, lc := range lifecycles {
			kind := "lifecycle"
			if i == 0 {
				kind = "initial"
			}
			data, _ := json.Marshal(StreamMessage{Kind: kind, View: View{Lifecycle: lc}})
			fmt.Fprintf(w, "event: view\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}))
}

func TestStream_DeliversViews(t *testing.T) {
	server := sseServer(t,
		Lifecycle{State: StateIdle},
		Lifecycle{Handle: "h-1", State: StateAwaitingApproval},
	)
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	var kinds []string
	err := client.Stream(context.Background(), func(msg StreamMessage) error {
		kinds = append(kinds, msg.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"initial", "lifecycle"}, kinds)
}

func TestAwait_Confirmed(t *testing.T) {
	server := sseServer(t,
		Lifecycle{Handle: "h-1", State: StateAwaitingApproval},
		Lifecycle{Handle: "h-1", State: StateBroadcast, TxRef: "0xabc"},
		Lifecycle{Handle: "h-1", State: StateConfirmed, TxRef: "0xabc"},
	)
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lc, err := client.Await(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, lc.State)
	assert.Equal(t, "0xabc", lc.TxRef)
}

func TestAwait_Failed(t *testing.T) {
	server := sseServer(t,
		Lifecycle{Handle: "h-1", State: StateAwaitingApproval},
		Lifecycle{Handle: "h-1", State: StateFailed, Reason: "user_rejected", Message: "User denied transaction signature"},
	)
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	lc, err := client.Await(context.Background(), "h-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, lc.State)
	assert.Equal(t, "user_rejected", lc.Reason)
}

func TestAwait_Superseded(t *testing.T) {
	server := sseServer(t, Lifecycle{Handle: "h-2", State: StateAwaitingApproval})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Await(context.Background(), "h-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "superseded")
}

func TestAwait_StreamEndsEarly(t *testing.T) {
	server := sseServer(t, Lifecycle{Handle: "h-1", State: StateBroadcast})
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Await(context.Background(), "h-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream ended")
}

func TestAwait_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Await(ctx, "h-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
