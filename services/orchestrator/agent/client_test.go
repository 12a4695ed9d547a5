// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points an HTTPClient at a mock runtime.
func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewHTTPClient(server.URL, "test-key")
	require.NoError(t, err)
	return client
}

// =============================================================================
// ResolveAgent Tests
// =============================================================================

func TestResolveAgent_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/comply-air", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id":"agt_123","name":"comply-air"}`)
	})

	ref, err := client.ResolveAgent(context.Background(), "comply-air")
	require.NoError(t, err)
	assert.Equal(t, "agt_123", ref.ID)
	assert.Equal(t, "comply-air", ref.Name)
}

func TestResolveAgent_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"not_found"}}`)
	})

	_, err := client.ResolveAgent(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestNewHTTPClient_RequiresURL(t *testing.T) {
	_, err := NewHTTPClient("", "")
	assert.Error(t, err)
}

// =============================================================================
// CreateConversation Tests
// =============================================================================

func TestCreateConversation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/conversations", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"conv_9"}`)
	})

	id, err := client.CreateConversation(context.Background(), "Check this AIR against ISO 19650")
	require.NoError(t, err)
	assert.Equal(t, "conv_9", id)
}

func TestCreateConversation_NoID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	_, err := client.CreateConversation(context.Background(), "title")
	assert.Error(t, err)
}

// =============================================================================
// StreamResponse Tests
// =============================================================================

func TestStreamResponse_FullLifecycle(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"response.created\",\"response\":{\"id\":\"resp_1\"}}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"Hello\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.output_item.done\",\"item\":{\"type\":\"message\",\"annotations\":[{\"type\":\"uri_citation\",\"title\":\"ISO\",\"uri\":\"https://iso.org\"}]}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_1\",\"usage\":{\"input_tokens\":10,\"output_tokens\":5,\"total_tokens\":15}}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var updates []ResponseUpdate
	err := client.StreamResponse(context.Background(), StreamRequest{AgentID: "agt_1"},
		func(u ResponseUpdate) error {
			updates = append(updates, u)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, updates, 4)
	assert.Equal(t, UpdateCreated, updates[0].Kind)
	assert.Equal(t, "resp_1", updates[0].ResponseID)
	assert.Equal(t, UpdateDelta, updates[1].Kind)
	assert.Equal(t, "Hello", updates[1].Delta)
	assert.Equal(t, UpdateOutputItem, updates[2].Kind)
	require.NotNil(t, updates[2].Item)
	assert.Equal(t, ItemTypeMessage, updates[2].Item.Type)
	require.Len(t, updates[2].Item.Annotations, 1)
	assert.Equal(t, AnnotationURICitation, updates[2].Item.Annotations[0].Type)
	assert.Equal(t, UpdateCompleted, updates[3].Kind)
	require.NotNil(t, updates[3].Usage)
	assert.Equal(t, 15, updates[3].Usage.TotalTokens)
}

func TestStreamResponse_ErrorEventDelivered(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"response.error\",\"error\":{\"message\":\"boom\"}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var got ResponseUpdate
	err := client.StreamResponse(context.Background(), StreamRequest{AgentID: "agt_1"},
		func(u ResponseUpdate) error {
			got = u
			return nil
		})
	require.NoError(t, err, "runtime errors arrive as updates, not transport errors")
	assert.Equal(t, UpdateError, got.Kind)
	assert.Equal(t, "boom", got.ErrorMessage)
}

func TestStreamResponse_CallbackAbort(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"t%d\"}\n\n", i)
		}
	})

	calls := 0
	err := client.StreamResponse(context.Background(), StreamRequest{AgentID: "agt_1"},
		func(u ResponseUpdate) error {
			calls++
			return fmt.Errorf("stop here")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestStreamResponse_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid token"}}`)
	})

	err := client.StreamResponse(context.Background(), StreamRequest{AgentID: "agt_1"},
		func(u ResponseUpdate) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestStreamResponse_UnknownEventsSkipped(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"response.audio.delta\",\"delta\":\"x\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"kept\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var updates []ResponseUpdate
	err := client.StreamResponse(context.Background(), StreamRequest{AgentID: "agt_1"},
		func(u ResponseUpdate) error {
			updates = append(updates, u)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "kept", updates[0].Delta)
}

// =============================================================================
// RefCache Tests
// =============================================================================

func TestRefCache_SingleFlight(t *testing.T) {
	var cache RefCache
	var resolutions atomic.Int32

	resolve := func(ctx context.Context) (AgentRef, error) {
		resolutions.Add(1)
		return AgentRef{ID: "agt_1", Name: "default"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := cache.Get(context.Background(), resolve)
			assert.NoError(t, err)
			assert.Equal(t, "agt_1", ref.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), resolutions.Load(), "concurrent callers share one resolution")
}

func TestRefCache_RecheckAfterWait(t *testing.T) {
	var cache RefCache
	var resolutions atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	slowResolve := func(ctx context.Context) (AgentRef, error) {
		resolutions.Add(1)
		close(entered)
		<-release
		return AgentRef{ID: "agt_slow"}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ref, err := cache.Get(context.Background(), slowResolve)
		assert.NoError(t, err)
		assert.Equal(t, "agt_slow", ref.ID)
	}()

	// Second caller arrives while the first is mid-resolution; after the
	// wait it must find the populated slot instead of resolving again.
	<-entered
	second := make(chan struct{})
	go func() {
		defer close(second)
		ref, err := cache.Get(context.Background(), func(ctx context.Context) (AgentRef, error) {
			resolutions.Add(1)
			return AgentRef{ID: "agt_wrong"}, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "agt_slow", ref.ID)
	}()

	close(release)
	<-done
	<-second
	assert.Equal(t, int32(1), resolutions.Load())
}

func TestRefCache_WarmReadsDoNotResolve(t *testing.T) {
	var cache RefCache
	var resolutions atomic.Int32
	resolve := func(ctx context.Context) (AgentRef, error) {
		resolutions.Add(1)
		return AgentRef{ID: "agt_1", Name: "default"}, nil
	}

	_, err := cache.Get(context.Background(), resolve)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := cache.Get(context.Background(), resolve)
			assert.NoError(t, err)
			assert.Equal(t, "agt_1", ref.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), resolutions.Load(), "warm reads never re-resolve")
}

func TestRefCache_FailureRetries(t *testing.T) {
	var cache RefCache
	calls := 0

	_, err := cache.Get(context.Background(), func(ctx context.Context) (AgentRef, error) {
		calls++
		return AgentRef{}, fmt.Errorf("transient")
	})
	require.Error(t, err)

	ref, err := cache.Get(context.Background(), func(ctx context.Context) (AgentRef, error) {
		calls++
		return AgentRef{ID: "agt_2"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "agt_2", ref.ID)
	assert.Equal(t, 2, calls)
}

func TestRefCache_Invalidate(t *testing.T) {
	var cache RefCache
	calls := 0
	resolve := func(ctx context.Context) (AgentRef, error) {
		calls++
		return AgentRef{ID: fmt.Sprintf("agt_%d", calls)}, nil
	}

	ref, _ := cache.Get(context.Background(), resolve)
	assert.Equal(t, "agt_1", ref.ID)

	cache.Invalidate()
	ref, _ = cache.Get(context.Background(), resolve)
	assert.Equal(t, "agt_2", ref.ID)
}
