// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ArdenComply/services/orchestrator/datatypes"
)

// nonFlushingWriter wraps a ResponseWriter hiding its Flusher.
type nonFlushingWriter struct {
	header http.Header
}

func (w *nonFlushingWriter) Header() http.Header         { return w.header }
func (w *nonFlushingWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *nonFlushingWriter) WriteHeader(int)             {}

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(&nonFlushingWriter{header: http.Header{}})
	assert.Error(t, err)

	writer, err := NewSSEWriter(httptest.NewRecorder())
	require.NoError(t, err)
	assert.NotNil(t, writer)
}

func TestSSEWriter_WireFormat(t *testing.T) {
	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder)
	require.NoError(t, err)

	require.NoError(t, writer.WriteAgent(datatypes.AgentInfo{Name: "comply-air", Route: "air"}))
	require.NoError(t, writer.WriteChunk("hello"))
	require.NoError(t, writer.WriteError("STREAM_FAILURE", "boom"))
	require.NoError(t, writer.WriteDone())

	body := recorder.Body.String()
	assert.Contains(t, body, "event: agent\ndata: ")
	assert.Contains(t, body, "event: chunk\ndata: ")
	assert.Contains(t, body, "event: error\ndata: ")
	assert.Contains(t, body, "event: done\ndata: ")
	assert.Contains(t, body, `"content":"hello"`)
	assert.Contains(t, body, `"code":"STREAM_FAILURE"`)
	assert.Contains(t, body, `"agent":{"name":"comply-air","route":"air"}`)
}

func TestSSEWriter_HashChain(t *testing.T) {
	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder)
	require.NoError(t, err)

	require.NoError(t, writer.WriteChunk("a"))
	require.NoError(t, writer.WriteChunk("b"))
	require.NoError(t, writer.WriteChunk("c"))

	events := parseSSE(t, recorder.Body.String())
	require.Len(t, events, 3)

	assert.Empty(t, events[0].data.PrevHash)
	assert.NotEmpty(t, events[0].data.Hash)
	assert.Equal(t, events[0].data.Hash, events[1].data.PrevHash)
	assert.Equal(t, events[1].data.Hash, events[2].data.PrevHash)

	// Identical content still hashes differently (id and timestamp differ).
	require.NoError(t, writer.WriteChunk("c"))
	events = parseSSE(t, recorder.Body.String())
	assert.NotEqual(t, events[2].data.Hash, events[3].data.Hash)
}

func TestSSEWriter_KeepAliveIsComment(t *testing.T) {
	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder)
	require.NoError(t, err)

	require.NoError(t, writer.WriteKeepAlive())
	require.NoError(t, writer.WriteChunk("after"))

	body := recorder.Body.String()
	assert.True(t, strings.HasPrefix(body, ": ping\n\n"))

	// Comments do not join the hash chain.
	events := parseSSE(t, body)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].data.PrevHash)
}

func TestSetSSEHeaders(t *testing.T) {
	recorder := httptest.NewRecorder()
	SetSSEHeaders(recorder)

	assert.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", recorder.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", recorder.Header().Get("Connection"))
	assert.Equal(t, "no", recorder.Header().Get("X-Accel-Buffering"))
}
