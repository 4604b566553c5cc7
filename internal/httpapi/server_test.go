package httpapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/companion/internal/completion"
	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/logging"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/speech"
)

type fixture struct {
	srv   *Server
	ts    *httptest.Server
	store *memory.InMemoryStore
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	store := memory.NewInMemoryStore()
	metrics := observability.NewMetrics("httpapi_test")
	engine := conversation.NewEngine(conversation.Options{
		Store:     store,
		Completer: completion.NewGateway(completion.NewMockBackend("mock"), nil),
		Logger:    logging.Nop(),
		Metrics:   metrics,
	})
	d := Deps{
		Config:       config.Config{SessionInactivityTimeout: time.Minute},
		Engine:       engine,
		Synthesizer:  speech.MockSynthesizer{},
		Transcriber:  speech.MockTranscriber{},
		Metrics:      metrics,
		Logger:       logging.Nop(),
		StoreBackend: "memory",
	}
	for _, opt := range opts {
		opt(&d)
	}
	srv := New(d)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts, store: store}
}

func (f *fixture) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	res, err := http.Get(f.ts.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func (f *fixture) sendJSON(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, f.ts.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)

	var health map[string]any
	assert.Equal(t, http.StatusOK, f.getJSON(t, "/api/health", &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, http.StatusOK, f.getJSON(t, "/healthz", nil))

	var ready map[string]any
	assert.Equal(t, http.StatusOK, f.getJSON(t, "/readyz", &ready))
	assert.Equal(t, "memory", ready["memory_backend"])
	assert.Equal(t, true, ready["speech_synthesis"])
	assert.Equal(t, false, ready["voice_catalog"])

	res, err := http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestChatPersistsAndServesHistory(t *testing.T) {
	f := newFixture(t)

	var reply map[string]any
	status := f.sendJSON(t, http.MethodPost, "/v1/chat", map[string]any{
		"session_id": "chat-1",
		"message":    "hello",
		"speak":      true,
	}, &reply)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "message_response", reply["type"])
	assert.Equal(t, "I heard you: hello", reply["text"])
	assert.Equal(t, "neutral", reply["user_emotion"])
	assert.Equal(t, "friendly", reply["persona_id"])
	assert.True(t, strings.HasPrefix(reply["audio_url"].(string), "mock://audio/"))

	var history historyResponse
	require.Equal(t, http.StatusOK, f.getJSON(t, "/v1/sessions/chat-1/history", &history))
	require.Len(t, history.Turns, 2)
	assert.Equal(t, memory.RoleUser, history.Turns[0].Role)
	assert.Equal(t, "hello", history.Turns[0].Content)
	assert.Equal(t, memory.RoleAssistant, history.Turns[1].Role)

	require.Equal(t, http.StatusOK, f.getJSON(t, "/v1/sessions/chat-1/history?limit=1", &history))
	require.Len(t, history.Turns, 1)
	assert.Equal(t, memory.RoleAssistant, history.Turns[0].Role)

	assert.Equal(t, http.StatusBadRequest, f.getJSON(t, "/v1/sessions/chat-1/history?limit=abc", nil))
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	var errBody errorResponse
	status := f.sendJSON(t, http.MethodPost, "/v1/chat", map[string]any{"message": "  "}, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "empty_message", errBody.Code)
}

func TestProfileRoundTrip(t *testing.T) {
	f := newFixture(t)

	var stored memory.Profile
	status := f.sendJSON(t, http.MethodPut, "/v1/sessions/p-1/profile", profileRequest{Name: "Aki", Preferences: "jazz"}, &stored)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Aki", stored.Name)

	var got memory.Profile
	require.Equal(t, http.StatusOK, f.getJSON(t, "/v1/sessions/p-1/profile", &got))
	assert.Equal(t, "p-1", got.SessionID)
	assert.Equal(t, "jazz", got.Preferences)

	got = memory.Profile{}
	require.Equal(t, http.StatusOK, f.getJSON(t, "/v1/sessions/nobody/profile", &got))
	assert.Empty(t, got.Name)
}

func TestPersonas(t *testing.T) {
	f := newFixture(t)
	var body struct {
		Personas []personaSummary `json:"personas"`
	}
	require.Equal(t, http.StatusOK, f.getJSON(t, "/v1/personas", &body))
	ids := make([]string, 0, len(body.Personas))
	for _, p := range body.Personas {
		ids = append(ids, p.ID)
		if p.ID == "rei_engineer" {
			assert.True(t, p.TopicBoost)
		}
	}
	assert.ElementsMatch(t, []string{"friendly", "rei_engineer", "yui_natural"}, ids)
}

func TestVoiceActors(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusServiceUnavailable, f.getJSON(t, "/v1/voice-actors", nil))

	niji := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voice-actors", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"voiceActors":[{"id":"va-1","name":"Mio"},{"id":"va-2","name":"Rin"}]}`)
	}))
	defer niji.Close()
	client := speech.NewNijiVoiceClient(speech.NijiVoiceConfig{APIKey: "k", BaseURL: niji.URL})
	catalog := speech.NewVoiceCatalog(client, time.Minute)
	f = newFixture(t, func(d *Deps) { d.Catalog = catalog })

	var body voiceActorsResponse
	require.Equal(t, http.StatusOK, f.getJSON(t, "/api/voice-actors?refresh=1", &body))
	assert.Equal(t, "va-1", body.DefaultVoiceID)
	require.Len(t, body.VoiceActors, 2)
	assert.Equal(t, "Rin", body.VoiceActors[1].Name)
}

func TestProxyAudio(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF-audio"))
	}))
	defer upstream.Close()
	host := mustHostname(t, upstream.URL)

	f := newFixture(t, func(d *Deps) {
		d.Proxy = speech.NewAudioProxy([]string{host}, time.Second)
	})

	res, err := http.Get(f.ts.URL + "/v1/proxy-audio?url=" + url.QueryEscape(upstream.URL+"/a.wav"))
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "audio/wav", res.Header.Get("Content-Type"))
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "RIFF-audio", string(body))

	assert.Equal(t, http.StatusBadRequest, f.getJSON(t, "/v1/proxy-audio", nil))
	assert.Equal(t, http.StatusBadRequest, f.getJSON(t, "/v1/proxy-audio?url=file%3A%2F%2F%2Fetc%2Fpasswd", nil))
	assert.Equal(t, http.StatusForbidden, f.getJSON(t, "/v1/proxy-audio?url="+url.QueryEscape("http://evil.example.com/a.mp3"), nil))
}

func mustHostname(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Hostname()
}

func dialWS(t *testing.T, f *fixture, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	frame := readFrame(t, conn)
	require.Equal(t, "connected", frame["type"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebsocketTextTurn(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f, "?session_id=ws-1&persona_id=yui_natural")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "send_message", "message": "嬉しい"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "message_response", frame["type"])
	assert.Equal(t, "ws-1", frame["session_id"])
	assert.Equal(t, "yui_natural", frame["persona_id"])
	assert.Equal(t, "happy", frame["user_emotion"])
	assert.Equal(t, "I heard you: 嬉しい", frame["text"])
	assert.NotEmpty(t, frame["audio_url"])
	_, err := time.Parse(time.RFC3339, frame["timestamp"].(string))
	assert.NoError(t, err)

	turns, err := f.store.RecentTurns(context.Background(), "ws-1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestWebsocketDefaultSessionAndInvalidFrame(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "invalid_client_message", frame["code"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "update_profile", "name": "Mio"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "profile_updated", frame["type"])
	assert.Equal(t, "default", frame["session_id"])

	p, err := f.store.Profile(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "Mio", p.Name)
}

func TestWebsocketAudioTurn(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f, "?session_id=voice")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":       "send_audio",
		"audio_data": hex.EncodeToString([]byte("こんにちは")),
	}))
	frame := readFrame(t, conn)
	assert.Equal(t, "audio_response", frame["type"])
	assert.Equal(t, "こんにちは", frame["transcribed_text"])
	assert.Equal(t, "I heard you: こんにちは", frame["response_text"])
}

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(context.Context, []byte) (string, error) {
	return "", &speech.Error{Kind: speech.KindTranscription, Provider: "assemblyai", Retryable: true, Err: speech.ErrTranscriptionTimeout}
}

type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, string, string) (speech.AudioRef, error) {
	return speech.AudioRef{}, &speech.Error{Kind: speech.KindSynthesis, Provider: "nijivoice", Err: errors.New("quota")}
}

func TestWebsocketSpeechFailures(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Transcriber = failingTranscriber{}
		d.Synthesizer = failingSynth{}
	})
	conn := dialWS(t, f, "?session_id=broken")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "send_audio", "audio_data": "00ff"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "transcription_failed", frame["code"])
	assert.Equal(t, true, frame["retryable"])

	turns, err := f.store.RecentTurns(context.Background(), "broken", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	// Synthesis failure only drops the audio.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "send_message", "message": "hi"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "message_response", frame["type"])
	assert.Equal(t, "I heard you: hi", frame["text"])
	_, hasAudio := frame["audio_url"]
	assert.False(t, hasAudio)
}

func TestWebsocketRejectsCrossOrigin(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/ws"
	header := http.Header{"Origin": []string{"https://elsewhere.example.com"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestConnectionsListing(t *testing.T) {
	f := newFixture(t)
	dialWS(t, f, "?session_id=listed")

	var body struct {
		Connections []map[string]any `json:"connections"`
	}
	require.Equal(t, http.StatusOK, f.getJSON(t, "/v1/connections", &body))
	require.Len(t, body.Connections, 1)
	assert.Equal(t, "listed", body.Connections[0]["session_id"])
}

type unavailableStore struct {
	memory.Store
}

func (unavailableStore) storageErr(op string) error {
	return &memory.StorageError{Op: op, Backend: "broken", Err: errors.New("disk full")}
}

func (u unavailableStore) AppendTurn(context.Context, memory.Turn) error {
	return u.storageErr("append turn")
}

func (u unavailableStore) RecentTurns(context.Context, string, int) ([]memory.Turn, error) {
	return nil, u.storageErr("recent turns")
}

func (u unavailableStore) UpsertProfile(context.Context, memory.Profile) error {
	return u.storageErr("upsert profile")
}

func (u unavailableStore) Profile(context.Context, string) (memory.Profile, error) {
	return memory.Profile{}, u.storageErr("read profile")
}

func withUnavailableStore(d *Deps) {
	d.Engine = conversation.NewEngine(conversation.Options{
		Store:     unavailableStore{Store: memory.NewInMemoryStore()},
		Completer: completion.NewGateway(completion.NewMockBackend("mock"), nil),
		Logger:    logging.Nop(),
		Metrics:   d.Metrics,
	})
}

func TestStorageFailuresStayInvisible(t *testing.T) {
	f := newFixture(t, withUnavailableStore)

	var stored memory.Profile
	status := f.sendJSON(t, http.MethodPut, "/v1/sessions/s/profile", profileRequest{Name: "Aki", Preferences: "jazz"}, &stored)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "s", stored.SessionID)
	assert.Equal(t, "Aki", stored.Name)
	assert.Equal(t, "jazz", stored.Preferences)

	var got memory.Profile
	require.Equal(t, http.StatusOK, f.getJSON(t, "/v1/sessions/s/profile", &got))
	assert.Equal(t, memory.Profile{SessionID: "s"}, got)

	var history historyResponse
	require.Equal(t, http.StatusOK, f.getJSON(t, "/v1/sessions/s/history", &history))
	assert.Equal(t, "s", history.SessionID)
	assert.NotNil(t, history.Turns)
	assert.Empty(t, history.Turns)

	var reply map[string]any
	require.Equal(t, http.StatusOK, f.sendJSON(t, http.MethodPost, "/v1/chat", map[string]any{"session_id": "s", "message": "hello"}, &reply))
	assert.Equal(t, "I heard you: hello", reply["text"])

	var counters strings.Builder
	res, err := http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	_, err = io.Copy(&counters, res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, counters.String(), `op="upsert_profile"`)
	assert.Contains(t, counters.String(), `op="read_profile"`)
	assert.Contains(t, counters.String(), `op="recent_turns"`)
}

func TestWebsocketProfileUpdateSurvivesStorageFailure(t *testing.T) {
	f := newFixture(t, withUnavailableStore)
	conn := dialWS(t, f, "?session_id=s")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "update_profile", "name": "Mio"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "profile_updated", frame["type"])
	assert.Equal(t, "s", frame["session_id"])
}

func TestPerfLatencySnapshotAndReset(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.sendJSON(t, http.MethodPost, "/v1/chat", map[string]any{
		"session_id": "perf",
		"message":    "hello",
		"speak":      true,
	}, nil))

	var snap observability.LatencySnapshot
	require.Equal(t, http.StatusOK, f.getJSON(t, "/v1/perf/latency?reset=1", &snap))
	stages := map[string]observability.StageLatency{}
	for _, st := range snap.Stages {
		stages[st.Stage+"/"+st.Outcome] = st
	}
	assert.Contains(t, stages, "turn_total/ok")
	assert.Contains(t, stages, "completed/ok")
	if st, ok := stages["synthesized/ok"]; assert.True(t, ok) {
		assert.Equal(t, 1500.0, st.TargetP95MS)
	}

	require.Equal(t, http.StatusOK, f.getJSON(t, "/v1/perf/latency", &snap))
	assert.Empty(t, snap.Stages)
}
