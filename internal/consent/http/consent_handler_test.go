package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	authService "github.com/allisson/agentbroker/internal/auth/service"
	"github.com/allisson/agentbroker/internal/consent/http/dto"
	consentUseCase "github.com/allisson/agentbroker/internal/consent/usecase"
	sessionDomain "github.com/allisson/agentbroker/internal/session/domain"
	"github.com/allisson/agentbroker/internal/session/repository"
	sessionUseCase "github.com/allisson/agentbroker/internal/session/usecase"
	"github.com/allisson/agentbroker/internal/testutil"
)

type fixture struct {
	router   *gin.Engine
	sessions sessionUseCase.SessionUseCase
	broker   *consentUseCase.Broker
	tokens   authService.TokenService
}

func newFixture(t *testing.T, allowedOrigins []string) *fixture {
	t.Helper()

	gin.SetMode(gin.TestMode)

	clock := testutil.NewClock()
	tokens := testutil.NewTokenService(t, clock)
	sessions := sessionUseCase.NewSessionUseCase(
		repository.NewMemorySessionRepository(),
		tokens,
		testutil.NewEngine(t, nil),
		time.Minute,
		8,
		testutil.Logger(),
		clock.Now,
	)
	broker := consentUseCase.NewBroker(sessions, 8, testutil.Logger())
	handler := NewConsentHandler(broker, allowedOrigins, testutil.Logger())

	router := gin.New()
	router.GET("/consent/ws", handler.WebSocketHandler)
	router.POST("/consent", handler.DecisionHandler)

	return &fixture{router: router, sessions: sessions, broker: broker, tokens: tokens}
}

func (f *fixture) create(t *testing.T) *sessionDomain.Summary {
	t.Helper()

	claims := testutil.MintClaims(t, f.tokens, "user-1", "example.com", time.Minute, authDomain.OpenAction)
	summary, err := f.sessions.Create(context.Background(), &sessionDomain.CreateInput{Claims: claims})
	require.NoError(t, err)
	return summary
}

func postDecision(f *fixture, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)

	req := httptest.NewRequest(http.MethodPost, "/consent", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestConsentHandler_DecisionHandler(t *testing.T) {
	f := newFixture(t, nil)
	summary := f.create(t)

	t.Run("Success_Applied", func(t *testing.T) {
		w := postDecision(f, map[string]any{"sessionId": summary.ID.String(), "allow": true})
		assert.Equal(t, http.StatusOK, w.Code)

		var response dto.DecisionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.Applied)
	})

	t.Run("Success_SecondDecisionIsNoop", func(t *testing.T) {
		w := postDecision(f, map[string]any{"sessionId": summary.ID.String(), "allow": false})
		assert.Equal(t, http.StatusOK, w.Code)

		var response dto.DecisionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.False(t, response.Applied)

		session, err := f.sessions.Get(context.Background(), "user-1", summary.ID)
		require.NoError(t, err)
		assert.Equal(t, sessionDomain.StateAllowed, session.State())
	})

	t.Run("Success_UnknownSessionIsNoop", func(t *testing.T) {
		w := postDecision(f, map[string]any{"sessionId": uuid.Must(uuid.NewV7()).String(), "allow": true})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Error_MalformedSessionID", func(t *testing.T) {
		w := postDecision(f, map[string]any{"sessionId": "nope", "allow": true})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestConsentHandler_WebSocket(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, nil)
	pending := f.create(t)

	server := httptest.NewServer(f.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/consent/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	replayed := read()
	assert.Equal(t, "prompt", replayed["type"])
	assert.Equal(t, pending.ID.String(), replayed["sessionId"])
	assert.Equal(t, "example.com", replayed["domain"])

	live := f.create(t)
	prompt := read()
	assert.Equal(t, "prompt", prompt["type"])
	assert.Equal(t, live.ID.String(), prompt["sessionId"])

	require.NoError(t, conn.WriteJSON(map[string]any{"sessionId": live.ID.String(), "allow": true}))

	// The resolution and the acknowledgement race on the writer; collect both.
	seen := map[string]map[string]any{}
	for range 2 {
		msg := read()
		seen[msg["type"].(string)] = msg
	}
	require.Contains(t, seen, "ack")
	require.Contains(t, seen, "resolved")
	assert.Equal(t, true, seen["ack"]["applied"])
	assert.Equal(t, "allowed", seen["resolved"]["consentState"])

	require.NoError(t, conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	))

	assert.Eventually(t, func() bool { return f.broker.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConsentHandler_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, []string{"http://ui.localhost:5173"})

	server := httptest.NewServer(f.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/consent/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://ui.localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"http://ui.localhost:5173/"})

	newReq := func(origin string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8080/consent/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	assert.True(t, check(newReq("")))
	assert.True(t, check(newReq("http://ui.localhost:5173")))
	assert.True(t, check(newReq("http://127.0.0.1:8080")))
	assert.False(t, check(newReq("https://evil.example")))
}
