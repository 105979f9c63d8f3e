package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bird-quiz-kiosk/internal/app"
	"bird-quiz-kiosk/internal/domain"
	"bird-quiz-kiosk/internal/infra/memory"
)

type statePayload struct {
	Type    string              `json:"type"`
	Payload domain.SessionState `json:"payload"`
}

func testBirds() []domain.Bird {
	return []domain.Bird{
		{Name: "Chickadee", ImageRef: "chickadee.jpg", Category: "songbirds"},
		{Name: "Goldfinch", ImageRef: "goldfinch.jpg", Category: "songbirds"},
		{Name: "Sparrow", ImageRef: "sparrow.jpg", Category: "songbirds"},
		{Name: "Tanager", ImageRef: "tanager.jpg", Category: "songbirds"},
		{Name: "Junco", ImageRef: "junco.jpg", Category: "songbirds"},
		{Name: "Blackbird", ImageRef: "blackbird.jpg", Category: "songbirds"},
	}
}

func dialTestHandler(t *testing.T) (*websocket.Conn, *app.Engine) {
	t.Helper()

	cfg := app.Config{
		QuestionCount:    5,
		TimeLimitSeconds: 60,
		SubmitCooldown:   0,
		DefaultCategory:  "songbirds",
	}
	engine := app.NewEngine(cfg, domain.Player{FirstName: "Visitor"}, memory.NewStaticBirdSource(testBirds()), memory.NewResultRecorder(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go engine.Run(ctx)

	handler := NewWSHandler(engine)
	mux := nethttp.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, engine
}

func readStateUntil(t *testing.T, conn *websocket.Conn, what string, match func(domain.SessionState) bool) domain.SessionState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var msg statePayload
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read while waiting for %s: %v", what, err)
		}
		if msg.Type != "state" {
			continue
		}
		if match(msg.Payload) {
			return msg.Payload
		}
	}
	t.Fatalf("timed out waiting for %s", what)
	return domain.SessionState{}
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	msg := map[string]any{"type": msgType}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func TestWSInitialStatePrimed(t *testing.T) {
	conn, _ := dialTestHandler(t)

	state := readStateUntil(t, conn, "initial state", func(s domain.SessionState) bool {
		return s.Status == domain.StatusNotStarted
	})
	if state.TotalQuestions != 5 || state.SelectedOption != -1 {
		t.Fatalf("unexpected initial state %+v", state)
	}
}

func TestWSRestartSelectSubmitFlow(t *testing.T) {
	conn, _ := dialTestHandler(t)

	readStateUntil(t, conn, "initial state", func(s domain.SessionState) bool {
		return s.Status == domain.StatusNotStarted
	})

	sendMessage(t, conn, "restart", map[string]string{"category": "songbirds"})
	state := readStateUntil(t, conn, "in-progress state", func(s domain.SessionState) bool {
		return s.Status == domain.StatusInProgress
	})
	if state.Question == nil || len(state.Question.Options) != domain.OptionsPerQuestion {
		t.Fatalf("expected a dealt question, got %+v", state.Question)
	}

	sendMessage(t, conn, "select", map[string]int{"index": 1})
	readStateUntil(t, conn, "selection", func(s domain.SessionState) bool {
		return s.SelectedOption == 1
	})

	sendMessage(t, conn, "submit", nil)
	state = readStateUntil(t, conn, "submit result", func(s domain.SessionState) bool {
		return s.Answered == 1
	})
	if state.LastResult == nil || state.LastResult.CorrectAnswer == "" {
		t.Fatalf("expected a submit result, got %+v", state.LastResult)
	}
}

func TestWSAbandonResets(t *testing.T) {
	conn, _ := dialTestHandler(t)

	sendMessage(t, conn, "restart", nil)
	readStateUntil(t, conn, "in-progress state", func(s domain.SessionState) bool {
		return s.Status == domain.StatusInProgress
	})

	sendMessage(t, conn, "abandon", nil)
	readStateUntil(t, conn, "reset state", func(s domain.SessionState) bool {
		return s.Status == domain.StatusNotStarted && s.Answered == 0
	})
}

func TestWSUnsupportedMessageType(t *testing.T) {
	conn, _ := dialTestHandler(t)

	sendMessage(t, conn, "bogus", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if envelope.Type == "error" {
			return
		}
	}
	t.Fatalf("expected an error message for unsupported type")
}
