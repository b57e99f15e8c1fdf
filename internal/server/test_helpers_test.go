package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/auth"
	"github.com/MarcoPoloResearchLab/feirinha/internal/changefeed"
	"github.com/MarcoPoloResearchLab/feirinha/internal/database"
	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	"github.com/MarcoPoloResearchLab/feirinha/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSigningSecret = "server-test-secret"
	testCookieName    = "feirinha_session"
	testPassword      = "feijoada-2025"
	streamTimeout     = 5 * time.Second
)

type testServer struct {
	server *httptest.Server
	feed   *changefeed.Feed
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "feirinha.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}
	accounts, err := users.NewService(users.ServiceConfig{
		Database:  db,
		Hasher:    auth.NewPasswordHasher(bcrypt.MinCost),
		Tokens:    issuer,
		Validator: validator,
	})
	if err != nil {
		t.Fatalf("failed to construct account directory: %v", err)
	}

	feed := changefeed.NewFeed(16)
	lists, err := shopping.NewService(shopping.ServiceConfig{
		Database:   db,
		IDProvider: shopping.NewUUIDProvider(),
		Publisher:  feed,
		Accounts:   accounts,
	})
	if err != nil {
		t.Fatalf("failed to construct list service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Accounts:          accounts,
		Tokens:            validator,
		Lists:             lists,
		Feed:              feed,
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		feed.Close()
		server.Close()
		_ = sqlDB.Close()
	})
	return &testServer{server: server, feed: feed}
}

// signUpAndIn registers the email and returns a bearer token and the user id.
func (s *testServer) signUpAndIn(t *testing.T, email string) (string, string) {
	t.Helper()
	credentials := map[string]string{"email": email, "password": testPassword}
	if status := s.do(t, http.MethodPost, "/auth/sign-up", "", credentials, nil); status != http.StatusCreated {
		t.Fatalf("sign-up for %s failed with status %d", email, status)
	}
	var grant signInResponsePayload
	if status := s.do(t, http.MethodPost, "/auth/sign-in", "", credentials, &grant); status != http.StatusOK {
		t.Fatalf("sign-in for %s failed with status %d", email, status)
	}
	return grant.AccessToken, grant.UserID
}

// do sends a JSON request and decodes the response into out when it is non-nil.
func (s *testServer) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
	return response.StatusCode
}

type streamEvent struct {
	name string
	data string
}

type eventStream struct {
	t      *testing.T
	events chan streamEvent
}

// openStream connects to an SSE endpoint and parses events in the background.
func (s *testServer) openStream(t *testing.T, path, token string) *eventStream {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, s.server.URL+path+"?access_token="+token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", response.StatusCode)
	}

	stream := &eventStream{t: t, events: make(chan streamEvent, 64)}
	go func() {
		defer close(stream.events)
		reader := bufio.NewReader(response.Body)
		current := streamEvent{}
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if current.name != "" {
					stream.events <- current
				}
				current = streamEvent{}
			case strings.HasPrefix(line, "event:"):
				current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				current.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	return stream
}

// next returns the next event, skipping heartbeats.
func (s *eventStream) next() streamEvent {
	s.t.Helper()
	deadline := time.After(streamTimeout)
	for {
		select {
		case event, ok := <-s.events:
			if !ok {
				s.t.Fatalf("stream closed before the next event")
			}
			if event.name == streamEventHeartbeat {
				continue
			}
			return event
		case <-deadline:
			s.t.Fatalf("timed out waiting for a stream event")
		}
	}
}

// nextListSnapshot waits for a list snapshot that satisfies accept.
func (s *eventStream) nextListSnapshot(accept func(listDetailPayload) bool) listDetailPayload {
	s.t.Helper()
	for {
		event := s.next()
		if event.name != streamEventListSnapshot {
			s.t.Fatalf("unexpected stream event %q", event.name)
		}
		var payload listDetailPayload
		if err := json.Unmarshal([]byte(event.data), &payload); err != nil {
			s.t.Fatalf("failed to decode list snapshot: %v", err)
		}
		if accept(payload) {
			return payload
		}
	}
}

// expectListGone skips pending snapshots until the stream announces the list is gone.
func (s *eventStream) expectListGone(listID string) {
	s.t.Helper()
	for {
		event := s.next()
		if event.name == streamEventListSnapshot {
			continue
		}
		if event.name != streamEventListGone {
			s.t.Fatalf("unexpected stream event %q", event.name)
		}
		var gone listGonePayload
		if err := json.Unmarshal([]byte(event.data), &gone); err != nil {
			s.t.Fatalf("failed to decode list-gone payload: %v", err)
		}
		if gone.ListID != listID {
			s.t.Fatalf("unexpected gone list id: %q", gone.ListID)
		}
		return
	}
}

func pointerTo[T any](value T) *T {
	return &value
}
