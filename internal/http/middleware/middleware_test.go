// README: Tests for actor, logging and recovery middleware.
package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"freightmatch/internal/http/middleware"
)

func newTestRouter(logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.Logging(logger), middleware.Actor())
	r.GET("/actor", func(c *gin.Context) {
		c.String(http.StatusOK, middleware.ActorFrom(c))
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return r
}

func TestActor(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"company", "company"},
		{" Candidate ", "candidate"},
		{"admin", ""},
		{"", ""},
	}
	r := newTestRouter(zap.NewNop())
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/actor", nil)
		if tc.header != "" {
			req.Header.Set(middleware.ActorHeader, tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Body.String() != tc.want {
			t.Errorf("header %q: expected actor %q, got %q", tc.header, tc.want, w.Body.String())
		}
	}
}

func TestRecovery_LogsAndAnswers500(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newTestRouter(zap.New(core))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatal("expected panic to be logged")
	}
}

func TestLogging_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newTestRouter(zap.New(core))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/actor", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.FilterMessage("request").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 access log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected levels %s, %s", entries[0].Level, entries[1].Level)
	}
	if entries[0].ContextMap()["route"] != "/actor" {
		t.Fatalf("route not logged: %v", entries[0].ContextMap())
	}
}
