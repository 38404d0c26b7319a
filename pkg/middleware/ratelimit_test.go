package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// TestRateLimiter はクライアントIPごとのレート制限を検証する。
func TestRateLimiter(t *testing.T) {
	t.Parallel()

	newRouter := func(rl *RateLimiter) *gin.Engine {
		router := gin.New()
		router.Use(rl.Middleware())
		router.GET("/jobs", func(c *gin.Context) {
			c.JSON(http.StatusOK, []any{})
		})
		return router
	}

	request := func(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("バーストを超えると429とRetry-Afterが返ること", func(t *testing.T) {
		t.Parallel()

		rl := NewRateLimiter(PerMinute(2))
		defer rl.Stop()
		router := newRouter(rl)

		for i := 0; i < 2; i++ {
			if w := request(router, "192.0.2.1:1234"); w.Code != http.StatusOK {
				t.Fatalf("%d回目のステータスコード = %d, want %d", i+1, w.Code, http.StatusOK)
			}
		}

		w := request(router, "192.0.2.1:1234")
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
		if got := w.Header().Get("Retry-After"); got != "30" {
			t.Errorf("Retry-After = %q, want %q", got, "30")
		}
	})

	t.Run("クライアントごとに独立して制限されること", func(t *testing.T) {
		t.Parallel()

		rl := NewRateLimiter(PerMinute(1))
		defer rl.Stop()
		router := newRouter(rl)

		if w := request(router, "192.0.2.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if w := request(router, "192.0.2.2:1234"); w.Code != http.StatusOK {
			t.Fatalf("別クライアントのステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if got := rl.LimiterCount(); got != 2 {
			t.Errorf("LimiterCount() = %d, want 2", got)
		}
	})

	t.Run("古いエントリがクリーンアップされること", func(t *testing.T) {
		t.Parallel()

		rl := NewRateLimiter(PerMinute(10))
		defer rl.Stop()
		rl.limiterFor("192.0.2.1")
		rl.limiterFor("192.0.2.2")

		rl.cleanup(time.Now().Add(time.Hour), time.Minute)
		if got := rl.LimiterCount(); got != 0 {
			t.Errorf("LimiterCount() = %d, want 0", got)
		}
	})

	t.Run("Stopを複数回呼んでもパニックしないこと", func(t *testing.T) {
		t.Parallel()

		rl := NewRateLimiter(PerMinute(10))
		rl.Stop()
		rl.Stop()
	})
}
