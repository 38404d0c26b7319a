package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/careercode/pkg/idtoken"
)

// fakeIDTokenVerifier はテスト用のIDプロバイダーオラクル。
type fakeIDTokenVerifier struct {
	verify func(ctx context.Context, rawToken string) (*idtoken.Token, error)
}

// VerifyIDToken はテスト用の検証関数を呼び出す。
func (f *fakeIDTokenVerifier) VerifyIDToken(ctx context.Context, rawToken string) (*idtoken.Token, error) {
	return f.verify(ctx, rawToken)
}

// acceptingVerifier は"good-token"だけを受け付けるオラクルを返す。
func acceptingVerifier() *fakeIDTokenVerifier {
	return &fakeIDTokenVerifier{verify: func(_ context.Context, rawToken string) (*idtoken.Token, error) {
		if rawToken != "good-token" {
			return nil, idtoken.ErrInvalidToken
		}
		return &idtoken.Token{UID: "uid-a", Email: "a@x.com"}, nil
	}}
}

// serveBearer はBearerVerifier付きルーターにリクエストを送り、結果を返す。
func serveBearer(v *BearerVerifier, authHeader string) (*httptest.ResponseRecorder, *Identity) {
	var captured *Identity
	router := gin.New()
	router.Use(Authenticate(v))
	router.GET("/test", func(c *gin.Context) {
		captured = GetIdentity(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w, captured
}

// TestBearerVerifier はBearerVerifierを検証する。
func TestBearerVerifier(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンで検証済みメールアドレスが設定されること", func(t *testing.T) {
		t.Parallel()

		w, identity := serveBearer(NewBearerVerifier(acceptingVerifier(), time.Second), "Bearer good-token")

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if identity == nil || identity.Email != "a@x.com" || identity.UID != "uid-a" {
			t.Errorf("Identity = %+v, want a@x.com / uid-a", identity)
		}
	})

	t.Run("資格情報が不正な場合は401になりハンドラが呼ばれないこと", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name   string
			header string
		}{
			{name: "Authorizationヘッダーなし", header: ""},
			{name: "Bearer接頭辞なし", header: "good-token"},
			{name: "トークンが空", header: "Bearer    "},
			{name: "オラクルが拒否", header: "Bearer bad-token"},
		}
		for _, tt := range tests {
			w, identity := serveBearer(NewBearerVerifier(acceptingVerifier(), time.Second), tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s: ステータスコード = %d, want %d", tt.name, w.Code, http.StatusUnauthorized)
			}
			if identity != nil {
				t.Errorf("%s: ハンドラが呼ばれるべきではない", tt.name)
			}
		}
	})

	t.Run("オラクルが応答しない場合はタイムアウトで401になること", func(t *testing.T) {
		t.Parallel()

		block := make(chan struct{})
		defer close(block)
		hanging := &fakeIDTokenVerifier{verify: func(_ context.Context, _ string) (*idtoken.Token, error) {
			<-block
			return nil, errors.New("unreachable")
		}}

		start := time.Now()
		w, _ := serveBearer(NewBearerVerifier(hanging, 50*time.Millisecond), "Bearer good-token")

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("タイムアウトまでの時間 = %v, 50ms程度であるべき", elapsed)
		}
	})

	t.Run("オラクルのパニックは401に変換されること", func(t *testing.T) {
		t.Parallel()

		panicking := &fakeIDTokenVerifier{verify: func(_ context.Context, _ string) (*idtoken.Token, error) {
			panic("network stack exploded")
		}}

		w, _ := serveBearer(NewBearerVerifier(panicking, time.Second), "Bearer good-token")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("オラクルがnilを返した場合は401になること", func(t *testing.T) {
		t.Parallel()

		empty := &fakeIDTokenVerifier{verify: func(_ context.Context, _ string) (*idtoken.Token, error) {
			return nil, nil
		}}

		w, _ := serveBearer(NewBearerVerifier(empty, 0), "Bearer good-token")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("Verifyのエラーは資格情報エラーとして分類されること", func(t *testing.T) {
		t.Parallel()

		v := NewBearerVerifier(acceptingVerifier(), time.Second)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		if _, err := v.Verify(req); !errors.Is(err, ErrMissingCredential) {
			t.Errorf("err = %v, want ErrMissingCredential", err)
		}

		req.Header.Set("Authorization", "Bearer bad-token")
		if _, err := v.Verify(req); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("err = %v, want ErrInvalidCredential", err)
		}
	})
}
