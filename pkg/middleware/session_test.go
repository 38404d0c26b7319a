package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のセッション署名シークレット。
const testSecret = "test-secret-key-for-unit-tests"

// newSessionRouter はセッション検証付きのテスト用ルーターを生成する。
// ハンドラが受け取ったIdentityをcapturedに格納する。
func newSessionRouter(v *SessionVerifier, captured **Identity) *gin.Engine {
	router := gin.New()
	router.Use(Authenticate(v))
	router.GET("/test", func(c *gin.Context) {
		*captured = GetIdentity(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// requestWithCookie はセッションCookie付きのリクエストを生成する。
func requestWithCookie(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	}
	return req
}

// TestGenerateSessionToken はGenerateSessionToken関数を検証する。
func TestGenerateSessionToken(t *testing.T) {
	t.Parallel()

	t.Run("検証済みIdentityのメールアドレスがクレームに入ること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateSessionToken(testSecret, &Identity{Email: "hr@x.com", UID: "uid-1"})
		if err != nil {
			t.Fatalf("GenerateSessionToken()でエラーが発生: %v", err)
		}

		claims := &SessionClaims{}
		if _, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		}); err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if claims.Email != "hr@x.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "hr@x.com")
		}
		if claims.UID != "uid-1" {
			t.Errorf("UID = %q, want %q", claims.UID, "uid-1")
		}
		if claims.Issuer != "careercode" {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, "careercode")
		}
	})

	t.Run("有効期限が2時間後であること", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		tokenStr, err := GenerateSessionToken(testSecret, &Identity{Email: "exp@x.com"})
		if err != nil {
			t.Fatalf("GenerateSessionToken()でエラーが発生: %v", err)
		}

		claims := &SessionClaims{}
		if _, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		}); err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}

		expected := before.Add(2 * time.Hour)
		if d := claims.ExpiresAt.Time.Sub(expected); d < -time.Minute || d > time.Minute {
			t.Errorf("ExpiresAt = %v, want about %v", claims.ExpiresAt.Time, expected)
		}
	})

	t.Run("署名アルゴリズムがHS256であること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateSessionToken(testSecret, &Identity{Email: "alg@x.com"})
		if err != nil {
			t.Fatalf("GenerateSessionToken()でエラーが発生: %v", err)
		}

		token, _, err := new(jwt.Parser).ParseUnverified(tokenStr, &SessionClaims{})
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if token.Method.Alg() != "HS256" {
			t.Errorf("署名アルゴリズム = %q, want %q", token.Method.Alg(), "HS256")
		}
	})
}

// TestSessionVerifier はSessionVerifierとAuthenticateの組み合わせを検証する。
func TestSessionVerifier(t *testing.T) {
	t.Parallel()

	t.Run("2時間以内のトークンでIdentityがコンテキストに設定されること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateSessionToken(testSecret, &Identity{Email: "hr@x.com", UID: "uid-1"})
		if err != nil {
			t.Fatalf("GenerateSessionToken()でエラーが発生: %v", err)
		}

		v := NewSessionVerifier(testSecret)
		v.now = func() time.Time { return time.Now().Add(SessionTTL - time.Minute) }

		var captured *Identity
		w := httptest.NewRecorder()
		newSessionRouter(v, &captured).ServeHTTP(w, requestWithCookie(tokenStr))

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if captured == nil || captured.Email != "hr@x.com" || captured.UID != "uid-1" {
			t.Errorf("Identity = %+v, want hr@x.com / uid-1", captured)
		}
	})

	t.Run("2時間を過ぎたトークンは401になること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateSessionToken(testSecret, &Identity{Email: "hr@x.com"})
		if err != nil {
			t.Fatalf("GenerateSessionToken()でエラーが発生: %v", err)
		}

		v := NewSessionVerifier(testSecret)
		v.now = func() time.Time { return time.Now().Add(SessionTTL + time.Minute) }

		var captured *Identity
		w := httptest.NewRecorder()
		newSessionRouter(v, &captured).ServeHTTP(w, requestWithCookie(tokenStr))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if captured != nil {
			t.Error("401の場合ハンドラが呼ばれるべきではない")
		}
	})

	t.Run("Cookieが無い場合401とメッセージが返ること", func(t *testing.T) {
		t.Parallel()

		var captured *Identity
		w := httptest.NewRecorder()
		newSessionRouter(NewSessionVerifier(testSecret), &captured).ServeHTTP(w, requestWithCookie(""))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body["message"] != "unauthorized access" {
			t.Errorf("message = %q, want %q", body["message"], "unauthorized access")
		}
	})

	t.Run("異なるシークレットで署名されたトークンで401が返ること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateSessionToken("different-secret", &Identity{Email: "hr@x.com"})
		if err != nil {
			t.Fatalf("GenerateSessionToken()でエラーが発生: %v", err)
		}

		var captured *Identity
		w := httptest.NewRecorder()
		newSessionRouter(NewSessionVerifier(testSecret), &captured).ServeHTTP(w, requestWithCookie(tokenStr))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("壊れたトークンで401が返ること", func(t *testing.T) {
		t.Parallel()

		var captured *Identity
		w := httptest.NewRecorder()
		newSessionRouter(NewSessionVerifier(testSecret), &captured).ServeHTTP(w, requestWithCookie("invalid-token-string"))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("expクレームの無いトークンで401が返ること", func(t *testing.T) {
		t.Parallel()

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{Email: "noexp@x.com"})
		tokenStr, err := token.SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}

		var captured *Identity
		w := httptest.NewRecorder()
		newSessionRouter(NewSessionVerifier(testSecret), &captured).ServeHTTP(w, requestWithCookie(tokenStr))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("HS512で署名されたトークンで401が返ること", func(t *testing.T) {
		t.Parallel()

		claims := SessionClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Email: "alg@x.com",
		}
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}

		var captured *Identity
		w := httptest.NewRecorder()
		newSessionRouter(NewSessionVerifier(testSecret), &captured).ServeHTTP(w, requestWithCookie(tokenStr))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestSessionCookie はセッションCookieの設定と失効を検証する。
func TestSessionCookie(t *testing.T) {
	t.Parallel()

	t.Run("httpOnlyかつSameSite=LaxのCookieが設定されること", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		SetSessionCookie(c, "signed-token", false)

		setCookie := w.Header().Get("Set-Cookie")
		for _, want := range []string{"token=signed-token", "HttpOnly", "SameSite=Lax", "Max-Age=7200", "Path=/"} {
			if !strings.Contains(setCookie, want) {
				t.Errorf("Set-Cookie = %q, %q を含むべき", setCookie, want)
			}
		}
		if strings.Contains(setCookie, "Secure") {
			t.Errorf("Set-Cookie = %q, Secureを含むべきではない", setCookie)
		}
	})

	t.Run("secure指定時にSecure属性が付くこと", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		SetSessionCookie(c, "signed-token", true)

		if setCookie := w.Header().Get("Set-Cookie"); !strings.Contains(setCookie, "Secure") {
			t.Errorf("Set-Cookie = %q, Secureを含むべき", setCookie)
		}
	})

	t.Run("ClearSessionCookieでCookieが失効すること", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		ClearSessionCookie(c, false)

		setCookie := w.Header().Get("Set-Cookie")
		if !strings.Contains(setCookie, "token=;") || !strings.Contains(setCookie, "Max-Age=0") {
			t.Errorf("Set-Cookie = %q, 失効したCookieであるべき", setCookie)
		}
	})
}
