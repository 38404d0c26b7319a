package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionCookieName はセッショントークンを格納するCookie名。
	SessionCookieName = "token"
	// SessionTTL はセッショントークンの有効期間。
	SessionTTL = 2 * time.Hour
	// sessionIssuer はセッショントークンのissクレーム。
	sessionIssuer = "careercode"
)

// SessionClaims はセッショントークンのクレーム（ペイロード）を表す。
type SessionClaims struct {
	jwt.RegisteredClaims
	// Email は利用者のメールアドレス。
	Email string `json:"email"`
	// UID はIDプロバイダー上の利用者識別子。
	UID string `json:"uid,omitempty"`
}

// GenerateSessionToken は検証済みIdentityからセッショントークンを生成する。
// 有効期限はSessionTTL（2時間）。
func GenerateSessionToken(secret string, identity *Identity) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    sessionIssuer,
			Subject:   identity.Email,
		},
		Email: identity.Email,
		UID:   identity.UID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("セッショントークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// SessionVerifier はCookieで送られたセッショントークンを共有シークレットで検証する。
// データストアにはアクセスしない。
type SessionVerifier struct {
	secret []byte
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewSessionVerifier は新しいSessionVerifierを生成する。
func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Verify はCookieのセッショントークンの署名と有効期限を検証する。
func (v *SessionVerifier) Verify(r *http.Request) (*Identity, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrMissingCredential
	}

	claims := &SessionClaims{}
	_, err = jwt.ParseWithClaims(cookie.Value, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	return &Identity{Email: claims.Email, UID: claims.UID}, nil
}

// SetSessionCookie はセッショントークンをhttpOnly・SameSite=LaxのCookieとして設定する。
func SetSessionCookie(c *gin.Context, token string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, token, int(SessionTTL.Seconds()), "/", "", secure, true)
}

// ClearSessionCookie はセッションCookieを失効させる。
func ClearSessionCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", secure, true)
}
