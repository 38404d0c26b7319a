package middleware

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// contextKeyIdentity はGinコンテキストに検証済みIdentityを格納するキー。
const contextKeyIdentity = "identity"

const (
	// messageUnauthorized は401レスポンスのメッセージ。
	messageUnauthorized = "unauthorized access"
	// messageForbidden は403レスポンスのメッセージ。
	messageForbidden = "forbidden access"
)

var (
	// ErrMissingCredential はリクエストに資格情報が含まれていないことを表す。
	ErrMissingCredential = errors.New("資格情報がありません")
	// ErrInvalidCredential は資格情報の検証に失敗したことを表す。
	ErrInvalidCredential = errors.New("資格情報が無効です")
)

// Identity は検証済みの利用者を表す。
type Identity struct {
	// Email は利用者のメールアドレス。
	Email string `json:"email"`
	// UID はIDプロバイダー上の利用者識別子。
	UID string `json:"uid,omitempty"`
}

// Verifier はリクエストの資格情報を検証し、Identityを返す。
// 実装はSessionVerifier（Cookie）とBearerVerifier（IDプロバイダー）。
type Verifier interface {
	Verify(r *http.Request) (*Identity, error)
}

// Authenticate は指定されたVerifierで資格情報を検証するGinミドルウェアを返す。
// 検証に失敗した場合は401を返し、後続のハンドラを実行しない。
func Authenticate(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := v.Verify(c.Request)
		if err != nil {
			log.Printf("認証に失敗: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": messageUnauthorized})
			return
		}
		c.Set(contextKeyIdentity, identity)
		c.Next()
	}
}

// RequireQueryEmail は検証済みIdentityのメールアドレスとクエリパラメータが
// 完全一致することを要求するGinミドルウェアを返す。Authenticateの後に配置する。
// メールアドレスを持たないIdentityは一致しないものとして403を返す。
func RequireQueryEmail(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := GetIdentity(c)
		if identity == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": messageUnauthorized})
			return
		}
		if identity.Email == "" || identity.Email != c.Query(param) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": messageForbidden})
			return
		}
		c.Next()
	}
}

// GetIdentity はGinコンテキストから検証済みIdentityを取得する。
// Authenticateミドルウェアが事前に適用されていない場合はnilを返す。
func GetIdentity(c *gin.Context) *Identity {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return nil
	}
	identity, _ := v.(*Identity)
	return identity
}
