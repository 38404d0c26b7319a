package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/careercode/pkg/idtoken"
)

// IDTokenVerifier はIDプロバイダーのトークン検証を行う外部オラクル。
// idtoken.Verifierが実装する。
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, rawToken string) (*idtoken.Token, error)
}

// BearerVerifier はAuthorizationヘッダーのBearerトークンをIDプロバイダーに
// 問い合わせて検証する。
type BearerVerifier struct {
	tokens IDTokenVerifier
	// timeout はIDプロバイダー呼び出しのタイムアウト。0以下なら設定しない。
	timeout time.Duration
}

// NewBearerVerifier は新しいBearerVerifierを生成する。
func NewBearerVerifier(tokens IDTokenVerifier, timeout time.Duration) *BearerVerifier {
	return &BearerVerifier{
		tokens:  tokens,
		timeout: timeout,
	}
}

// Verify はBearerトークンを取り出してIDプロバイダーで検証する。
// タイムアウトやネットワークエラーを含むすべての失敗をErrInvalidCredentialとして返す。
func (v *BearerVerifier) Verify(r *http.Request) (*Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, ErrMissingCredential
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		return nil, fmt.Errorf("%w: Bearer トークン形式が不正です", ErrInvalidCredential)
	}
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingCredential
	}

	ctx := r.Context()
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	token, err := v.verify(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return &Identity{Email: token.Email, UID: token.UID}, nil
}

// verifyResult はIDプロバイダー呼び出しの結果。
type verifyResult struct {
	token *idtoken.Token
	err   error
}

// verify はIDプロバイダーを別ゴルーチンで呼び出し、ctxの期限まで待つ。
// オラクル側のパニックもエラーに変換する。
func (v *BearerVerifier) verify(ctx context.Context, rawToken string) (*idtoken.Token, error) {
	ch := make(chan verifyResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- verifyResult{err: fmt.Errorf("IDプロバイダーの呼び出しでパニック: %v", r)}
			}
		}()
		token, err := v.tokens.VerifyIDToken(ctx, rawToken)
		ch <- verifyResult{token: token, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.token == nil {
			return nil, fmt.Errorf("IDプロバイダーが結果を返しませんでした")
		}
		return res.token, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("IDプロバイダーの応答待ちを中断: %w", ctx.Err())
	}
}
