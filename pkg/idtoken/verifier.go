package idtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

var (
	// ErrInvalidToken はIDトークンが検証に失敗したことを表す。
	ErrInvalidToken = errors.New("IDトークンが無効です")
	// ErrKeyFetch は公開鍵の取得に失敗したことを表す。
	ErrKeyFetch = errors.New("公開鍵の取得に失敗しました")
)

// Token は検証済みのIDトークンから取り出した情報。
type Token struct {
	// UID はIDプロバイダー上のユーザー識別子（subクレーム）。
	UID string
	// Email はユーザーのメールアドレス。
	Email string
	// EmailVerified はメールアドレスが確認済みかどうか。
	EmailVerified bool
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// Config はVerifierの設定。
type Config struct {
	// ProjectID はFirebaseプロジェクトID。audとissの検証に使う。
	ProjectID string
	// CredentialsFile はサービスアカウントの鍵ファイル。
	// 指定した場合はトークンの失効とユーザーの無効化も確認する。
	CredentialsFile string
}

// authClient はFirebase Admin SDKのauth.Clientのうち、トークン検証に使う部分。
type authClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*auth.Token, error)
}

// Verifier はFirebase Admin SDKでIDトークンを検証する。
type Verifier struct {
	client       authClient
	checkRevoked bool
}

// New は新しいVerifierを生成する。
// 鍵ファイルを指定しない場合は認証なしでSDKを初期化し、署名とクレームだけを検証する。
func New(ctx context.Context, cfg Config) (*Verifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("FirebaseプロジェクトIDが指定されていません")
	}

	opt := option.WithoutAuthentication()
	if cfg.CredentialsFile != "" {
		opt = option.WithCredentialsFile(cfg.CredentialsFile)
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("Firebaseアプリの初期化に失敗: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("Firebase認証クライアントの初期化に失敗: %w", err)
	}
	return newVerifier(client, cfg.CredentialsFile != ""), nil
}

// newVerifier はauthClientからVerifierを生成する。
func newVerifier(client authClient, checkRevoked bool) *Verifier {
	return &Verifier{client: client, checkRevoked: checkRevoked}
}

// VerifyIDToken はIDトークンを検証し、トークン情報を返す。
// 公開鍵の取得失敗はErrKeyFetch、それ以外の失敗はErrInvalidTokenをラップして返す。
func (v *Verifier) VerifyIDToken(ctx context.Context, rawToken string) (*Token, error) {
	if rawToken == "" {
		return nil, fmt.Errorf("%w: トークンが空です", ErrInvalidToken)
	}

	var (
		token *auth.Token
		err   error
	)
	if v.checkRevoked {
		token, err = v.client.VerifyIDTokenAndCheckRevoked(ctx, rawToken)
	} else {
		token, err = v.client.VerifyIDToken(ctx, rawToken)
	}
	if err != nil {
		if auth.IsCertificateFetchFailed(err) {
			return nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return toToken(token), nil
}

// toToken はSDKのトークンからメールアドレスなどを取り出す。
func toToken(t *auth.Token) *Token {
	email, _ := t.Claims["email"].(string)
	verified, _ := t.Claims["email_verified"].(bool)
	return &Token{
		UID:           t.UID,
		Email:         email,
		EmailVerified: verified,
		ExpiresAt:     time.Unix(t.Expires, 0),
	}
}
