// Career Code求人掲示板APIのエントリポイント。
// 求人と応募のREST APIを提供し、利用者ごとの一覧はセッションCookieまたは
// Firebase IDトークンで認証する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/careercode/internal/config"
	"github.com/nao1215/careercode/internal/jobboard"
	"github.com/nao1215/careercode/internal/store"
	"github.com/nao1215/careercode/pkg/idtoken"
	"github.com/nao1215/careercode/pkg/middleware"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Career Code APIの起動に失敗: %v", err)
	}
}

// run は設定を読み込み、依存を組み立ててサーバーを起動する。
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	st, err := store.Open(openCtx, store.Config{
		Driver:        cfg.StoreDriver,
		SQLitePath:    cfg.SQLitePath,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			log.Printf("ストアの切断に失敗: %v", err)
		}
	}()
	log.Printf("ストアに接続しました: driver=%s", cfg.StoreDriver)

	tokens, err := idtoken.New(ctx, idtoken.Config{
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredentialsFile,
	})
	if err != nil {
		return err
	}

	server, err := jobboard.NewServer(st, middleware.NewBearerVerifier(tokens, cfg.IDPTimeout), jobboard.Options{
		Port:               cfg.Port,
		JWTSecret:          cfg.JWTSecret,
		CookieSecure:       cfg.CookieSecure,
		AllowedOrigins:     []string{cfg.FrontendURL},
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}

	log.Printf("Career Code APIを起動します: :%s", cfg.Port)
	return server.Run(ctx)
}
