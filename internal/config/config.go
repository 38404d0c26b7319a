// Package config はCareer Code APIの起動設定を読み込む。
//
// .envファイル（存在する場合）を読み込んだ後、環境変数から設定値を取得する。
// 既に設定されている環境変数は.envの値で上書きしない。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// defaultJWTSecret はJWT_ACCESS_SECRET未設定時の開発用秘密鍵。
const defaultJWTSecret = "dev-secret-key"

// Config はサーバーの起動設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はセッショントークン署名用の秘密鍵。
	JWTSecret string
	// FirebaseProjectID はIDトークンのaudienceとして検証するプロジェクトID。
	FirebaseProjectID string
	// FirebaseCredentialsFile はサービスアカウントの鍵ファイル。
	// 設定した場合はIDトークンの失効も確認する。
	FirebaseCredentialsFile string
	// IDPTimeout はIDトークン検証の制限時間。
	IDPTimeout time.Duration
	// StoreDriver は"sqlite"または"mongo"。
	StoreDriver string
	// SQLitePath はSQLiteのファイルパス。
	SQLitePath string
	// MongoURI はMongoDBの接続URI。
	MongoURI string
	// MongoDatabase はMongoDBのデータベース名。
	MongoDatabase string
	// FrontendURL はCORSで許可するオリジン。
	FrontendURL string
	// CookieSecure はセッションCookieにSecure属性を付けるかどうか。
	CookieSecure bool
	// RateLimitPerMinute はクライアントごとの1分あたりのリクエスト上限。0で無効。
	RateLimitPerMinute int
	// TrustedProxies はX-Forwarded-Forを信頼するプロキシのIPまたはCIDR。
	// 空の場合はどのプロキシも信頼せず、接続元アドレスをクライアントIPとする。
	TrustedProxies []string
}

// Load は.envファイルと環境変数から設定を読み込む。
// envFilesを省略した場合はカレントディレクトリの.envを読む。
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%sの読み込みに失敗: %w", f, err)
		}
	}

	cfg := &Config{
		Port:              getEnvOr("PORT", "5000"),
		JWTSecret:         os.Getenv("JWT_ACCESS_SECRET"),
		FirebaseProjectID: os.Getenv("FIREBASE_PROJECT_ID"),
		StoreDriver:       getEnvOr("STORE_DRIVER", "sqlite"),
		SQLitePath:        getEnvOr("SQLITE_PATH", "careercode.db"),
		MongoURI:          os.Getenv("MONGODB_URI"),
		MongoDatabase:     getEnvOr("MONGODB_DATABASE", "careerCode"),
		FrontendURL:       getEnvOr("FRONTEND_URL", "http://localhost:5173"),
		TrustedProxies:    getEnvAsList("TRUSTED_PROXIES"),

		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),
	}

	var err error
	if cfg.IDPTimeout, err = getEnvAsDuration("IDP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CookieSecure, err = getEnvAsBool("COOKIE_SECURE", false); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = defaultJWTSecret
		log.Printf("JWT_ACCESS_SECRETが未設定のため開発用の秘密鍵を使用します。本番環境では必ず設定してください")
	}
	if cfg.FirebaseProjectID == "" {
		return nil, errors.New("FIREBASE_PROJECT_IDが設定されていません")
	}
	if cfg.IDPTimeout <= 0 {
		return nil, fmt.Errorf("IDP_TIMEOUTは正の値である必要があります: %s", cfg.IDPTimeout)
	}
	if cfg.RateLimitPerMinute < 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTEは0以上である必要があります: %d", cfg.RateLimitPerMinute)
	}

	switch cfg.StoreDriver {
	case "sqlite":
	case "mongo":
		if cfg.MongoURI == "" {
			cfg.MongoURI = mongoURIFromParts(os.Getenv("DB_USER"), os.Getenv("DB_PASS"), os.Getenv("DB_CLUSTER"))
		}
		if cfg.MongoURI == "" {
			return nil, errors.New("STORE_DRIVER=mongoの場合はMONGODB_URIまたはDB_USER・DB_PASS・DB_CLUSTERが必要です")
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVERが不正です: %q", cfg.StoreDriver)
	}

	return cfg, nil
}

// mongoURIFromParts はAtlasクラスタへのSRV接続URIを組み立てる。
// いずれかが空の場合は空文字列を返す。
func mongoURIFromParts(user, pass, cluster string) string {
	if user == "" || pass == "" || cluster == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "mongodb+srv",
		User:     url.UserPassword(user, pass),
		Host:     cluster,
		Path:     "/",
		RawQuery: "retryWrites=true&w=majority&appName=careercode",
	}
	return u.String()
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvAsList はカンマ区切りの環境変数を空要素を除いたスライスとして取得する。
// 未設定の場合はnilを返す。
func getEnvAsList(key string) []string {
	var list []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}
	return list
}

// getEnvAsInt は環境変数を整数として取得する。
func getEnvAsInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%sが整数ではありません: %q", key, v)
	}
	return n, nil
}

// getEnvAsBool は環境変数を真偽値として取得する。
func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%sが真偽値ではありません: %q", key, v)
	}
	return b, nil
}

// getEnvAsDuration は環境変数を時間（例: 10s, 500ms）として取得する。
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%sが時間として不正です: %q", key, v)
	}
	return d, nil
}
