package jobboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/careercode/internal/metrics"
	"github.com/nao1215/careercode/internal/store"
	"github.com/nao1215/careercode/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Options はServerの設定。
type Options struct {
	// Port はサーバーのリッスンポート。
	Port string
	// JWTSecret はセッショントークン署名用の秘密鍵。
	JWTSecret string
	// CookieSecure はセッションCookieにSecure属性を付けるかどうか。
	CookieSecure bool
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// RateLimitPerMinute はクライアントごとの1分あたりのリクエスト上限。0で無効。
	RateLimitPerMinute int
	// TrustedProxies はX-Forwarded-Forを信頼するプロキシ。nilの場合はどれも信頼しない。
	TrustedProxies []string
	// Registry はメトリクスの登録先。nilの場合は新しいレジストリを使う。
	Registry *prometheus.Registry
}

// Server は求人掲示板APIのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はドキュメントストア。
	store store.Store
	// jobs は求人サービス。
	jobs *JobService
	// applications は応募サービス。
	applications *ApplicationService
	// session はセッションCookieの検証器。
	session middleware.Verifier
	// bearer はIDプロバイダーのトークンの検証器。
	bearer middleware.Verifier
	// jwtSecret はセッショントークン署名用の秘密鍵。
	jwtSecret string
	// cookieSecure はセッションCookieのSecure属性。
	cookieSecure bool
	// registry はメトリクスのレジストリ。
	registry *prometheus.Registry
	// rateLimiter はクライアントごとのレート制限。無効の場合はnil。
	rateLimiter *middleware.RateLimiter
}

// NewServer は新しいServerを生成する。
// ストアとIDプロバイダーの検証器は呼び出し側で用意して渡す。
func NewServer(st store.Store, bearer middleware.Verifier, opts Options) (*Server, error) {
	if st == nil {
		return nil, errors.New("ストアが指定されていません")
	}
	if bearer == nil {
		return nil, errors.New("IDプロバイダーの検証器が指定されていません")
	}
	if opts.JWTSecret == "" {
		return nil, errors.New("JWT秘密鍵が指定されていません")
	}

	jobs, err := NewJobService(st)
	if err != nil {
		return nil, fmt.Errorf("求人サービスの初期化に失敗: %w", err)
	}
	applications, err := NewApplicationService(st)
	if err != nil {
		return nil, fmt.Errorf("応募サービスの初期化に失敗: %w", err)
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	collector := metrics.NewCollector(registry)

	router := gin.New()
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, fmt.Errorf("信頼するプロキシの設定が不正です: %w", err)
	}
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(collector.Middleware())
	router.Use(middleware.CORS(opts.AllowedOrigins))

	s := &Server{
		router:       router,
		port:         opts.Port,
		store:        st,
		jobs:         jobs,
		applications: applications,
		session:      middleware.NewSessionVerifier(opts.JWTSecret),
		bearer:       bearer,
		jwtSecret:    opts.JWTSecret,
		cookieSecure: opts.CookieSecure,
		registry:     registry,
	}
	if opts.RateLimitPerMinute > 0 {
		s.rateLimiter = middleware.NewRateLimiter(middleware.PerMinute(opts.RateLimitPerMinute))
		router.Use(s.rateLimiter.Middleware())
	}
	s.setupRoutes()

	return s, nil
}

// Handler はルーティング済みのHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	log.Printf("サーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	defer s.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	return nil
}

// Close はサーバーが起動したバックグラウンド処理を停止する。ストアは閉じない。
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Career Code is Cooking")
	})

	// セッション
	s.router.POST("/jwt", middleware.Authenticate(s.bearer), s.handleIssueSession())
	s.router.POST("/logout", s.handleLogout())

	jobs := s.router.Group("/jobs")
	{
		// 求人一覧取得（hr_emailで絞り込み可）
		jobs.GET("", s.handleListJobs())
		// 採用担当者の求人と応募数
		jobs.GET("/applications",
			middleware.Authenticate(s.session),
			middleware.RequireQueryEmail("email"),
			s.handleListJobsWithCounts())
		// 求人詳細取得
		jobs.GET("/:id", s.handleGetJob())
		// 求人作成
		jobs.POST("", s.handleCreateJob())
	}

	applications := s.router.Group("/applications")
	{
		// 応募者の応募一覧
		applications.GET("",
			middleware.Authenticate(s.bearer),
			middleware.RequireQueryEmail("email"),
			s.handleListApplicationsByApplicant())
		// 求人ごとの応募一覧
		applications.GET("/job/:job_id", s.handleListApplicationsByJob())
		// 応募作成
		applications.POST("", s.handleCreateApplication())
		// 応募ステータス更新
		applications.PATCH("/:id", s.handleUpdateApplicationStatus())
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())

	// メトリクス
	s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.registry)))
}
