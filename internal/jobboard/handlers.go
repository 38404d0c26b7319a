package jobboard

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/careercode/internal/store"
	"github.com/nao1215/careercode/pkg/middleware"
)

// healthCheckTimeout はヘルスチェックでのストア疎通確認の制限時間。
const healthCheckTimeout = 2 * time.Second

// updateStatusRequest は応募ステータス更新リクエストのJSON構造。
// statusは任意のJSON値を受け付け、省略時はnullを設定する。
type updateStatusRequest struct {
	// Status は新しいステータス。
	Status any `json:"status"`
}

// handleIssueSession は検証済みIdentityからセッショントークンを発行し、
// Cookieに設定するハンドラを返す。
// リクエストボディは使わない。ボディに{"email": ...}だけを載せ、
// AuthorizationヘッダーにIDトークンを付けないクライアントは401になる。
func (s *Server) handleIssueSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := middleware.GetIdentity(c)
		if identity == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthorized access"})
			return
		}

		token, err := middleware.GenerateSessionToken(s.jwtSecret, identity)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to issue token"})
			log.Printf("セッショントークン生成エラー: %v", err)
			return
		}

		middleware.SetSessionCookie(c, token, s.cookieSecure)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleLogout はセッションCookieを失効させるハンドラを返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.ClearSessionCookie(c, s.cookieSecure)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleListJobs は求人一覧取得を処理するハンドラを返す。
func (s *Server) handleListJobs() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := s.jobs.List(c.Request.Context(), c.Query("email"))
		if err != nil {
			internalError(c, "failed to fetch jobs", err)
			return
		}
		c.JSON(http.StatusOK, jobs)
	}
}

// handleListJobsWithCounts は採用担当者の求人一覧を応募数付きで返すハンドラを返す。
func (s *Server) handleListJobsWithCounts() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := s.jobs.ListWithApplicationCounts(c.Request.Context(), c.Query("email"))
		if err != nil {
			internalError(c, "failed to fetch jobs", err)
			return
		}
		c.JSON(http.StatusOK, jobs)
	}
}

// handleGetJob は求人詳細取得を処理するハンドラを返す。
// 存在しない場合は200でnullを返す。
func (s *Server) handleGetJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			internalError(c, "failed to fetch job", err)
			return
		}
		if job == nil {
			c.JSON(http.StatusOK, nil)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// handleCreateJob は求人作成を処理するハンドラを返す。
func (s *Server) handleCreateJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := bindDocument(c)
		if !ok {
			return
		}
		res, err := s.jobs.Create(c.Request.Context(), job)
		if err != nil {
			internalError(c, "failed to create job", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleListApplicationsByApplicant は応募者の応募一覧を返すハンドラを返す。
func (s *Server) handleListApplicationsByApplicant() gin.HandlerFunc {
	return func(c *gin.Context) {
		applications, err := s.applications.ListByApplicant(c.Request.Context(), c.Query("email"))
		if err != nil {
			internalError(c, "failed to fetch applications", err)
			return
		}
		c.JSON(http.StatusOK, applications)
	}
}

// handleListApplicationsByJob は求人ごとの応募一覧を返すハンドラを返す。
func (s *Server) handleListApplicationsByJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		applications, err := s.applications.ListByJob(c.Request.Context(), c.Param("job_id"))
		if err != nil {
			internalError(c, "failed to fetch applications", err)
			return
		}
		c.JSON(http.StatusOK, applications)
	}
}

// handleCreateApplication は応募作成を処理するハンドラを返す。
func (s *Server) handleCreateApplication() gin.HandlerFunc {
	return func(c *gin.Context) {
		application, ok := bindDocument(c)
		if !ok {
			return
		}
		res, err := s.applications.Create(c.Request.Context(), application)
		if err != nil {
			internalError(c, "failed to create application", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleUpdateApplicationStatus は応募ステータス更新を処理するハンドラを返す。
func (s *Server) handleUpdateApplicationStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "request body must be a JSON object"})
			return
		}
		res, err := s.applications.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
		if err != nil {
			internalError(c, "failed to update application", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleHealth はストアへの疎通を含めたヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.store.Ping(ctx); err != nil {
			log.Printf("ストア疎通確認エラー: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "careercode"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "careercode"})
	}
}

// bindDocument はリクエストボディをJSONオブジェクトとして読み取る。
// オブジェクト以外の場合は400を返してfalseを返す。
func bindDocument(c *gin.Context) (store.Document, bool) {
	var doc store.Document
	if err := c.ShouldBindJSON(&doc); err != nil || doc == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "request body must be a JSON object"})
		return nil, false
	}
	return doc, true
}

// internalError はストアのエラーをログに出力し、500を返す。
func internalError(c *gin.Context, message string, err error) {
	log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"message": message})
}
