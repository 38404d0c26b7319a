package jobboard

import (
	"context"
	"fmt"

	"github.com/nao1215/careercode/internal/store"
)

const (
	// fieldJobID は応募先の求人の識別子。
	fieldJobID = "jobId"
	// fieldApplicant は応募者のメールアドレス。
	fieldApplicant = "applicant"
	// fieldStatus は応募のステータス。
	fieldStatus = "status"
)

// enrichedJobFields は応募者向けの一覧で求人から応募へ複製するフィールド。
var enrichedJobFields = []string{"company", "title", "company_logo"}

// ApplicationService は応募の作成・参照・ステータス更新を提供する。
type ApplicationService struct {
	applications store.Collection
	jobs         store.Collection
}

// NewApplicationService は新しいApplicationServiceを生成する。
func NewApplicationService(s store.Store) (*ApplicationService, error) {
	applications, err := s.Collection(store.CollectionApplications)
	if err != nil {
		return nil, err
	}
	jobs, err := s.Collection(store.CollectionJobs)
	if err != nil {
		return nil, err
	}
	return &ApplicationService{applications: applications, jobs: jobs}, nil
}

// Create は応募を保存する。jobIdが実在するかは確認しない。
func (s *ApplicationService) Create(ctx context.Context, application store.Document) (*store.InsertResult, error) {
	res, err := s.applications.InsertOne(ctx, application)
	if err != nil {
		return nil, fmt.Errorf("応募の作成に失敗: %w", err)
	}
	return res, nil
}

// ListByApplicant はapplicantの応募一覧を返す。
// 参照先の求人をまとめて取得し、company・title・company_logoを各応募に複製する。
// 求人が見つからない応募はそのまま返す。
func (s *ApplicationService) ListByApplicant(ctx context.Context, applicant string) ([]store.Document, error) {
	applications, err := s.applications.Find(ctx, store.Filter{fieldApplicant: applicant})
	if err != nil {
		return nil, fmt.Errorf("応募一覧の取得に失敗: %w", err)
	}
	if len(applications) == 0 {
		return applications, nil
	}

	jobIDs := make([]string, 0, len(applications))
	for _, application := range applications {
		if id, ok := application[fieldJobID].(string); ok {
			jobIDs = append(jobIDs, id)
		}
	}
	jobs, err := s.jobs.FindByIDs(ctx, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("応募先の求人の取得に失敗: %w", err)
	}

	byID := make(map[string]store.Document, len(jobs))
	for _, job := range jobs {
		byID[job.ID()] = job
	}
	for _, application := range applications {
		id, _ := application[fieldJobID].(string)
		job, ok := byID[id]
		if !ok {
			continue
		}
		for _, field := range enrichedJobFields {
			if v, ok := job[field]; ok {
				application[field] = v
			}
		}
	}
	return applications, nil
}

// ListByJob はjobIDへの応募一覧を返す。
func (s *ApplicationService) ListByJob(ctx context.Context, jobID string) ([]store.Document, error) {
	applications, err := s.applications.Find(ctx, store.Filter{fieldJobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("応募一覧の取得に失敗: %w", err)
	}
	return applications, nil
}

// UpdateStatus は応募のstatusだけを更新する。一致する応募が無くてもエラーにしない。
func (s *ApplicationService) UpdateStatus(ctx context.Context, id string, status any) (*store.UpdateResult, error) {
	res, err := s.applications.SetField(ctx, id, fieldStatus, status)
	if err != nil {
		return nil, fmt.Errorf("応募ステータスの更新に失敗: %w", err)
	}
	return res, nil
}
