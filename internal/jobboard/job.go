package jobboard

import (
	"context"
	"fmt"

	"github.com/nao1215/careercode/internal/store"
)

const (
	// fieldHREmail は求人を所有する採用担当者のメールアドレス。
	fieldHREmail = "hr_email"
	// fieldApplicationCount は求人ごとの応募数として付与するフィールド。
	fieldApplicationCount = "application_count"
)

// JobService は求人の作成と参照を提供する。
type JobService struct {
	jobs         store.Collection
	applications store.Collection
}

// NewJobService は新しいJobServiceを生成する。
func NewJobService(s store.Store) (*JobService, error) {
	jobs, err := s.Collection(store.CollectionJobs)
	if err != nil {
		return nil, err
	}
	applications, err := s.Collection(store.CollectionApplications)
	if err != nil {
		return nil, err
	}
	return &JobService{jobs: jobs, applications: applications}, nil
}

// List は求人の一覧を返す。emailが空でなければhr_emailが一致する求人に絞り込む。
func (s *JobService) List(ctx context.Context, email string) ([]store.Document, error) {
	filter := store.Filter{}
	if email != "" {
		filter[fieldHREmail] = email
	}
	jobs, err := s.jobs.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("求人一覧の取得に失敗: %w", err)
	}
	return jobs, nil
}

// ListWithApplicationCounts はownerが所有する求人に応募数を付けて返す。
// 応募数は全求人分を1回の集計で取得し、応募の無い求人は0になる。
func (s *JobService) ListWithApplicationCounts(ctx context.Context, owner string) ([]store.Document, error) {
	jobs, err := s.jobs.Find(ctx, store.Filter{fieldHREmail: owner})
	if err != nil {
		return nil, fmt.Errorf("求人一覧の取得に失敗: %w", err)
	}
	if len(jobs) == 0 {
		return jobs, nil
	}

	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID())
	}
	counts, err := s.applications.CountBy(ctx, fieldJobID, ids)
	if err != nil {
		return nil, fmt.Errorf("応募数の集計に失敗: %w", err)
	}

	for _, job := range jobs {
		job[fieldApplicationCount] = counts[job.ID()]
	}
	return jobs, nil
}

// Get は識別子に一致する求人を返す。存在しない場合はnilを返す。
func (s *JobService) Get(ctx context.Context, id string) (store.Document, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("求人の取得に失敗: %w", err)
	}
	return job, nil
}

// Create は求人を保存する。内容の検証は行わない。
func (s *JobService) Create(ctx context.Context, job store.Document) (*store.InsertResult, error) {
	res, err := s.jobs.InsertOne(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("求人の作成に失敗: %w", err)
	}
	return res, nil
}
