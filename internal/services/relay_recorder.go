package services

import (
	"context"

	"defeatthememe-backend/internal/models"
	"defeatthememe-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

// RelayAttemptRecorder keeps an audit trail of relay attempts. Failures are logged, never returned.
type RelayAttemptRecorder interface {
	Start(ctx context.Context, attempt *models.RelayAttempt)
	Finish(ctx context.Context, attempt *models.RelayAttempt)
}

// RepositoryRecorder writes attempts through a RelayAttemptRepository.
type RepositoryRecorder struct {
	repo repository.RelayAttemptRepository
	log  *logrus.Entry
}

func NewRepositoryRecorder(repo repository.RelayAttemptRepository, log *logrus.Entry) *RepositoryRecorder {
	return &RepositoryRecorder{repo: repo, log: log}
}

func (r *RepositoryRecorder) Start(ctx context.Context, attempt *models.RelayAttempt) {
	if err := r.repo.Create(context.WithoutCancel(ctx), attempt); err != nil {
		r.log.WithError(err).WithField("attempt_id", attempt.ID).Warn("⚠️  Failed to record relay attempt")
	}
}

func (r *RepositoryRecorder) Finish(ctx context.Context, attempt *models.RelayAttempt) {
	if err := r.repo.Update(context.WithoutCancel(ctx), attempt); err != nil {
		r.log.WithError(err).WithField("attempt_id", attempt.ID).Warn("⚠️  Failed to update relay attempt")
	}
}

// NoopRecorder discards attempts.
type NoopRecorder struct{}

func (NoopRecorder) Start(context.Context, *models.RelayAttempt)  {}
func (NoopRecorder) Finish(context.Context, *models.RelayAttempt) {}
