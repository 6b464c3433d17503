package engine

import (
	"context"

	"go.uber.org/zap"

	"readyline/internal/domain"
	"readyline/internal/engine/progress"
	"readyline/internal/events"
)

// GetProgress derives completion from the stored responses. When the derived
// status differs from the stored one it is written back; a failed write is
// logged and the derived progress is still returned.
func (e Engine) GetProgress(ctx context.Context, interviewID string) (domain.Progress, error) {
	iv, err := e.GetInterview(ctx, interviewID)
	if err != nil {
		return domain.Progress{}, err
	}
	responses, err := e.Repo.ListResponses(ctx, interviewID)
	if err != nil {
		return domain.Progress{}, err
	}
	p := progress.Derive(iv.ID, responses, iv.HasImplicitRole())
	if p.Status != iv.Status && e.Config.PersistStatus() {
		e.persistStatus(ctx, iv, p)
	}
	return p, nil
}

func (e Engine) persistStatus(ctx context.Context, iv domain.Interview, p domain.Progress) {
	now := e.timestamp()
	var completedAt *string
	if p.Status == domain.StatusCompleted {
		completedAt = &now
	}
	log := e.log().With(zap.String("interview_id", iv.ID), zap.String("from", iv.Status), zap.String("to", p.Status))
	if err := e.Repo.UpdateInterviewStatus(ctx, iv.ID, p.Status, completedAt, now); err != nil {
		log.Warn("persist interview status failed", zap.Error(err))
		return
	}
	if err := e.events().Append(ctx, e.DB, events.InterviewStatusChanged, iv.CompanyID, "interview", iv.ID, "system", events.Payload{
		"from":     iv.Status,
		"to":       p.Status,
		"answered": p.AnsweredQuestions,
		"total":    p.TotalQuestions,
	}); err != nil {
		log.Warn("record status change failed", zap.Error(err))
		return
	}
	log.Debug("interview status updated")
}
