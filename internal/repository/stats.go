package repository

import (
	"context"

	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/store"
)

type Overview struct {
	TotalUsers    int `json:"totalUsers"`
	ActiveUsers   int `json:"activeUsers"`
	TotalRequests int `json:"totalRequests"`
	TotalBots     int `json:"totalBots"`
	RunningBots   int `json:"runningBots"`
}

type StatsRepository interface {
	GetOverview(ctx context.Context) (*Overview, error)
}

type statsRepo struct {
	store store.DocumentStore[model.Document]
}

func NewStatsRepository(s store.DocumentStore[model.Document]) StatsRepository {
	return &statsRepo{store: s}
}

func (r *statsRepo) GetOverview(ctx context.Context) (*Overview, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Overview{TotalUsers: len(doc.Users)}
	for _, acc := range doc.Users {
		if acc.HasPositiveBalance() {
			stats.ActiveUsers++
		}
		stats.TotalRequests += acc.TotalRequests
		stats.TotalBots += len(acc.Bots)
		for _, b := range acc.Bots {
			if b.IsRunning {
				stats.RunningBots++
			}
		}
	}
	return stats, nil
}
