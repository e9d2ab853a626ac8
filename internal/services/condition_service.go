package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/soaringjerry/labreport/internal/models"
)

const conditionTopN = 10

type ConditionStore interface {
	ListConditionRecords(ctx context.Context) ([]*models.ConditionRecord, error)
	CountRecentReports(ctx context.Context, since time.Time) (int, error)
}

type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type ConditionOverview struct {
	Reports         int     `json:"reports"`
	Participants    int     `json:"participants"`
	Returning       int     `json:"returning"`
	ReportsLastWeek int     `json:"reports_last_week"`
	TopConditions   []Count `json:"top_conditions"`
}

// ConditionService aggregates de-identified condition records for admins.
type ConditionService struct {
	store ConditionStore
	now   func() time.Time
}

func NewConditionService(store ConditionStore) *ConditionService {
	return &ConditionService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

var demographicFields = map[string]func(*models.ConditionRecord) string{
	"ageRange":  func(r *models.ConditionRecord) string { return r.AgeRange },
	"gender":    func(r *models.ConditionRecord) string { return r.Gender },
	"ethnicity": func(r *models.ConditionRecord) string { return r.Ethnicity },
	"language":  func(r *models.ConditionRecord) string { return r.Language },
	"country":   func(r *models.ConditionRecord) string { return r.Country },
	"state":     func(r *models.ConditionRecord) string { return r.State },
	"city":      func(r *models.ConditionRecord) string { return r.City },
}

func (s *ConditionService) Overview(ctx context.Context) (*ConditionOverview, error) {
	recs, err := s.store.ListConditionRecords(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.CountRecentReports(ctx, s.now().Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	hashes := map[string]struct{}{}
	out := &ConditionOverview{Reports: len(recs), ReportsLastWeek: recent}
	for _, r := range recs {
		hashes[r.AnalyticsHash] = struct{}{}
		if r.Returning {
			out.Returning++
		}
	}
	out.Participants = len(hashes)
	out.TopConditions = countConditions(recs, nil)
	return out, nil
}

// Stats returns the most common conditions across all reports.
func (s *ConditionService) Stats(ctx context.Context) ([]Count, error) {
	recs, err := s.store.ListConditionRecords(ctx)
	if err != nil {
		return nil, err
	}
	return countConditions(recs, nil), nil
}

// ByDemographic counts conditions among reports whose field equals value.
func (s *ConditionService) ByDemographic(ctx context.Context, field, value string) ([]Count, error) {
	get, ok := demographicFields[field]
	if !ok {
		return nil, NewInvalidError("unknown demographic field")
	}
	if strings.TrimSpace(value) == "" {
		return nil, NewInvalidError("value required")
	}
	recs, err := s.store.ListConditionRecords(ctx)
	if err != nil {
		return nil, err
	}
	return countConditions(recs, func(r *models.ConditionRecord) bool { return get(r) == value }), nil
}

// ByLocation counts "city, state, country" locations of reports that carry
// the condition.
func (s *ConditionService) ByLocation(ctx context.Context, condition string) ([]Count, error) {
	if strings.TrimSpace(condition) == "" {
		return nil, NewInvalidError("condition required")
	}
	recs, err := s.store.ListConditionRecords(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, r := range recs {
		for _, c := range r.Conditions {
			if c.Name == condition {
				counts[r.City+", "+r.State+", "+r.Country]++
				break
			}
		}
	}
	return topCounts(counts, conditionTopN), nil
}

func countConditions(recs []*models.ConditionRecord, keep func(*models.ConditionRecord) bool) []Count {
	counts := map[string]int{}
	for _, r := range recs {
		if keep != nil && !keep(r) {
			continue
		}
		for _, c := range r.Conditions {
			counts[c.Name]++
		}
	}
	return topCounts(counts, conditionTopN)
}

// topCounts orders by count descending, then key, and keeps at most n.
func topCounts(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for k, v := range counts {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
