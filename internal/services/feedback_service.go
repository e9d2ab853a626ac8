package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/soaringjerry/labreport/internal/models"
)

const (
	ratingMin        = 1
	ratingMax        = 5
	maxAnswerLength  = 2000
	maxQuestionCount = 50
)

type FeedbackStore interface {
	InsertQuestion(ctx context.Context, q *models.FeedbackQuestion) error
	UpdateQuestion(ctx context.Context, q *models.FeedbackQuestion) (bool, error)
	DeleteQuestion(ctx context.Context, id string) (bool, error)
	GetQuestion(ctx context.Context, id string) (*models.FeedbackQuestion, error)
	ListQuestions(ctx context.Context) ([]*models.FeedbackQuestion, error)
	AddFeedbackResponse(ctx context.Context, r *models.FeedbackResponse) error
	ListFeedbackResponses(ctx context.Context) ([]*models.FeedbackResponse, error)
	AddAudit(ctx context.Context, e models.AuditEntry)
}

type QuestionSummary struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Question  string         `json:"question"`
	Responses int            `json:"responses"`
	Mean      float64        `json:"mean,omitempty"`
	Histogram map[string]int `json:"histogram,omitempty"`
	Texts     []string       `json:"texts,omitempty"`
}

type FeedbackSummary struct {
	Responses   int               `json:"responses"`
	Questions   []QuestionSummary `json:"questions"`
	Alpha       float64           `json:"alpha"`
	AlphaN      int               `json:"alpha_n"`
	RatingItems int               `json:"rating_items"`
}

// FeedbackService manages the admin-built satisfaction survey and the
// answers participants send back.
type FeedbackService struct {
	store FeedbackStore
	now   func() time.Time
	idGen func(prefix string, n int) string
}

func NewFeedbackService(store FeedbackStore) *FeedbackService {
	return &FeedbackService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func(prefix string, n int) string { return prefix + shortID(n) },
	}
}

func (s *FeedbackService) ListQuestions(ctx context.Context) ([]*models.FeedbackQuestion, error) {
	return s.store.ListQuestions(ctx)
}

func (s *FeedbackService) AddQuestion(ctx context.Context, actor string, q *models.FeedbackQuestion) (*models.FeedbackQuestion, error) {
	if err := normalizeQuestion(q); err != nil {
		return nil, err
	}
	existing, err := s.store.ListQuestions(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) >= maxQuestionCount {
		return nil, NewInvalidError("too many questions")
	}
	q.ID = s.idGen("q", 8)
	if err := s.store.InsertQuestion(ctx, q); err != nil {
		return nil, err
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: s.now(), Actor: actor, Action: "question_add", Target: q.ID})
	return q, nil
}

func (s *FeedbackService) UpdateQuestion(ctx context.Context, actor string, q *models.FeedbackQuestion) (*models.FeedbackQuestion, error) {
	if q == nil || strings.TrimSpace(q.ID) == "" {
		return nil, NewInvalidError("question id required")
	}
	cur, err := s.store.GetQuestion(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, NewNotFoundError("question not found")
	}
	if err := normalizeQuestion(q); err != nil {
		return nil, err
	}
	if q.Order <= 0 {
		q.Order = cur.Order
	}
	ok, err := s.store.UpdateQuestion(ctx, q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewNotFoundError("question not found")
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: s.now(), Actor: actor, Action: "question_update", Target: q.ID})
	return q, nil
}

func (s *FeedbackService) DeleteQuestion(ctx context.Context, actor, id string) error {
	ok, err := s.store.DeleteQuestion(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("question not found")
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: s.now(), Actor: actor, Action: "question_delete", Target: id})
	return nil
}

type SubmitFeedbackRequest struct {
	AnalyticsHash string         `json:"-"`
	Language      string         `json:"language"`
	Answers       map[string]any `json:"answers"`
}

// Submit validates answers against the current questions. Answers to
// unknown questions are rejected; required questions must be answered.
func (s *FeedbackService) Submit(ctx context.Context, req SubmitFeedbackRequest) (*models.FeedbackResponse, error) {
	if len(req.Answers) == 0 {
		return nil, NewInvalidError("answers required")
	}
	questions, err := s.store.ListQuestions(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.FeedbackQuestion, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	clean := make(map[string]any, len(req.Answers))
	for id, raw := range req.Answers {
		q, ok := byID[id]
		if !ok {
			return nil, NewInvalidError("unknown question " + id)
		}
		v, err := validateAnswer(q, raw)
		if err != nil {
			return nil, err
		}
		if v != nil {
			clean[id] = v
		}
	}
	for _, q := range questions {
		if _, ok := clean[q.ID]; q.Required && !ok {
			return nil, NewInvalidError("answer required for " + q.ID)
		}
	}
	resp := &models.FeedbackResponse{
		ID:            s.idGen("f", 10),
		AnalyticsHash: req.AnalyticsHash,
		Language:      NormalizeLanguage(req.Language),
		Answers:       clean,
		SubmittedAt:   s.now(),
	}
	if err := s.store.AddFeedbackResponse(ctx, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Summary aggregates responses per question and computes Cronbach's alpha
// over rating questions for responses that answered all of them.
func (s *FeedbackService) Summary(ctx context.Context) (*FeedbackSummary, error) {
	questions, err := s.store.ListQuestions(ctx)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListFeedbackResponses(ctx)
	if err != nil {
		return nil, err
	}
	out := &FeedbackSummary{Responses: len(responses), Questions: make([]QuestionSummary, 0, len(questions))}
	var ratingIDs []string
	for _, q := range questions {
		qs := QuestionSummary{ID: q.ID, Type: q.Type, Question: q.Question}
		var sum float64
		for _, r := range responses {
			v, ok := r.Answers[q.ID]
			if !ok {
				continue
			}
			qs.Responses++
			switch q.Type {
			case models.QuestionRating:
				f, _ := toFloat(v)
				sum += f
				if qs.Histogram == nil {
					qs.Histogram = map[string]int{}
				}
				qs.Histogram[fmt.Sprintf("%d", int(f))]++
			case models.QuestionMultiple:
				if qs.Histogram == nil {
					qs.Histogram = map[string]int{}
				}
				qs.Histogram[fmt.Sprint(v)]++
			default:
				qs.Texts = append(qs.Texts, fmt.Sprint(v))
			}
		}
		if q.Type == models.QuestionRating {
			ratingIDs = append(ratingIDs, q.ID)
			if qs.Responses > 0 {
				qs.Mean = math.Round(sum/float64(qs.Responses)*100) / 100
			}
		}
		out.Questions = append(out.Questions, qs)
	}
	out.RatingItems = len(ratingIDs)
	matrix := ratingMatrix(responses, ratingIDs)
	out.AlphaN = len(matrix)
	out.Alpha = math.Round(CronbachAlpha(matrix)*1000) / 1000
	return out, nil
}

// ratingMatrix keeps only complete rows so every row has one score per item.
func ratingMatrix(responses []*models.FeedbackResponse, ids []string) [][]float64 {
	if len(ids) < 2 {
		return nil
	}
	var matrix [][]float64
	for _, r := range responses {
		row := make([]float64, 0, len(ids))
		for _, id := range ids {
			f, ok := toFloat(r.Answers[id])
			if !ok {
				break
			}
			row = append(row, f)
		}
		if len(row) == len(ids) {
			matrix = append(matrix, row)
		}
	}
	return matrix
}

func normalizeQuestion(q *models.FeedbackQuestion) error {
	if q == nil {
		return NewInvalidError("question required")
	}
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return NewInvalidError("question text required")
	}
	switch q.Type {
	case models.QuestionRating, models.QuestionText:
		q.Options = nil
	case models.QuestionMultiple:
		opts := make([]string, 0, len(q.Options))
		seen := map[string]bool{}
		for _, o := range q.Options {
			o = strings.TrimSpace(o)
			if o == "" || seen[o] {
				continue
			}
			seen[o] = true
			opts = append(opts, o)
		}
		if len(opts) < 2 {
			return NewInvalidError("multiple choice needs at least two options")
		}
		q.Options = opts
	default:
		return NewInvalidError("invalid question type")
	}
	return nil
}

// validateAnswer returns the canonical stored value, or nil for an empty
// optional answer.
func validateAnswer(q *models.FeedbackQuestion, raw any) (any, error) {
	// null means unanswered; Submit enforces Required
	if raw == nil {
		return nil, nil
	}
	switch q.Type {
	case models.QuestionRating:
		f, ok := toFloat(raw)
		if !ok || f != math.Trunc(f) || f < ratingMin || f > ratingMax {
			return nil, NewInvalidError(fmt.Sprintf("rating for %s must be %d-%d", q.ID, ratingMin, ratingMax))
		}
		return int(f), nil
	case models.QuestionMultiple:
		v, _ := raw.(string)
		if v == "" {
			return nil, nil
		}
		for _, o := range q.Options {
			if o == v {
				return v, nil
			}
		}
		return nil, NewInvalidError("invalid option for " + q.ID)
	default:
		v, ok := raw.(string)
		if !ok {
			return nil, NewInvalidError("text answer expected for " + q.ID)
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, nil
		}
		if len(v) > maxAnswerLength {
			return nil, NewInvalidError("answer too long for " + q.ID)
		}
		return v, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
