package stackexchange

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/metrics"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

type apiQuestion struct {
	QuestionID   int64    `json:"question_id"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Score        int      `json:"score"`
	CreationDate int64    `json:"creation_date"`
	ViewCount    int      `json:"view_count"`
	AnswerCount  int      `json:"answer_count"`
	Tags         []string `json:"tags"`
}

func (q apiQuestion) record() qa.Question {
	return qa.Question{
		QuestionID:   q.QuestionID,
		Title:        q.Title,
		Body:         q.Body,
		Score:        q.Score,
		CreationDate: q.CreationDate,
		ViewCount:    q.ViewCount,
		AnswerCount:  q.AnswerCount,
		Tags:         strings.Join(q.Tags, ";"),
	}
}

// FetchQuestions requests one page of questions for the configured tag,
// ordered by votes. A non-success status is logged and reported as an empty
// page with zero quota and OK unset; only transport and decode failures are errors.
func (c *Client) FetchQuestions(ctx context.Context, page, pageSize int, acceptedOnly bool) (qa.QuestionPage, error) {
	params := c.baseParams()
	params.Set("page", strconv.Itoa(page))
	params.Set("pagesize", strconv.Itoa(pageSize))
	params.Set("tagged", c.cfg.Tag)
	if acceptedOnly {
		params.Set("hasaccepted", "true")
	}
	rawURL := c.cfg.BaseURL + "/questions?" + params.Encode()

	c.logger.Debug("fetching questions page", zap.Int("page", page), zap.String("tag", c.cfg.Tag))
	resp, err := c.get(ctx, endpointQuestions, rawURL)
	if err != nil {
		return qa.QuestionPage{}, err
	}
	if !success(resp.StatusCode) {
		c.logAPIError("question fetch failed", resp, zap.Int("page", page))
		return qa.QuestionPage{}, nil
	}

	env, err := decode[apiQuestion](resp.Body)
	if err != nil {
		return qa.QuestionPage{}, err
	}
	questions := make([]qa.Question, 0, len(env.Items))
	for _, item := range env.Items {
		questions = append(questions, item.record())
	}
	metrics.SetQuotaRemaining(env.QuotaRemaining)
	c.logger.Info("retrieved questions",
		zap.Int("page", page),
		zap.Int("count", len(questions)),
		zap.Int("quota", env.QuotaRemaining),
	)
	return qa.QuestionPage{
		Questions:      questions,
		QuotaRemaining: env.QuotaRemaining,
		HasMore:        env.HasMore,
		Backoff:        backoff(env.Backoff),
		OK:             true,
	}, nil
}
