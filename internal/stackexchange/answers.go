package stackexchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/metrics"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

type apiOwner struct {
	UserID *int64 `json:"user_id"`
}

type apiAnswer struct {
	AnswerID   int64     `json:"answer_id"`
	QuestionID int64     `json:"question_id"`
	Score      int       `json:"score"`
	IsAccepted bool      `json:"is_accepted"`
	Body       string    `json:"body"`
	Owner      *apiOwner `json:"owner"`
}

func (a apiAnswer) userID() string {
	if a.Owner == nil || a.Owner.UserID == nil {
		return qa.UnknownUser
	}
	return strconv.FormatInt(*a.Owner.UserID, 10)
}

// groupResult describes one vectorized answers request (possibly several pages).
// quotaKnown is set once any page succeeded, even if a later page failed.
type groupResult struct {
	ok         bool
	quotaKnown bool
	quota      int
	backoff    time.Duration
}

// FetchAnswers retrieves answers for questionIDs in groups of at most
// MaxIDsPerRequest and buckets them per question into accepted and other
// answers. Others are sorted by score descending and truncated to topN.
//
// A group with any page answered by a non-success status is logged and
// skipped as a whole; its questions are not marked fetched. Once the reported
// quota drops below AnswerQuotaFloor the remaining groups are skipped and
// QuotaExhausted is set; the partial batch is still returned without error.
func (c *Client) FetchAnswers(ctx context.Context, questionIDs []int64, topN int) (qa.AnswerBatch, error) {
	batch := qa.AnswerBatch{
		Groups:  make(map[int64]qa.AnswerGroup),
		Fetched: make(map[int64]bool),
	}
	if len(questionIDs) == 0 {
		return batch, nil
	}

	groups := chunkIDs(questionIDs, c.cfg.IDsPerRequest)
	var wait time.Duration
	for i, ids := range groups {
		if i > 0 {
			if err := c.sleeper.Sleep(ctx, wait); err != nil {
				return finalize(batch, topN), fmt.Errorf("sleep between answer requests: %w", err)
			}
		}
		c.logger.Info("fetching answers",
			zap.Int("questions", len(ids)),
			zap.Int("group", i+1),
			zap.Int("groups", len(groups)),
		)
		res, err := c.fetchGroup(ctx, ids, &batch)
		if err != nil {
			return finalize(batch, topN), err
		}
		wait = maxDuration(c.cfg.Delay, res.backoff)
		if !res.quotaKnown {
			continue
		}
		batch.QuotaRemaining = res.quota
		if res.quota < c.cfg.AnswerQuotaFloor {
			c.logger.Warn("api quota running low, skipping remaining answer groups",
				zap.Int("quota", res.quota),
				zap.Int("skipped_groups", len(groups)-i-1),
			)
			batch.QuotaExhausted = true
			break
		}
	}
	return finalize(batch, topN), nil
}

// fetchGroup reads every page for ids into local state and merges it into
// batch only when all pages succeeded.
func (c *Client) fetchGroup(ctx context.Context, ids []int64, batch *qa.AnswerBatch) (groupResult, error) {
	joined := joinIDs(ids)
	res := groupResult{}
	var items []apiAnswer
	for page := 1; page <= c.cfg.MaxAnswerPages; page++ {
		if page > 1 {
			if err := c.sleeper.Sleep(ctx, maxDuration(c.cfg.Delay, res.backoff)); err != nil {
				return res, fmt.Errorf("sleep between answer pages: %w", err)
			}
		}
		params := c.baseParams()
		params.Set("pagesize", strconv.Itoa(c.cfg.AnswerPageSize))
		if page > 1 {
			params.Set("page", strconv.Itoa(page))
		}
		rawURL := c.cfg.BaseURL + "/questions/" + joined + "/answers?" + params.Encode()

		resp, err := c.get(ctx, endpointAnswers, rawURL)
		if err != nil {
			return res, err
		}
		if !success(resp.StatusCode) {
			c.logAPIError("answer fetch failed", resp,
				zap.Int("questions", len(ids)),
				zap.Int("page", page),
				zap.Int("discarded_answers", len(items)),
			)
			res.ok = false
			return res, nil
		}
		env, err := decode[apiAnswer](resp.Body)
		if err != nil {
			return res, err
		}
		items = append(items, env.Items...)
		res.quotaKnown = true
		res.quota = env.QuotaRemaining
		res.backoff = backoff(env.Backoff)
		metrics.SetQuotaRemaining(env.QuotaRemaining)
		c.logger.Info("retrieved answers",
			zap.Int("count", len(env.Items)),
			zap.Int("page", page),
			zap.Int("quota", env.QuotaRemaining),
		)
		if !env.HasMore || env.QuotaRemaining < c.cfg.AnswerQuotaFloor {
			break
		}
	}
	res.ok = true
	c.bucket(items, batch)
	for _, id := range ids {
		batch.Fetched[id] = true
	}
	return res, nil
}

func (c *Client) bucket(items []apiAnswer, batch *qa.AnswerBatch) {
	var accepted, others int
	for _, item := range items {
		answer := qa.Answer{
			AnswerID: item.AnswerID,
			Score:    item.Score,
			UserID:   item.userID(),
			Text:     c.cleaner.Clean(item.Body),
		}
		group := batch.Groups[item.QuestionID]
		if item.IsAccepted {
			group.Accepted = append(group.Accepted, answer)
			accepted++
		} else {
			group.Others = append(group.Others, answer)
			others++
		}
		batch.Groups[item.QuestionID] = group
	}
	metrics.AddAnswers("accepted", accepted)
	metrics.AddAnswers("other", others)
}

func finalize(batch qa.AnswerBatch, topN int) qa.AnswerBatch {
	if topN < 0 {
		topN = 0
	}
	for qid, group := range batch.Groups {
		sort.SliceStable(group.Others, func(i, j int) bool {
			return group.Others[i].Score > group.Others[j].Score
		})
		if len(group.Others) > topN {
			group.Others = group.Others[:topN]
		}
		batch.Groups[qid] = group
	}
	return batch
}

func chunkIDs(ids []int64, size int) [][]int64 {
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ";")
}

func maxDuration(a, b time.Duration) time.Duration {
	if b > a {
		return b
	}
	return a
}
