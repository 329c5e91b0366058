// Package qa defines core types shared across subsystems.
package qa

import (
	"fmt"
	"strconv"
)

// UnknownUser is recorded when an answer has no owner (deleted or anonymous accounts).
const UnknownUser = "unknown"

// Question is the subset of a Stack Exchange question persisted in the questions file.
type Question struct {
	QuestionID   int64  `json:"question_id"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	Score        int    `json:"score"`
	CreationDate int64  `json:"creation_date"`
	ViewCount    int    `json:"view_count"`
	AnswerCount  int    `json:"answer_count"`
	Tags         string `json:"tags"`
}

// Answer is a cleaned answer attached to a question.
type Answer struct {
	AnswerID int64
	Score    int
	UserID   string
	Text     string
}

// Format renders the answer the way it is stored in the output table.
func (a Answer) Format() string {
	return fmt.Sprintf("[User %s | Score: %d]: %s", a.UserID, a.Score, a.Text)
}

// AnswerGroup buckets the answers of one question.
type AnswerGroup struct {
	Accepted []Answer
	// Others is sorted by score descending and truncated to the requested top N.
	Others []Answer
}

// AcceptedPolicy selects which accepted answer fills the accepted_answer column
// when the API reports more than one.
type AcceptedPolicy string

// Supported accepted-answer policies.
const (
	AcceptedFirst        AcceptedPolicy = "first"
	AcceptedHighestScore AcceptedPolicy = "highest_score"
)

// ParseAcceptedPolicy validates a configured policy name. Empty selects AcceptedFirst.
func ParseAcceptedPolicy(raw string) (AcceptedPolicy, error) {
	switch AcceptedPolicy(raw) {
	case "", AcceptedFirst:
		return AcceptedFirst, nil
	case AcceptedHighestScore:
		return AcceptedHighestScore, nil
	default:
		return "", fmt.Errorf("unknown accepted answer policy %q", raw)
	}
}

// Pick returns the accepted answer chosen by the policy.
func (p AcceptedPolicy) Pick(accepted []Answer) (Answer, bool) {
	if len(accepted) == 0 {
		return Answer{}, false
	}
	if p != AcceptedHighestScore {
		return accepted[0], true
	}
	best := accepted[0]
	for _, a := range accepted[1:] {
		if a.Score > best.Score {
			best = a
		}
	}
	return best, true
}

// Row is one line of the merged question and answer table.
type Row struct {
	QuestionID     int64
	Title          string
	Body           string
	Score          int
	ViewCount      int
	AnswerCount    int
	Tags           string
	AcceptedAnswer string
	TopAnswers     []string
}

// Columns returns the table header for the given number of top answers.
func Columns(topN int) []string {
	cols := []string{
		"question_id",
		"title",
		"body",
		"score",
		"view_count",
		"answer_count",
		"tags",
		"accepted_answer",
	}
	for i := 1; i <= topN; i++ {
		cols = append(cols, "top_answer_"+strconv.Itoa(i))
	}
	return cols
}

// Record flattens the row into topN+8 cells matching Columns(topN).
func (r Row) Record(topN int) []string {
	rec := []string{
		strconv.FormatInt(r.QuestionID, 10),
		r.Title,
		r.Body,
		strconv.Itoa(r.Score),
		strconv.Itoa(r.ViewCount),
		strconv.Itoa(r.AnswerCount),
		r.Tags,
		r.AcceptedAnswer,
	}
	for i := 0; i < topN; i++ {
		cell := ""
		if i < len(r.TopAnswers) {
			cell = r.TopAnswers[i]
		}
		rec = append(rec, cell)
	}
	return rec
}
