package qa

import (
	"context"
	"time"
)

// Response is the raw result of a single HTTP GET.
type Response struct {
	StatusCode int
	Body       []byte
}

// Getter issues a blocking HTTP GET against a fully built URL.
type Getter interface {
	Get(ctx context.Context, rawURL string) (Response, error)
}

// QuestionPage is one page of search results.
type QuestionPage struct {
	Questions      []Question
	QuotaRemaining int
	HasMore        bool
	// Backoff is the server-requested pause before the next call to the same method.
	Backoff time.Duration
	// OK is false when the API answered with a non-success status.
	OK bool
}

// AnswerBatch is the outcome of fetching answers for a list of question IDs.
type AnswerBatch struct {
	Groups map[int64]AnswerGroup
	// Fetched holds every question ID whose answer request succeeded, with or without answers.
	Fetched map[int64]bool
	// QuotaExhausted reports that remaining groups were skipped to preserve quota.
	QuotaExhausted bool
	QuotaRemaining int
}

// QuestionFetcher retrieves pages of questions for the configured tag.
type QuestionFetcher interface {
	FetchQuestions(ctx context.Context, page, pageSize int, acceptedOnly bool) (QuestionPage, error)
}

// AnswerFetcher retrieves answers for batches of questions.
type AnswerFetcher interface {
	FetchAnswers(ctx context.Context, questionIDs []int64, topN int) (AnswerBatch, error)
}

// QuestionStore loads and saves the full question collection.
type QuestionStore interface {
	Load() ([]Question, error)
	Save(questions []Question) error
}

// RowExporter mirrors joined rows to a secondary destination.
type RowExporter interface {
	ExportRows(ctx context.Context, runID string, rows []Row) error
}

// Sleeper pauses between API calls; it returns early when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Cleaner converts markup to plain text and never fails.
type Cleaner interface {
	Clean(markup string) string
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
