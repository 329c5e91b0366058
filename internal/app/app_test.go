package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/config"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/pipeline"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

const questionsPage = `{
  "items": [
    {"question_id": 101, "title": "Tokenize?", "body": "<p>How do I <b>tokenize</b>?</p>", "score": 12,
     "creation_date": 1500000000, "view_count": 900, "answer_count": 2, "tags": ["nlp", "python"]},
    {"question_id": 102, "title": "Stem", "body": "<p>Stemming</p>", "score": 3,
     "creation_date": 1500000001, "view_count": 80, "answer_count": 1, "tags": ["nlp"]}
  ],
  "quota_remaining": 290,
  "has_more": true
}`

const answersPage = `{
  "items": [
    {"answer_id": 1, "question_id": 101, "score": 5, "is_accepted": true, "body": "<p>Use nltk</p>", "owner": {"user_id": 42}},
    {"answer_id": 2, "question_id": 101, "score": 9, "is_accepted": false, "body": "<p>Use spaCy</p>", "owner": {}},
    {"answer_id": 3, "question_id": 102, "score": 1, "is_accepted": false, "body": "Porter", "owner": {"user_id": 7}}
  ],
  "quota_remaining": 280,
  "has_more": false
}`

func newAPIServer(t *testing.T, questionCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/2.3/questions":
			n := questionCalls.Add(1)
			if n == 1 {
				_, _ = w.Write([]byte(questionsPage))
				return
			}
			_, _ = w.Write([]byte(`{"items": [], "quota_remaining": 280, "has_more": false}`))
		case strings.HasPrefix(r.URL.Path, "/2.3/questions/") && strings.HasSuffix(r.URL.Path, "/answers"):
			assert.Equal(t, "/2.3/questions/101;102/answers", r.URL.Path)
			_, _ = w.Write([]byte(answersPage))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.API.BaseURL = baseURL + "/2.3"
	cfg.API.DelayMs = 0
	cfg.Collector.QuestionsPath = filepath.Join(dir, "questions.json")
	cfg.Collector.StartPage = 1
	cfg.Collector.MaxPages = 5
	cfg.Joiner.OutputPath = filepath.Join(dir, "qa.csv")
	return cfg
}

func TestAppRunBothEndToEnd(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newAPIServer(t, &calls)
	cfg := testConfig(t, srv.URL)

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	report := a.Run(context.Background(), pipeline.ModeBoth)
	require.False(t, report.Failed(), report.Err())
	require.Len(t, report.Results, 2)
	require.Equal(t, qa.ReasonEndOfResults, report.Results[0].Reason)
	require.Equal(t, 2, report.Results[0].Total)
	require.Equal(t, 2, report.Results[1].Added)
	require.EqualValues(t, 3, calls.Load())

	raw, err := os.ReadFile(cfg.Collector.QuestionsPath)
	require.NoError(t, err)
	var stored []qa.Question
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Len(t, stored, 2)
	require.Equal(t, "nlp;python", stored[0].Tags)

	f, err := os.Open(cfg.Joiner.OutputPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, qa.Columns(3), records[0])
	assert.Equal(t, "How do I tokenize ?", records[1][2])
	assert.Equal(t, "[User 42 | Score: 5]: Use nltk", records[1][7])
	assert.Equal(t, "[User unknown | Score: 9]: Use spaCy", records[1][8])
	assert.Equal(t, "[User 7 | Score: 1]: Porter", records[2][8])

	// a second join has nothing left to do.
	report = a.Run(context.Background(), pipeline.ModeJoin)
	require.Equal(t, qa.ReasonNothingToDo, report.Results[0].Reason)
}

func TestAppArchivesArtifactsLocally(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newAPIServer(t, &calls)
	cfg := testConfig(t, srv.URL)
	cfg.Export.Local.Dir = filepath.Join(t.TempDir(), "archive")

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	report := a.Run(context.Background(), pipeline.ModeBoth)
	require.False(t, report.Failed(), report.Err())
	require.NoError(t, report.UploadErr)
	require.Len(t, report.Uploads, 2)
	_, err = os.Stat(filepath.Join(cfg.Export.Local.Dir, "qa.csv.sha256"))
	require.NoError(t, err)
}

func TestAppCollyTransport(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newAPIServer(t, &calls)
	cfg := testConfig(t, srv.URL)
	cfg.HTTP.Transport = "colly"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	report := a.Run(context.Background(), pipeline.ModeCollect)
	require.False(t, report.Failed(), report.Err())
	require.Equal(t, 2, report.Results[0].Added)
}

func TestAppRejectsBadPostgresDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Export.Postgres.DSN = "not a dsn ::"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "postgres")
}

func TestArtifacts(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Collector: config.CollectorConfig{QuestionsPath: "data/questions.json"},
		Joiner:    config.JoinerConfig{OutputPath: "data/qa.csv"},
	}
	artifacts := Artifacts(cfg)
	require.Len(t, artifacts, 2)
	require.Equal(t, "questions.json", artifacts[0].Object)
	require.Equal(t, "text/csv", artifacts[1].ContentType)
}
