package stackexchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/cleaner"
	restyfetcher "github.com/JakeFAU/stackexchange-qa-collector/internal/fetcher/resty"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/qa"
)

func TestFetchQuestionsBuildsQueryAndMapsFields(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: []fakeResponse{{
		status: http.StatusOK,
		body: `{"items":[
			{"question_id":11,"title":"Tokenize?","body":"<p>hi</p>","score":5,"creation_date":1600000000,
			 "view_count":70,"answer_count":2,"tags":["nlp","python"]},
			{"question_id":12}
		],"quota_remaining":250,"has_more":true,"backoff":10}`,
	}}}
	client := newTestClient(t, getter, Config{BaseURL: "https://api.test/2.3", Key: "k3y"})

	page, err := client.FetchQuestions(context.Background(), 3, 50, true)
	require.NoError(t, err)
	require.True(t, page.OK)
	require.Equal(t, 250, page.QuotaRemaining)
	require.True(t, page.HasMore)
	require.Equal(t, 10*time.Second, page.Backoff)
	require.Equal(t, []qa.Question{
		{
			QuestionID:   11,
			Title:        "Tokenize?",
			Body:         "<p>hi</p>",
			Score:        5,
			CreationDate: 1600000000,
			ViewCount:    70,
			AnswerCount:  2,
			Tags:         "nlp;python",
		},
		{QuestionID: 12},
	}, page.Questions)

	require.Len(t, getter.urls, 1)
	u, err := url.Parse(getter.urls[0])
	require.NoError(t, err)
	require.Equal(t, "/2.3/questions", u.Path)
	q := u.Query()
	require.Equal(t, "stackoverflow", q.Get("site"))
	require.Equal(t, "3", q.Get("page"))
	require.Equal(t, "50", q.Get("pagesize"))
	require.Equal(t, "desc", q.Get("order"))
	require.Equal(t, "votes", q.Get("sort"))
	require.Equal(t, "nlp", q.Get("tagged"))
	require.Equal(t, "withbody", q.Get("filter"))
	require.Equal(t, "true", q.Get("hasaccepted"))
	require.Equal(t, "k3y", q.Get("key"))
}

func TestFetchQuestionsOmitsHasAccepted(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: []fakeResponse{{status: http.StatusOK, body: `{"items":[],"quota_remaining":9}`}}}
	client := newTestClient(t, getter, Config{})

	page, err := client.FetchQuestions(context.Background(), 1, 100, false)
	require.NoError(t, err)
	require.Empty(t, page.Questions)
	require.NotContains(t, getter.urls[0], "hasaccepted")
	require.NotContains(t, getter.urls[0], "key=")
}

func TestFetchQuestionsNonSuccessIsEmptyPage(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: []fakeResponse{{
		status: http.StatusBadRequest,
		body:   `{"error_id":502,"error_name":"throttle_violation","error_message":"too many requests"}`,
	}}}
	client := newTestClient(t, getter, Config{})

	page, err := client.FetchQuestions(context.Background(), 1, 100, true)
	require.NoError(t, err)
	require.False(t, page.OK)
	require.Empty(t, page.Questions)
	require.Zero(t, page.QuotaRemaining)
}

func TestFetchQuestionsErrors(t *testing.T) {
	t.Parallel()

	t.Run("transport", func(t *testing.T) {
		t.Parallel()
		getter := &fakeGetter{responses: []fakeResponse{{err: errors.New("connection reset")}}}
		client := newTestClient(t, getter, Config{})
		_, err := client.FetchQuestions(context.Background(), 1, 100, true)
		require.ErrorContains(t, err, "connection reset")
	})

	t.Run("decode", func(t *testing.T) {
		t.Parallel()
		getter := &fakeGetter{responses: []fakeResponse{{status: http.StatusOK, body: `{"items":`}}}
		client := newTestClient(t, getter, Config{})
		_, err := client.FetchQuestions(context.Background(), 1, 100, true)
		require.ErrorIs(t, err, ErrDecode)
	})
}

func TestFetchAnswersBucketsAndTruncates(t *testing.T) {
	t.Parallel()

	body := `{"items":[
		{"answer_id":1,"question_id":7,"score":4,"is_accepted":true,"body":"<p>accepted</p>","owner":{"user_id":100}},
		{"answer_id":2,"question_id":7,"score":1,"body":"<p>low</p>","owner":{"user_id":101}},
		{"answer_id":3,"question_id":7,"score":9,"body":"<p>high</p>","owner":{"user_id":102}},
		{"answer_id":4,"question_id":7,"score":5,"body":"<p>mid</p>"},
		{"answer_id":5,"question_id":7,"score":3,"body":"<p>other</p>","owner":{}},
		{"answer_id":6,"question_id":8,"score":2,"body":"<b>solo</b>","owner":{"user_id":5}}
	],"quota_remaining":900}`
	getter := &fakeGetter{responses: []fakeResponse{{status: http.StatusOK, body: body}}}
	client := newTestClient(t, getter, Config{})

	batch, err := client.FetchAnswers(context.Background(), []int64{7, 8, 9}, 3)
	require.NoError(t, err)
	require.False(t, batch.QuotaExhausted)
	require.Equal(t, 900, batch.QuotaRemaining)
	require.Equal(t, map[int64]bool{7: true, 8: true, 9: true}, batch.Fetched)

	g := batch.Groups[7]
	require.Len(t, g.Accepted, 1)
	require.Equal(t, qa.Answer{AnswerID: 1, Score: 4, UserID: "100", Text: "accepted"}, g.Accepted[0])
	require.Len(t, g.Others, 3)
	require.Equal(t, []int64{3, 4, 5}, answerIDs(g.Others))
	require.Equal(t, qa.UnknownUser, g.Others[1].UserID)
	require.Equal(t, qa.UnknownUser, g.Others[2].UserID)

	require.Equal(t, "solo", batch.Groups[8].Others[0].Text)
	_, ok := batch.Groups[9]
	require.False(t, ok)

	u, err := url.Parse(getter.urls[0])
	require.NoError(t, err)
	require.Equal(t, "/2.3/questions/7;8;9/answers", u.Path)
	require.Equal(t, "100", u.Query().Get("pagesize"))
	require.Equal(t, "votes", u.Query().Get("sort"))
}

func TestFetchAnswersAcceptedAndOthersCounts(t *testing.T) {
	t.Parallel()

	cases := []struct{ accepted, others, topN int }{
		{0, 0, 3}, {1, 2, 3}, {1, 5, 3}, {2, 4, 1}, {0, 7, 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_%d_top%d", tc.accepted, tc.others, tc.topN), func(t *testing.T) {
			t.Parallel()
			var items []string
			id := 0
			for i := 0; i < tc.accepted; i++ {
				id++
				items = append(items, fmt.Sprintf(`{"answer_id":%d,"question_id":1,"score":%d,"is_accepted":true}`, id, id))
			}
			for i := 0; i < tc.others; i++ {
				id++
				items = append(items, fmt.Sprintf(`{"answer_id":%d,"question_id":1,"score":%d}`, id, (id*7)%5))
			}
			body := `{"items":[` + strings.Join(items, ",") + `],"quota_remaining":500}`
			getter := &fakeGetter{responses: []fakeResponse{{status: http.StatusOK, body: body}}}
			client := newTestClient(t, getter, Config{})

			batch, err := client.FetchAnswers(context.Background(), []int64{1}, tc.topN)
			require.NoError(t, err)
			g := batch.Groups[1]
			require.Len(t, g.Accepted, tc.accepted)
			require.Len(t, g.Others, min(tc.others, tc.topN))
			for i := 1; i < len(g.Others); i++ {
				require.GreaterOrEqual(t, g.Others[i-1].Score, g.Others[i].Score)
			}
		})
	}
}

func TestFetchAnswersGroupsOfOneHundred(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{fallback: fakeResponse{status: http.StatusOK, body: `{"items":[],"quota_remaining":5000}`}}
	sleeper := &fakeSleeper{}
	client, err := New(getter, sleeper, cleaner.New(nil), Config{Delay: time.Second}, nil)
	require.NoError(t, err)

	batch, err := client.FetchAnswers(context.Background(), seqIDs(250), 3)
	require.NoError(t, err)
	require.Len(t, getter.urls, 3)
	require.Equal(t, []int{100, 100, 50}, idsPerURL(t, getter.urls))
	require.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.calls)
	require.Len(t, batch.Fetched, 250)
}

func TestFetchAnswersStopsOnLowQuota(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{fallback: fakeResponse{status: http.StatusOK, body: `{"items":[],"quota_remaining":99}`}}
	client := newTestClient(t, getter, Config{AnswerQuotaFloor: 100})

	batch, err := client.FetchAnswers(context.Background(), seqIDs(250), 3)
	require.NoError(t, err)
	require.True(t, batch.QuotaExhausted)
	require.Len(t, getter.urls, 1)
	require.Len(t, batch.Fetched, 100)
}

func TestFetchAnswersSkipsFailedGroup(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: []fakeResponse{
		{status: http.StatusServiceUnavailable, body: `{"error_name":"temporarily_unavailable"}`},
		{status: http.StatusOK, body: `{"items":[{"answer_id":1,"question_id":150,"score":1}],"quota_remaining":800}`},
	}}
	client := newTestClient(t, getter, Config{})

	batch, err := client.FetchAnswers(context.Background(), seqIDs(200), 3)
	require.NoError(t, err)
	require.Len(t, getter.urls, 2)
	require.False(t, batch.Fetched[1])
	require.True(t, batch.Fetched[150])
	require.Len(t, batch.Groups[150].Others, 1)
}

func TestFetchAnswersFollowsHasMore(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: []fakeResponse{
		{status: http.StatusOK, body: `{"items":[{"answer_id":1,"question_id":1,"score":1}],"quota_remaining":800,"has_more":true}`},
		{status: http.StatusOK, body: `{"items":[{"answer_id":2,"question_id":1,"score":8}],"quota_remaining":799,"has_more":true}`},
	}}
	client := newTestClient(t, getter, Config{MaxAnswerPages: 2})

	batch, err := client.FetchAnswers(context.Background(), []int64{1}, 3)
	require.NoError(t, err)
	require.Len(t, getter.urls, 2)
	require.Contains(t, getter.urls[1], "page=2")
	require.Equal(t, []int64{2, 1}, answerIDs(batch.Groups[1].Others))
	require.Equal(t, 799, batch.QuotaRemaining)
}

func TestFetchAnswersFailedLaterPageDropsGroup(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{responses: []fakeResponse{
		{status: http.StatusOK, body: `{"items":[{"answer_id":1,"question_id":1,"score":1}],"quota_remaining":800,"has_more":true}`},
		{status: http.StatusServiceUnavailable, body: `{"error_name":"temporarily_unavailable"}`},
	}}
	client := newTestClient(t, getter, Config{MaxAnswerPages: 2})

	batch, err := client.FetchAnswers(context.Background(), []int64{1, 2}, 3)
	require.NoError(t, err)
	require.Len(t, getter.urls, 2)
	require.Empty(t, batch.Fetched)
	require.Empty(t, batch.Groups)
	require.Equal(t, 800, batch.QuotaRemaining)
}

func TestFetchAnswersEmptyInput(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{}
	client := newTestClient(t, getter, Config{})
	batch, err := client.FetchAnswers(context.Background(), nil, 3)
	require.NoError(t, err)
	require.Empty(t, batch.Groups)
	require.Empty(t, getter.urls)
}

func TestClientAgainstHTTPServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/2.3/questions":
			assert.Equal(t, "nlp", r.URL.Query().Get("tagged"))
			_, _ = w.Write([]byte(`{"items":[{"question_id":1,"tags":["nlp"]}],"quota_remaining":300}`))
		case strings.HasSuffix(r.URL.Path, "/answers"):
			_, _ = w.Write([]byte(`{"items":[{"answer_id":5,"question_id":1,"score":2,"is_accepted":true,"body":"x"}],"quota_remaining":299}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := New(
		restyfetcher.New(restyfetcher.Config{Timeout: time.Second}),
		&fakeSleeper{},
		cleaner.New(nil),
		Config{BaseURL: srv.URL + "/2.3"},
		nil,
	)
	require.NoError(t, err)

	page, err := client.FetchQuestions(context.Background(), 1, 100, true)
	require.NoError(t, err)
	require.Equal(t, "nlp", page.Questions[0].Tags)

	batch, err := client.FetchAnswers(context.Background(), []int64{1}, 3)
	require.NoError(t, err)
	require.Len(t, batch.Groups[1].Accepted, 1)
}

func TestTransportErrorCountedUnderErrorLabel(t *testing.T) {
	before := apiRequestCount(t, "questions", "error")
	beforeStatus := apiRequestCount(t, "questions", "502")

	getter := &fakeGetter{responses: []fakeResponse{{status: http.StatusBadGateway, err: errors.New("proxy hung up")}}}
	client := newTestClient(t, getter, Config{})
	_, err := client.FetchQuestions(context.Background(), 1, 100, true)
	require.ErrorContains(t, err, "proxy hung up")

	require.Equal(t, before+1, apiRequestCount(t, "questions", "error"))
	require.Equal(t, beforeStatus, apiRequestCount(t, "questions", "502"))
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &fakeSleeper{}, cleaner.New(nil), Config{}, nil)
	require.Error(t, err)
	_, err = New(&fakeGetter{}, nil, cleaner.New(nil), Config{}, nil)
	require.Error(t, err)
	_, err = New(&fakeGetter{}, &fakeSleeper{}, nil, Config{}, nil)
	require.Error(t, err)
}

func newTestClient(t *testing.T, getter qa.Getter, cfg Config) *Client {
	t.Helper()
	client, err := New(getter, &fakeSleeper{}, cleaner.New(nil), cfg, nil)
	require.NoError(t, err)
	return client
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

type fakeGetter struct {
	mu        sync.Mutex
	responses []fakeResponse
	fallback  fakeResponse
	urls      []string
}

func (g *fakeGetter) Get(_ context.Context, rawURL string) (qa.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.urls = append(g.urls, rawURL)
	resp := g.fallback
	if len(g.responses) > 0 {
		resp = g.responses[0]
		g.responses = g.responses[1:]
	}
	if resp.err != nil {
		return qa.Response{StatusCode: resp.status}, resp.err
	}
	return qa.Response{StatusCode: resp.status, Body: []byte(resp.body)}, nil
}

type fakeSleeper struct {
	calls []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func seqIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func idsPerURL(t *testing.T, urls []string) []int {
	t.Helper()
	counts := make([]int, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		segment := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/2.3/questions/"), "/answers")
		counts = append(counts, len(strings.Split(segment, ";")))
	}
	return counts
}

func answerIDs(answers []qa.Answer) []int64 {
	ids := make([]int64, len(answers))
	for i, a := range answers {
		ids[i] = a.AnswerID
	}
	return ids
}

func apiRequestCount(t *testing.T, endpoint, code string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "qacollector_api_requests_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["endpoint"] == endpoint && labels["code"] == code {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
