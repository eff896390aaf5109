package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsletter/internal/agent/core"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/compose"
	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/internal/mail"
	"github.com/mohammad-safakhou/newsletter/internal/store"
	"github.com/mohammad-safakhou/newsletter/internal/telemetry"
	"github.com/mohammad-safakhou/newsletter/models"
	"github.com/mohammad-safakhou/newsletter/tools/news_extract"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/httpfetch"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tidwall/gjson"
)

const recipient = "reader@example.com"

func indexWith(titles ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for i, title := range titles {
		fmt.Fprintf(&b, `<li class="story"><a class="link" href="/story/%d"><h2>%s</h2></a><time>2024-05-0%d</time><p>Summary %d</p></li>`, i+1, title, i+1, i+1)
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

// headlinePlanner asks for fetch_news once, then writes a bullet list of the
// titles it got back. With no titles it answers with empty content.
type headlinePlanner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *headlinePlanner) Plan(ctx context.Context, conv []models.Message, tools []models.ToolSpec) (models.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return models.Message{}, p.err
	}
	last := conv[len(conv)-1]
	if last.Role != models.RoleTool {
		return models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCallRequest{
			{ID: "call-1", Name: capability.FetchNewsTool, Arguments: []byte(`{"format":"json"}`)},
		}}, nil
	}
	if gjson.Get(last.Content, "error").Exists() {
		return models.Message{Role: models.RoleAssistant, Content: "The news source could not be reached."}, nil
	}
	titles := gjson.Get(last.Content, "records.#.title").Array()
	if len(titles) == 0 {
		return models.Message{Role: models.RoleAssistant}, nil
	}
	var b strings.Builder
	b.WriteString("## Highlights\n\n")
	for _, t := range titles {
		fmt.Fprintf(&b, "- %s\n", t.String())
	}
	return models.Message{Role: models.RoleAssistant, Content: b.String()}, nil
}

type fakeSession struct {
	authErr error
	sent    [][]byte
	closed  int
}

func (s *fakeSession) Auth(username, password string) error { return s.authErr }

func (s *fakeSession) Send(from, to string, msg []byte) error {
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeTransport struct {
	session *fakeSession
	opens   int
}

func (t *fakeTransport) Open(ctx context.Context) (mail.Session, error) {
	t.opens++
	return t.session, nil
}

type recordingArchive struct {
	runs []store.RunRecord
	err  error
}

func (a *recordingArchive) SaveRun(ctx context.Context, rec store.RunRecord) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.runs = append(a.runs, rec)
	return "run-1", nil
}

type harness struct {
	pipeline  *Pipeline
	planner   *headlinePlanner
	transport *fakeTransport
	archive   *recordingArchive
	metrics   *telemetry.Metrics
}

func newHarness(t *testing.T, handler http.HandlerFunc) *harness {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	engine, err := news_extract.NewEngine(news_extract.Selectors{
		Container: "li.story", Title: "h2", Date: "time", Description: "p", Link: "a.link", Image: "img",
	}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	metrics := telemetry.NewMetrics()
	fetchNews := capability.NewFetchNews(httpfetch.New(httpfetch.WithClient(srv.Client())), engine, capability.FetchNewsConfig{
		SourceURL: srv.URL + "/health-news",
		Timeout:   5 * time.Second,
	}, metrics, nil)
	registry, err := capability.NewRegistry([]capability.Tool{fetchNews}, []string{capability.FetchNewsTool})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	planner := &headlinePlanner{}
	orch := core.NewOrchestrator(planner, registry, core.Options{MaxTurns: 4, ModelTimeout: time.Second}, nil)
	transport := &fakeTransport{session: &fakeSession{}}
	archive := &recordingArchive{}

	p := New(orch, mail.NewDispatcher(transport, nil), Config{
		SourceURL:   srv.URL + "/health-news",
		Credentials: mail.Credentials{Username: "sender@example.com", Password: "secret"},
		Timeout:     10 * time.Second,
	}, WithArchive(archive), WithMetrics(metrics))

	return &harness{pipeline: p, planner: planner, transport: transport, archive: archive, metrics: metrics}
}

func servePage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func TestRunDeliversNewsletterBuiltFromExtractedArticles(t *testing.T) {
	titles := []string{"Sleep and memory", "Walking after meals", "Hydration myths"}
	h := newHarness(t, servePage(indexWith(titles...)))

	out, err := h.pipeline.Run(context.Background(), Request{Recipient: recipient, Subject: "Morning health"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Receipt.Status != models.DeliverySent || out.Receipt.Recipient != recipient {
		t.Fatalf("unexpected receipt %+v", out.Receipt)
	}
	if out.Run.State != core.StateDone || out.Run.Turns != 2 {
		t.Fatalf("unexpected run result state=%s turns=%d", out.Run.State, out.Run.Turns)
	}
	if len(out.Run.ToolResults) != 1 || !out.Run.ToolResults[0].OK {
		t.Fatalf("expected one successful fetch_news call, got %+v", out.Run.ToolResults)
	}
	payload := out.Run.ToolResults[0].Payload
	if n := gjson.Get(payload, "records.#").Int(); n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
	for _, sentinel := range []string{models.NoTitle, models.NoDate, models.NoDescription, models.NoLink} {
		if strings.Contains(payload, sentinel) {
			t.Fatalf("expected full records, found %q in %s", sentinel, payload)
		}
	}
	for _, title := range titles {
		if !strings.Contains(out.Document.Body, title) {
			t.Fatalf("document missing %q:\n%s", title, out.Document.Body)
		}
	}
	if out.Document.Subject != "Morning health" {
		t.Fatalf("unexpected subject %q", out.Document.Subject)
	}
	if h.transport.opens != 1 || len(h.transport.session.sent) != 1 || h.transport.session.closed != 1 {
		t.Fatalf("expected one open/send/close, got %d/%d/%d", h.transport.opens, len(h.transport.session.sent), h.transport.session.closed)
	}
	if out.RunID != "run-1" || len(h.archive.runs) != 1 {
		t.Fatalf("expected archived run, got id=%q runs=%d", out.RunID, len(h.archive.runs))
	}
	rec := h.archive.runs[0]
	if rec.Stage != "" || rec.DeliveryStatus != "sent" || rec.BodyHash == "" || len(rec.ToolCalls) != 1 {
		t.Fatalf("unexpected archive record %+v", rec)
	}

	want := `
# HELP newsletter_articles_extracted_total Article records produced by extraction.
# TYPE newsletter_articles_extracted_total counter
newsletter_articles_extracted_total 3
`
	if err := testutil.GatherAndCompare(h.metrics.Gatherer(), strings.NewReader(want), "newsletter_articles_extracted_total"); err != nil {
		t.Fatalf("unexpected extraction metric: %v", err)
	}
}

func TestRunWithNoArticlesSendsMinimalDocument(t *testing.T) {
	h := newHarness(t, servePage(indexWith()))

	out, err := h.pipeline.Run(context.Background(), Request{Recipient: recipient})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.Document.Body, compose.EmptyNotice) {
		t.Fatalf("expected empty notice in body:\n%s", out.Document.Body)
	}
	if out.Document.Subject != compose.DefaultSubject {
		t.Fatalf("expected default subject, got %q", out.Document.Subject)
	}
	if out.Receipt.Status != models.DeliverySent {
		t.Fatalf("expected sent receipt, got %+v", out.Receipt)
	}
}

func TestRunRejectsInvalidRecipientBeforeAnyWork(t *testing.T) {
	h := newHarness(t, servePage(indexWith("unused")))

	out, err := h.pipeline.Run(context.Background(), Request{Recipient: "userexample.com"})
	var se *failure.StageError
	if !errors.As(err, &se) || se.Stage != StageValidate {
		t.Fatalf("expected validate stage error, got %v", err)
	}
	if !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if out.Stage != StageValidate {
		t.Fatalf("expected outcome stage validate, got %q", out.Stage)
	}
	if h.planner.calls != 0 || h.transport.opens != 0 {
		t.Fatalf("expected no planner or transport calls, got %d/%d", h.planner.calls, h.transport.opens)
	}
	if len(h.archive.runs) != 0 {
		t.Fatalf("invalid requests are not archived")
	}
}

func TestRunAbortsWhenEveryFetchFails(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	out, err := h.pipeline.Run(context.Background(), Request{Recipient: recipient})
	var se *failure.StageError
	if !errors.As(err, &se) || se.Stage != StageFetch {
		t.Fatalf("expected fetch stage error, got %v", err)
	}
	var ne *failure.NetworkError
	if !errors.As(err, &ne) || ne.Status != http.StatusForbidden {
		t.Fatalf("expected 403 network error, got %v", err)
	}
	if h.transport.opens != 0 {
		t.Fatalf("transport must not be opened after a failed fetch")
	}
	if len(h.archive.runs) != 1 || h.archive.runs[0].Stage != StageFetch {
		t.Fatalf("expected failed run archived with stage fetch, got %+v", h.archive.runs)
	}
	if out.Run.State != core.StateDone {
		t.Fatalf("orchestrator should have finished, got %s", out.Run.State)
	}
}

func TestRunReportsPlannerFailureAtOrchestrateStage(t *testing.T) {
	h := newHarness(t, servePage(indexWith("a")))
	h.planner.err = &failure.ModelError{Status: http.StatusTooManyRequests, Quota: true}

	_, err := h.pipeline.Run(context.Background(), Request{Recipient: recipient})
	var se *failure.StageError
	if !errors.As(err, &se) || se.Stage != StageOrchestrate {
		t.Fatalf("expected orchestrate stage error, got %v", err)
	}
	if !errors.Is(err, failure.ErrModel) {
		t.Fatalf("expected model error, got %v", err)
	}
	if h.transport.opens != 0 {
		t.Fatalf("transport must not be opened")
	}
}

func TestRunReportsAuthFailureAtDeliverStage(t *testing.T) {
	h := newHarness(t, servePage(indexWith("a", "b")))
	h.transport.session.authErr = &failure.AuthError{Cause: errors.New("535 bad credentials")}

	out, err := h.pipeline.Run(context.Background(), Request{Recipient: recipient})
	var se *failure.StageError
	if !errors.As(err, &se) || se.Stage != StageDeliver {
		t.Fatalf("expected deliver stage error, got %v", err)
	}
	if !errors.Is(err, failure.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if out.Receipt.Status != models.DeliveryFailed || out.Receipt.Cause == "" {
		t.Fatalf("unexpected receipt %+v", out.Receipt)
	}
	if h.transport.session.closed != 1 {
		t.Fatalf("expected session closed once, got %d", h.transport.session.closed)
	}
	if len(h.archive.runs) != 1 || h.archive.runs[0].DeliveryStatus != "failed" {
		t.Fatalf("expected failed delivery archived, got %+v", h.archive.runs)
	}
}

func TestRunIgnoresArchiveFailure(t *testing.T) {
	h := newHarness(t, servePage(indexWith("a")))
	h.archive.err = errors.New("db down")

	out, err := h.pipeline.Run(context.Background(), Request{Recipient: recipient})
	if err != nil {
		t.Fatalf("archive failure must not fail the run: %v", err)
	}
	if out.RunID != "" {
		t.Fatalf("expected no run id, got %q", out.RunID)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	h := newHarness(t, servePage(indexWith("a")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.pipeline.Run(ctx, Request{Recipient: recipient})
	if !errors.Is(err, failure.ErrCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	var se *failure.StageError
	if !errors.As(err, &se) || se.Stage != StageOrchestrate {
		t.Fatalf("expected orchestrate stage, got %v", err)
	}
	if h.planner.calls != 0 {
		t.Fatalf("planner should not be called")
	}
}

func TestFetchGuard(t *testing.T) {
	netErr := &failure.ToolError{Tool: capability.FetchNewsTool, Cause: &failure.NetworkError{Status: 500}}
	valErr := &failure.ToolError{Tool: capability.FetchNewsTool, Cause: failure.NewValidationError("url", "bad")}

	cases := []struct {
		name    string
		results []models.ToolCallResult
		wantErr bool
	}{
		{"no fetch calls", []models.ToolCallResult{{Name: capability.ReadArticleTool, Err: netErr}}, false},
		{"one success", []models.ToolCallResult{{Name: capability.FetchNewsTool, Err: netErr}, {Name: capability.FetchNewsTool, OK: true}}, false},
		{"all network failures", []models.ToolCallResult{{Name: capability.FetchNewsTool, Err: netErr}, {Name: capability.FetchNewsTool, Err: netErr}}, true},
		{"non network failure", []models.ToolCallResult{{Name: capability.FetchNewsTool, Err: valErr}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := fetchGuard(core.RunResult{ToolResults: tc.results})
			if (err != nil) != tc.wantErr {
				t.Fatalf("fetchGuard err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}
