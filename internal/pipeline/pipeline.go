// Package pipeline runs one newsletter edition end to end: planning with
// tools, composition, delivery, then archiving and metrics.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsletter/internal/agent/core"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/compose"
	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/internal/mail"
	"github.com/mohammad-safakhou/newsletter/internal/store"
	"github.com/mohammad-safakhou/newsletter/internal/telemetry"
	"github.com/mohammad-safakhou/newsletter/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var pipelineTracer = otel.Tracer("newsletter/internal/pipeline")

// Stage names carried by StageError.
const (
	StageValidate    = "validate"
	StageOrchestrate = "orchestrate"
	StageFetch       = "fetch"
	StageCompose     = "compose"
	StageDeliver     = "deliver"
)

const archiveTimeout = 5 * time.Second

type Orchestrator interface {
	Run(ctx context.Context, request string) (core.RunResult, error)
}

type Dispatcher interface {
	Deliver(ctx context.Context, doc models.NewsletterDocument, recipient string, creds mail.Credentials) (models.DeliveryReceipt, error)
}

// Archive persists run summaries. *store.Store implements it.
type Archive interface {
	SaveRun(ctx context.Context, rec store.RunRecord) (string, error)
}

// Config is the static part of a run.
type Config struct {
	SourceURL      string
	Template       compose.TemplateConfig
	Credentials    mail.Credentials
	Timeout        time.Duration
	PushgatewayURL string
	Job            string
}

type Request struct {
	Recipient string
	Subject   string
}

// Outcome is everything a run produced, including partial results of a
// failed run.
type Outcome struct {
	RunID    string
	Stage    string
	Run      core.RunResult
	Document models.NewsletterDocument
	Receipt  models.DeliveryReceipt
	Warning  error
}

type Pipeline struct {
	orchestrator Orchestrator
	dispatcher   Dispatcher
	archive      Archive
	metrics      *telemetry.Metrics
	cfg          Config
	logger       *log.Logger
}

type Option func(*Pipeline)

func WithArchive(a Archive) Option { return func(p *Pipeline) { p.archive = a } }

func WithMetrics(m *telemetry.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(orchestrator Orchestrator, dispatcher Dispatcher, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		cfg:          cfg,
		logger:       log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one edition. Any fatal error is a *failure.StageError naming
// the stage that failed. Archiving and metrics never fail a run.
func (p *Pipeline) Run(ctx context.Context, req Request) (out Outcome, err error) {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.run")
	defer span.End()

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	recipient := strings.TrimSpace(req.Recipient)
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = compose.DefaultSubject
	}
	delivered := false

	defer func() {
		var se *failure.StageError
		if errors.As(err, &se) {
			out.Stage = se.Stage
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "sent")
		}
		span.SetAttributes(attribute.String("pipeline.outcome", outcomeLabel(out)))
		p.record(ctx, recipient, subject, &out, delivered)
	}()

	if err := mail.ValidateRecipient(recipient); err != nil {
		return out, failure.AtStage(StageValidate, err)
	}

	p.logger.Printf("run started for %s (%q)", recipient, subject)
	res, err := p.orchestrator.Run(ctx, core.BuildRequest(subject, p.cfg.SourceURL))
	out.Run = res
	if err != nil {
		return out, failure.AtStage(StageOrchestrate, err)
	}
	out.Warning = res.Warning
	if res.Warning != nil {
		p.logger.Printf("orchestrator warning: %v", res.Warning)
	}

	if err := fetchGuard(res); err != nil {
		return out, failure.AtStage(StageFetch, err)
	}

	tpl := p.cfg.Template
	tpl.Subject = subject
	doc, err := compose.Compose(res.Content, tpl)
	if err != nil {
		return out, failure.AtStage(StageCompose, err)
	}
	out.Document = doc

	delivered = true
	receipt, err := p.dispatcher.Deliver(ctx, doc, recipient, p.cfg.Credentials)
	out.Receipt = receipt
	if err != nil {
		return out, failure.AtStage(StageDeliver, err)
	}
	p.logger.Printf("delivered to %s after %d turn(s)", recipient, res.Turns)
	return out, nil
}

// fetchGuard fails the run when fetch_news was called and every call failed
// on the network. Other tool failures were already seen by the planner.
func fetchGuard(res core.RunResult) error {
	calls := res.ToolCalls(capability.FetchNewsTool)
	if len(calls) == 0 {
		return nil
	}
	var first error
	for _, c := range calls {
		if c.OK || !errors.Is(c.Err, failure.ErrNetwork) {
			return nil
		}
		if first == nil {
			first = c.Err
		}
	}
	return first
}

func outcomeLabel(out Outcome) string {
	if out.Stage != "" {
		return out.Stage
	}
	return string(models.DeliverySent)
}

// record archives the run and updates metrics. It runs detached from
// cancellation so a cancelled run is still recorded.
func (p *Pipeline) record(ctx context.Context, recipient, subject string, out *Outcome, delivered bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	p.metrics.ObserveRun(outcomeLabel(*out), out.Run.Turns)
	p.metrics.ObserveToolResults(out.Run.ToolResults)
	if delivered {
		p.metrics.ObserveDelivery(out.Receipt.Status)
	}
	if err := p.metrics.Push(ctx, p.cfg.PushgatewayURL, p.cfg.Job); err != nil {
		p.logger.Printf("metrics push failed: %v", err)
	}

	if p.archive == nil || out.Stage == StageValidate {
		return
	}
	rec := store.RunRecord{
		Recipient:      recipient,
		Subject:        subject,
		SourceURL:      p.cfg.SourceURL,
		State:          string(out.Run.State),
		Turns:          out.Run.Turns,
		Forced:         out.Run.Forced,
		Stage:          out.Stage,
		DeliveryStatus: string(out.Receipt.Status),
		DeliveryCause:  out.Receipt.Cause,
		BodyHash:       store.BodyHash(out.Document.Body),
	}
	for _, r := range out.Run.ToolResults {
		rec.ToolCalls = append(rec.ToolCalls, r.Name)
	}
	id, err := p.archive.SaveRun(ctx, rec)
	if err != nil {
		p.logger.Printf("archive run: %v", err)
		return
	}
	out.RunID = id
}
