package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/agent/core"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/compose"
	"github.com/mohammad-safakhou/newsletter/internal/mail"
	"github.com/mohammad-safakhou/newsletter/internal/pipeline"
	"github.com/mohammad-safakhou/newsletter/internal/store"
	"github.com/mohammad-safakhou/newsletter/internal/telemetry"
	"github.com/mohammad-safakhou/newsletter/provider"
	"github.com/mohammad-safakhou/newsletter/tools/news_extract"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/cache"
	"github.com/spf13/cobra"
)

func runCMD() *cobra.Command {
	var (
		cfgPath   string
		recipient string
		subject   string
		sourceURL string
		maxTurns  int
	)

	var run = &cobra.Command{
		Use:   "run",
		Short: "Build and send one newsletter edition",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if sourceURL != "" {
				cfg.Pipeline.SourceURL = sourceURL
			}
			if maxTurns > 0 {
				cfg.Pipeline.MaxPlanningTurns = maxTurns
			}
			if err := cfg.Pipeline.Validate(); err != nil {
				return err
			}
			if subject == "" {
				subject = cfg.Pipeline.Subject
			}
			if recipient == "" {
				recipient = cfg.Pipeline.Recipient
			}
			if recipient == "" {
				recipient, err = promptRecipient(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			p, cleanup, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := p.Run(ctx, pipeline.Request{Recipient: recipient, Subject: subject})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %q to %s at %s (%d turns)\n",
				out.Receipt.Status, out.Document.Subject, out.Receipt.Recipient, out.Receipt.Timestamp.Format(time.RFC3339), out.Run.Turns)
			if out.Warning != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %v\n", out.Warning)
			}
			return nil
		},
	}
	run.Flags().StringVar(&recipient, "recipient", "", "recipient email address (prompted when empty)")
	run.Flags().StringVar(&subject, "subject", "", "newsletter subject")
	run.Flags().StringVar(&sourceURL, "source-url", "", "news index page to extract articles from")
	run.Flags().IntVar(&maxTurns, "max-turns", 0, "maximum planning turns (0 = config value)")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}

func promptRecipient(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter the recipient's email address: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read recipient: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// buildPipeline wires every component from cfg. The returned cleanup closes
// the cache and archive connections.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, func(), error) {
	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	logger := newLogger("[PIPELINE] ")

	fetcher, err := web_fetch.NewWebFetcher(cfg.Fetch)
	if err != nil {
		return nil, cleanup, err
	}
	if cfg.Storage.Redis.Enabled {
		rs := cache.NewRedisStore(cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
		if err := rs.Ping(ctx); err != nil {
			logger.Printf("redis unavailable, fetching without cache: %v", err)
			_ = rs.Close()
		} else {
			closers = append(closers, rs.Close)
			fetcher = cache.NewFetcher(fetcher, rs, cfg.Fetch.CacheTTL, newLogger("[FETCH-CACHE] "))
		}
	}

	engine, err := news_extract.NewEngine(news_extract.Selectors{
		Container:   cfg.Extraction.Container,
		Title:       cfg.Extraction.Title,
		Date:        cfg.Extraction.Date,
		Description: cfg.Extraction.Description,
		Link:        cfg.Extraction.Link,
		Image:       cfg.Extraction.Image,
	}, newLogger("[EXTRACT] "))
	if err != nil {
		return nil, cleanup, err
	}

	headers := map[string]string{"User-Agent": cfg.Fetch.UserAgent}
	for k, v := range cfg.Fetch.Headers {
		headers[k] = v
	}
	metrics := telemetry.NewMetrics()
	timeout := cfg.Pipeline.Timeout()

	fetchNews := capability.NewFetchNews(fetcher, engine, capability.FetchNewsConfig{
		SourceURL:    cfg.Pipeline.SourceURL,
		Headers:      headers,
		Timeout:      timeout,
		ArtifactPath: cfg.Pipeline.ArtifactPath,
	}, metrics, newLogger("[FETCH_NEWS] "))
	readArticle := capability.NewReadArticle(fetcher, headers, timeout, cfg.Fetch.MaxChars)
	registry, err := capability.NewRegistry([]capability.Tool{fetchNews, readArticle}, []string{capability.FetchNewsTool})
	if err != nil {
		return nil, cleanup, err
	}

	planner, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, cleanup, err
	}
	orch := core.NewOrchestrator(planner, registry, core.Options{
		MaxTurns:     cfg.Pipeline.MaxPlanningTurns,
		ModelTimeout: cfg.LLM.Timeout,
	}, newLogger("[ORCHESTRATOR] "))

	dispatcher := mail.NewDispatcher(mail.NewSMTPTransport(cfg.Mail.Host, cfg.Mail.Port, timeout), newLogger("[MAIL] "))

	opts := []pipeline.Option{pipeline.WithMetrics(metrics), pipeline.WithLogger(logger)}
	if cfg.Storage.Postgres.Enabled {
		st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			logger.Printf("postgres unavailable, run will not be archived: %v", err)
		} else {
			closers = append(closers, st.Close)
			opts = append(opts, pipeline.WithArchive(st))
		}
	}

	pcfg := pipeline.Config{
		SourceURL: cfg.Pipeline.SourceURL,
		Template: compose.TemplateConfig{
			Heading:         cfg.Template.Heading,
			ClosingNote:     cfg.Template.ClosingNote,
			Style:           cfg.Template.Style,
			TextColor:       cfg.Template.TextColor,
			BackgroundColor: cfg.Template.BackgroundColor,
			AccentColor:     cfg.Template.AccentColor,
		},
		Credentials: mail.Credentials{
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		},
		// every planning turn may use the full per-request timeout, plus
		// one for the fetch and one for delivery
		Timeout: timeout * time.Duration(cfg.Pipeline.MaxPlanningTurns+2),
	}
	if cfg.Telemetry.Enabled {
		pcfg.PushgatewayURL = cfg.Telemetry.PushgatewayURL
		pcfg.Job = cfg.Telemetry.Job
	}
	return pipeline.New(orch, dispatcher, pcfg, opts...), cleanup, nil
}
