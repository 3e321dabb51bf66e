// Package report searches a Slack channel for keyword matches, renders them
// with their threads into a text report, stores it and announces it.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

var (
	reportMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_report_messages_total",
		Help: "Total messages written to reports by kind",
	}, []string{"kind"}) // "match", "reply"

	reportRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_report_runs_total",
		Help: "Total report runs by outcome",
	}, []string{"outcome"}) // "stored", "empty", "error"
)

// Reader is the part of the workspace reader the pipeline uses.
type Reader interface {
	ResolveChannel(ctx context.Context, nameOrID string) (slack.Channel, error)
	History(ctx context.Context, channelID string, oldest time.Time) ([]slack.Message, error)
	ThreadReplies(ctx context.Context, channelID string, parent slack.Message) ([]slack.Message, error)
	UserInfo(ctx context.Context, userID string) (*slack.User, error)
	PostMessage(ctx context.Context, channelID, text, threadTS string) (slack.Message, error)
}

// Store persists a rendered report and returns its public URL.
type Store interface {
	Store(ctx context.Context, bucket, prefix, contents string) (string, error)
}

// Config holds the pipeline configuration.
type Config struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Location is used for report timestamps. Defaults to time.Local.
	Location *time.Location
}

// Options describe one report run.
type Options struct {
	SourceChannel string
	ReportChannel string
	Keywords      []string
	Window        time.Duration
	Bucket        string
	Prefix        string
}

// Validate checks the options before any call is made.
func (o Options) Validate() error {
	if o.SourceChannel == "" {
		return fmt.Errorf("source channel is required")
	}
	if o.ReportChannel == "" {
		return fmt.Errorf("report channel is required")
	}
	if len(o.Keywords) == 0 {
		return fmt.Errorf("at least one keyword is required")
	}
	if o.Window <= 0 {
		return fmt.Errorf("window must be > 0 (got %s)", o.Window)
	}
	if o.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	return nil
}

// Result summarises a run. The zero Result means nothing matched.
type Result struct {
	Messages int
	Replies  int
	URL      string
	Posted   slack.Message
}

// Empty reports whether the run found no matches.
func (r Result) Empty() bool {
	return r.Messages == 0
}

// Pipeline runs keyword reports.
type Pipeline struct {
	reader Reader
	store  Store
	config Config
	logger zerolog.Logger
}

// New creates a pipeline.
func New(reader Reader, store Store, cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Pipeline{
		reader: reader,
		store:  store,
		config: cfg,
		logger: log.With().Str("component", "report").Logger(),
	}
}

// Search returns the messages of channel (a name, "#name" or ID) posted
// within window that contain any keyword, oldest first.
func (p *Pipeline) Search(ctx context.Context, channelName string, keywords []string, window time.Duration) (slack.Channel, []slack.Message, error) {
	channel, err := p.reader.ResolveChannel(ctx, channelName)
	if err != nil {
		return slack.Channel{}, nil, err
	}

	oldest := p.config.Now().Add(-window)
	messages, err := p.reader.History(ctx, channel.ID, oldest)
	if err != nil {
		return slack.Channel{}, nil, err
	}

	var matches []slack.Message
	for _, msg := range messages {
		if ContainsAny(msg.Text, keywords) {
			matches = append(matches, msg)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return tsLess(matches[i].Timestamp, matches[j].Timestamp)
	})

	p.logger.Info().
		Str("channel", channelName).
		Int("scanned", len(messages)).
		Int("matches", len(matches)).
		Msg("Channel searched")

	return channel, matches, nil
}

// Run executes one report: search, collect threads, render, store and post.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Result, error) {
	result, err := p.run(ctx, opts)
	switch {
	case err != nil:
		reportRunsTotal.WithLabelValues("error").Inc()
	case result.Empty():
		reportRunsTotal.WithLabelValues("empty").Inc()
	default:
		reportRunsTotal.WithLabelValues("stored").Inc()
	}
	return result, err
}

func (p *Pipeline) run(ctx context.Context, opts Options) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}

	source, matches, err := p.Search(ctx, opts.SourceChannel, opts.Keywords, opts.Window)
	if err != nil {
		return Result{}, err
	}
	if len(matches) == 0 {
		p.logger.Info().Str("channel", opts.SourceChannel).Msg("No matching messages")
		return Result{}, nil
	}

	target := source
	if opts.ReportChannel != opts.SourceChannel {
		target, err = p.reader.ResolveChannel(ctx, opts.ReportChannel)
		if err != nil {
			return Result{}, err
		}
	}

	entries := make([]Entry, 0, len(matches))
	replyCount := 0
	for _, msg := range matches {
		entry := Entry{Message: msg}
		if msg.ReplyCount > 0 {
			thread, err := p.reader.ThreadReplies(ctx, source.ID, msg)
			if err != nil {
				return Result{}, err
			}
			for _, reply := range thread {
				if reply.Timestamp == msg.Timestamp {
					continue
				}
				entry.Replies = append(entry.Replies, reply)
			}
			replyCount += len(entry.Replies)
		}
		entries = append(entries, entry)
	}

	contents, err := p.Render(ctx, entries)
	if err != nil {
		return Result{}, err
	}

	url, err := p.store.Store(ctx, opts.Bucket, opts.Prefix, contents)
	if err != nil {
		return Result{}, fmt.Errorf("store report: %w", err)
	}

	text := Announcement(len(matches), replyCount, opts.Keywords, announcedName(source, opts.SourceChannel), url)
	posted, err := p.reader.PostMessage(ctx, target.ID, text, "")
	if err != nil {
		return Result{}, err
	}

	reportMessagesTotal.WithLabelValues("match").Add(float64(len(matches)))
	reportMessagesTotal.WithLabelValues("reply").Add(float64(replyCount))

	p.logger.Info().
		Str("channel", opts.SourceChannel).
		Int("messages", len(matches)).
		Int("replies", replyCount).
		Str("url", url).
		Msg("Report stored and announced")

	return Result{
		Messages: len(matches),
		Replies:  replyCount,
		URL:      url,
		Posted:   posted,
	}, nil
}

// announcedName is the name shown for channel, falling back to what the caller
// passed when the channel was given by ID.
func announcedName(channel slack.Channel, given string) string {
	if channel.Name != "" {
		return channel.Name
	}
	return strings.TrimPrefix(given, "#")
}

// ContainsAny reports whether text contains any keyword. Matching is
// case-sensitive; empty keywords never match.
func ContainsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Announcement is the text posted to the report channel.
func Announcement(messages, replies int, keywords []string, source, url string) string {
	return fmt.Sprintf("Saved %d messages (%d thread replies) matching [%s] from #%s: %s",
		messages, replies, strings.Join(keywords, ", "), source, url)
}
