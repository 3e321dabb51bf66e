package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/slack-report/pkg/workspace"
	"github.com/slack-go/slack"
)

// fakeReader is an in-memory workspace.
type fakeReader struct {
	channels map[string]string // name -> id
	history  []slack.Message
	threads  map[string][]slack.Message // parent ts -> replies
	users    map[string]*slack.User

	historyErr error
	postErr    error

	oldest        time.Time
	threadCalls   []string
	posts         []post
	userInfoCalls int
}

type post struct {
	channelID string
	text      string
}

// ResolveChannel accepts a known ID, a name or "#name".
func (f *fakeReader) ResolveChannel(ctx context.Context, nameOrID string) (slack.Channel, error) {
	var ch slack.Channel
	for _, id := range f.channels {
		if id == nameOrID {
			ch.ID = id
			return ch, nil
		}
	}
	name := strings.TrimPrefix(nameOrID, "#")
	id, ok := f.channels[name]
	if !ok {
		return slack.Channel{}, fmt.Errorf("%w: %s", workspace.ErrChannelNotFound, name)
	}
	ch.ID = id
	ch.Name = name
	return ch, nil
}

func (f *fakeReader) History(ctx context.Context, channelID string, oldest time.Time) ([]slack.Message, error) {
	f.oldest = oldest
	return f.history, f.historyErr
}

func (f *fakeReader) ThreadReplies(ctx context.Context, channelID string, parent slack.Message) ([]slack.Message, error) {
	f.threadCalls = append(f.threadCalls, parent.Timestamp)
	return f.threads[parent.Timestamp], nil
}

func (f *fakeReader) UserInfo(ctx context.Context, userID string) (*slack.User, error) {
	f.userInfoCalls++
	user, ok := f.users[userID]
	if !ok {
		return nil, errors.New("user_not_found")
	}
	return user, nil
}

func (f *fakeReader) PostMessage(ctx context.Context, channelID, text, threadTS string) (slack.Message, error) {
	if f.postErr != nil {
		return slack.Message{}, f.postErr
	}
	f.posts = append(f.posts, post{channelID: channelID, text: text})
	var msg slack.Message
	msg.Timestamp = "9999999999.000000"
	msg.Text = text
	return msg, nil
}

type fakeStore struct {
	bucket, prefix, contents string
	calls                    int
	err                      error
}

func (s *fakeStore) Store(ctx context.Context, bucket, prefix, contents string) (string, error) {
	s.calls++
	s.bucket, s.prefix, s.contents = bucket, prefix, contents
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("https://%s.s3.ap-northeast-1.amazonaws.com/%s_2024-01-02-03-04-05.txt", bucket, prefix), nil
}

func msg(ts, user, text string) slack.Message {
	var m slack.Message
	m.Timestamp = ts
	m.User = user
	m.Text = text
	return m
}

func user(id, display, real string) *slack.User {
	return &slack.User{
		ID:       id,
		RealName: real,
		Profile:  slack.UserProfile{DisplayName: display, RealName: real},
	}
}

func isZero(r Result) bool {
	return r.Messages == 0 && r.Replies == 0 && r.URL == "" && r.Posted.Timestamp == ""
}

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestPipeline(reader *fakeReader, store *fakeStore) *Pipeline {
	return New(reader, store, Config{
		Now:      func() time.Time { return fixedNow },
		Location: time.UTC,
	})
}

func defaultOptions() Options {
	return Options{
		SourceChannel: "dev",
		ReportChannel: "reports",
		Keywords:      []string{"deploy", "API"},
		Window:        24 * time.Hour,
		Bucket:        "reports-bucket",
		Prefix:        "slack_messages",
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Options)
		wantErr bool
	}{
		{"valid", func(o *Options) {}, false},
		{"no source", func(o *Options) { o.SourceChannel = "" }, true},
		{"no report channel", func(o *Options) { o.ReportChannel = "" }, true},
		{"no keywords", func(o *Options) { o.Keywords = nil }, true},
		{"zero window", func(o *Options) { o.Window = 0 }, true},
		{"no bucket", func(o *Options) { o.Bucket = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			tt.modify(&opts)
			if err := opts.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestContainsAny(t *testing.T) {
	tests := []struct {
		text     string
		keywords []string
		want     bool
	}{
		{"deploying now", []string{"deploy"}, true},
		{"the api is down", []string{"API"}, false},
		{"new API key", []string{"deploy", "API"}, true},
		{"anything", []string{""}, false},
		{"anything", nil, false},
	}

	for _, tt := range tests {
		if got := ContainsAny(tt.text, tt.keywords); got != tt.want {
			t.Errorf("ContainsAny(%q, %v) = %v, want %v", tt.text, tt.keywords, got, tt.want)
		}
	}
}

func TestPipeline_Search(t *testing.T) {
	reader := &fakeReader{
		channels: map[string]string{"dev": "C01"},
		history: []slack.Message{
			msg("1704157200.000300", "U1", "API rollout done"),
			msg("1704153600.000200", "U2", "lunch?"),
			msg("1704150000.000100", "U1", "deploy started"),
		},
	}
	p := newTestPipeline(reader, &fakeStore{})

	channel, matches, err := p.Search(context.Background(), "dev", []string{"deploy", "API"}, 24*time.Hour)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if channel.ID != "C01" {
		t.Errorf("channel.ID = %q", channel.ID)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Text != "deploy started" || matches[1].Text != "API rollout done" {
		t.Errorf("matches not in chronological order: %q, %q", matches[0].Text, matches[1].Text)
	}
	if !reader.oldest.Equal(fixedNow.Add(-24 * time.Hour)) {
		t.Errorf("oldest = %v, want now-24h", reader.oldest)
	}
}

func TestPipeline_Search_ChannelNotFound(t *testing.T) {
	p := newTestPipeline(&fakeReader{channels: map[string]string{}}, &fakeStore{})

	_, _, err := p.Search(context.Background(), "nope", []string{"x"}, time.Hour)
	if !errors.Is(err, workspace.ErrChannelNotFound) {
		t.Errorf("Search() error = %v, want ErrChannelNotFound", err)
	}
}

func TestPipeline_Run_NoMatches(t *testing.T) {
	reader := &fakeReader{
		channels: map[string]string{"dev": "C01", "reports": "C02"},
		history:  []slack.Message{msg("1704150000.000100", "U1", "nothing here")},
	}
	store := &fakeStore{}
	p := newTestPipeline(reader, store)

	result, err := p.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Empty() || !isZero(result) {
		t.Errorf("Result = %+v, want zero", result)
	}
	if store.calls != 0 {
		t.Errorf("store calls = %d, want 0", store.calls)
	}
	if len(reader.posts) != 0 {
		t.Errorf("posts = %d, want 0", len(reader.posts))
	}
}

func TestPipeline_Run(t *testing.T) {
	parent := msg("1704150000.000100", "U1", "deploy started")
	parent.ReplyCount = 2

	reader := &fakeReader{
		channels: map[string]string{"dev": "C01", "reports": "C02"},
		history: []slack.Message{
			msg("1704157200.000300", "U2", "API rollout done"),
			msg("1704153600.000200", "U2", "lunch?"),
			parent,
		},
		threads: map[string][]slack.Message{
			"1704150000.000100": {
				parent,
				msg("1704150060.000100", "U2", "looks good"),
				msg("1704150120.000100", "U3", "rolled back"),
			},
		},
		users: map[string]*slack.User{
			"U1": user("U1", "alice", "Alice Liddell"),
			"U2": user("U2", "", "Bob Builder"),
			"U3": user("U3", "", ""),
		},
	}
	store := &fakeStore{}
	p := newTestPipeline(reader, store)

	result, err := p.Run(context.Background(), defaultOptions())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Messages != 2 || result.Replies != 2 {
		t.Errorf("Result = %+v, want 2 messages and 2 replies", result)
	}
	if len(reader.threadCalls) != 1 || reader.threadCalls[0] != "1704150000.000100" {
		t.Errorf("thread calls = %v, want parent ts only", reader.threadCalls)
	}

	wantContents := strings.Join([]string{
		"[2024-01-01 23:00:00] alice: deploy started",
		"  [2024-01-01 23:01:00] Bob Builder: looks good",
		"  [2024-01-01 23:02:00] U3: rolled back",
		"[2024-01-02 01:00:00] Bob Builder: API rollout done",
		"",
	}, "\n")
	if store.contents != wantContents {
		t.Errorf("contents =\n%s\nwant\n%s", store.contents, wantContents)
	}
	if store.bucket != "reports-bucket" || store.prefix != "slack_messages" {
		t.Errorf("store target = %s/%s", store.bucket, store.prefix)
	}

	if len(reader.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(reader.posts))
	}
	wantText := "Saved 2 messages (2 thread replies) matching [deploy, API] from #dev: " + result.URL
	if reader.posts[0].channelID != "C02" || reader.posts[0].text != wantText {
		t.Errorf("post = %+v, want %q to C02", reader.posts[0], wantText)
	}

	if reader.userInfoCalls == 0 {
		t.Error("user names were not looked up")
	}
}

func TestPipeline_Run_ReportToSourceChannel(t *testing.T) {
	reader := &fakeReader{
		channels: map[string]string{"dev": "C01"},
		history:  []slack.Message{msg("1704150000.000100", "U1", "deploy")},
		users:    map[string]*slack.User{"U1": user("U1", "alice", "")},
	}
	p := newTestPipeline(reader, &fakeStore{})

	opts := defaultOptions()
	opts.ReportChannel = "dev"
	if _, err := p.Run(context.Background(), opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(reader.posts) != 1 || reader.posts[0].channelID != "C01" {
		t.Errorf("posts = %+v, want one to C01", reader.posts)
	}
}

func TestPipeline_Run_Errors(t *testing.T) {
	historyErr := errors.New("history failed")
	storeErr := errors.New("upload failed")
	postErr := errors.New("post failed")

	tests := []struct {
		name    string
		reader  *fakeReader
		store   *fakeStore
		wantErr error
	}{
		{
			name: "history error",
			reader: &fakeReader{
				channels:   map[string]string{"dev": "C01", "reports": "C02"},
				historyErr: historyErr,
			},
			store:   &fakeStore{},
			wantErr: historyErr,
		},
		{
			name: "store error",
			reader: &fakeReader{
				channels: map[string]string{"dev": "C01", "reports": "C02"},
				history:  []slack.Message{msg("1704150000.000100", "U1", "deploy")},
				users:    map[string]*slack.User{"U1": user("U1", "alice", "")},
			},
			store:   &fakeStore{err: storeErr},
			wantErr: storeErr,
		},
		{
			name: "post error",
			reader: &fakeReader{
				channels: map[string]string{"dev": "C01", "reports": "C02"},
				history:  []slack.Message{msg("1704150000.000100", "U1", "deploy")},
				users:    map[string]*slack.User{"U1": user("U1", "alice", "")},
				postErr:  postErr,
			},
			store:   &fakeStore{},
			wantErr: postErr,
		},
		{
			name: "report channel missing",
			reader: &fakeReader{
				channels: map[string]string{"dev": "C01"},
				history:  []slack.Message{msg("1704150000.000100", "U1", "deploy")},
				users:    map[string]*slack.User{"U1": user("U1", "alice", "")},
			},
			store:   &fakeStore{},
			wantErr: workspace.ErrChannelNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(tt.reader, tt.store)
			result, err := p.Run(context.Background(), defaultOptions())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if !isZero(result) {
				t.Errorf("Result = %+v, want zero on error", result)
			}
		})
	}
}

func TestPipeline_Run_ReportChannelMissingStoresNothing(t *testing.T) {
	parent := msg("1704150000.000100", "U1", "deploy")
	parent.ReplyCount = 1
	reader := &fakeReader{
		channels: map[string]string{"dev": "C01"},
		history:  []slack.Message{parent},
		users:    map[string]*slack.User{"U1": user("U1", "alice", "")},
	}
	store := &fakeStore{}
	p := newTestPipeline(reader, store)

	_, err := p.Run(context.Background(), defaultOptions())
	if !errors.Is(err, workspace.ErrChannelNotFound) {
		t.Fatalf("Run() error = %v, want ErrChannelNotFound", err)
	}
	if store.calls != 0 {
		t.Errorf("store calls = %d, want 0 when the report channel is unknown", store.calls)
	}
	if len(reader.threadCalls) != 0 || reader.userInfoCalls != 0 {
		t.Errorf("thread calls = %d, user lookups = %d, want none", len(reader.threadCalls), reader.userInfoCalls)
	}
	if len(reader.posts) != 0 {
		t.Errorf("posts = %d, want 0", len(reader.posts))
	}
}

func TestPipeline_Run_ChannelReferences(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		report     string
		wantPostTo string
		wantFrom   string
	}{
		{"names", "dev", "reports", "C02", "#dev"},
		{"hash prefixed names", "#dev", "#reports", "C02", "#dev"},
		{"report channel by id", "dev", "C02", "C02", "#dev"},
		{"source channel by id", "C01", "reports", "C02", "#C01"},
		{"same channel", "#dev", "#dev", "C01", "#dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{
				channels: map[string]string{"dev": "C01", "reports": "C02"},
				history:  []slack.Message{msg("1704150000.000100", "U1", "deploy")},
				users:    map[string]*slack.User{"U1": user("U1", "alice", "")},
			}
			p := newTestPipeline(reader, &fakeStore{})

			opts := defaultOptions()
			opts.SourceChannel = tt.source
			opts.ReportChannel = tt.report
			if _, err := p.Run(context.Background(), opts); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if len(reader.posts) != 1 {
				t.Fatalf("posts = %d, want 1", len(reader.posts))
			}
			if reader.posts[0].channelID != tt.wantPostTo {
				t.Errorf("posted to %s, want %s", reader.posts[0].channelID, tt.wantPostTo)
			}
			if !strings.Contains(reader.posts[0].text, "from "+tt.wantFrom+":") {
				t.Errorf("post text = %q, want source %s", reader.posts[0].text, tt.wantFrom)
			}
		})
	}
}
