// Package workspace reads channels, messages, threads and users from one Slack
// workspace and posts messages back to it.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/slack-report/pkg/cache"
	"github.com/Sternrassler/slack-report/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// Slack methods used by the reader.
const (
	EndpointConversationsList    = "conversations.list"
	EndpointConversationsHistory = "conversations.history"
	EndpointConversationsReplies = "conversations.replies"
	EndpointChatPostMessage      = "chat.postMessage"
	EndpointUsersInfo            = "users.info"
)

const (
	pageLimit    = "1000"
	channelTypes = "public_channel,private_channel"
)

var (
	// ErrChannelNotFound is returned when no channel has the requested name.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrMissingToken is returned by NewReader for an empty token.
	ErrMissingToken = errors.New("slack token is required")
)

// Fetcher executes Slack Web API requests. *client.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req client.Request) (client.FetchResult, error)
	Call(ctx context.Context, req client.Request) (*client.Page, error)
}

// Reader is the channel and message reader of one workspace.
type Reader struct {
	fetcher Fetcher
	token   string
	users   *cache.Manager
	logger  zerolog.Logger
}

// NewReader creates a reader. users may be nil, in which case user lookups
// are memoised in process only.
func NewReader(fetcher Fetcher, token string, users *cache.Manager) (*Reader, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	if users == nil {
		users = cache.NewManager(nil, 0)
	}

	return &Reader{
		fetcher: fetcher,
		token:   token,
		users:   users,
		logger:  log.With().Str("component", "workspace").Logger(),
	}, nil
}

// ListChannels returns every public and private channel visible to the token.
func (r *Reader) ListChannels(ctx context.Context) ([]slack.Channel, error) {
	result, err := r.fetcher.Fetch(ctx, client.NewRequest(EndpointConversationsList, r.token, map[string]string{
		"types": channelTypes,
		"limit": pageLimit,
	}))
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	channels, err := client.DecodeItems[slack.Channel](result, "channels")
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	r.logger.Debug().Int("channels", len(channels)).Msg("Channels listed")
	return channels, nil
}

// FindChannel returns the first channel whose name equals name exactly.
func (r *Reader) FindChannel(ctx context.Context, name string) (slack.Channel, error) {
	channels, err := r.ListChannels(ctx)
	if err != nil {
		return slack.Channel{}, err
	}

	for _, channel := range channels {
		if channel.Name == name {
			return channel, nil
		}
	}
	return slack.Channel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
}

// ResolveChannel accepts a channel ID (C… or G…) or a channel name. IDs are
// returned without a lookup.
func (r *Reader) ResolveChannel(ctx context.Context, nameOrID string) (slack.Channel, error) {
	if isChannelID(nameOrID) {
		var channel slack.Channel
		channel.ID = nameOrID
		return channel, nil
	}
	return r.FindChannel(ctx, strings.TrimPrefix(nameOrID, "#"))
}

// History returns the messages of a channel posted after oldest, in the order
// Slack returns them (newest first). A zero oldest reads the full history.
func (r *Reader) History(ctx context.Context, channelID string, oldest time.Time) ([]slack.Message, error) {
	params := map[string]string{
		"channel": channelID,
		"limit":   pageLimit,
	}
	if !oldest.IsZero() {
		params["oldest"] = strconv.FormatInt(oldest.Unix(), 10)
	}

	result, err := r.fetcher.Fetch(ctx, client.NewRequest(EndpointConversationsHistory, r.token, params))
	if err != nil {
		return nil, fmt.Errorf("channel history %s: %w", channelID, err)
	}

	messages, err := client.DecodeItems[slack.Message](result, "messages")
	if err != nil {
		return nil, fmt.Errorf("channel history %s: %w", channelID, err)
	}

	r.logger.Debug().
		Str("channel", channelID).
		Int("pages", len(result)).
		Int("messages", len(messages)).
		Msg("History fetched")
	return messages, nil
}

// ThreadReplies returns the thread started by parent. Slack includes the
// parent itself as the first element.
func (r *Reader) ThreadReplies(ctx context.Context, channelID string, parent slack.Message) ([]slack.Message, error) {
	if parent.Timestamp == "" {
		return nil, fmt.Errorf("thread replies %s: parent message has no ts", channelID)
	}

	result, err := r.fetcher.Fetch(ctx, client.NewRequest(EndpointConversationsReplies, r.token, map[string]string{
		"channel": channelID,
		"ts":      parent.Timestamp,
	}))
	if err != nil {
		return nil, fmt.Errorf("thread replies %s/%s: %w", channelID, parent.Timestamp, err)
	}

	return client.DecodeItems[slack.Message](result, "messages")
}

// UserInfo returns a user by ID. Results are cached.
func (r *Reader) UserInfo(ctx context.Context, userID string) (*slack.User, error) {
	key := cache.CacheKey{
		Endpoint: EndpointUsersInfo,
		Params:   map[string]string{"user": userID},
	}

	data, err := r.users.GetOrLoad(ctx, key, func(ctx context.Context) ([]byte, error) {
		page, err := r.fetcher.Call(ctx, client.NewRequest(EndpointUsersInfo, r.token, map[string]string{
			"user": userID,
		}))
		if err != nil {
			return nil, err
		}
		items := page.Items("user")
		if len(items) == 0 {
			return nil, fmt.Errorf("response has no user object")
		}
		return items[0], nil
	})
	if err != nil {
		return nil, fmt.Errorf("user info %s: %w", userID, err)
	}

	var user slack.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", userID, err)
	}
	return &user, nil
}

// PostMessage posts text to a channel and returns the posted message. A
// non-empty threadTS posts it as a reply in that thread.
func (r *Reader) PostMessage(ctx context.Context, channelID, text, threadTS string) (slack.Message, error) {
	params := map[string]string{
		"channel": channelID,
		"text":    text,
	}
	if threadTS != "" {
		params["thread_ts"] = threadTS
	}

	page, err := r.fetcher.Call(ctx, client.Request{
		Endpoint:   EndpointChatPostMessage,
		HTTPMethod: http.MethodPost,
		Params:     params,
		Token:      r.token,
	})
	if err != nil {
		return slack.Message{}, fmt.Errorf("post message to %s: %w", channelID, err)
	}

	var msg slack.Message
	if err := page.Decode("message", &msg); err != nil {
		return slack.Message{}, fmt.Errorf("post message to %s: %w", channelID, err)
	}

	r.logger.Info().Str("channel", channelID).Str("ts", msg.Timestamp).Msg("Message posted")
	return msg, nil
}

func isChannelID(s string) bool {
	if len(s) < 9 || (s[0] != 'C' && s[0] != 'G') {
		return false
	}
	for _, c := range s[1:] {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
