package report

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// TimeLayout is the timestamp format of report lines.
const TimeLayout = "2006-01-02 15:04:05"

const replyIndent = "  "

// Entry is one matching message and its thread replies.
type Entry struct {
	Message slack.Message
	Replies []slack.Message
}

// Render writes entries as plain text in chronological order. Replies follow
// their parent, indented. Continuation lines of multi-line messages are
// indented one level deeper than their first line.
func (p *Pipeline) Render(ctx context.Context, entries []Entry) (string, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return tsLess(sorted[i].Message.Timestamp, sorted[j].Message.Timestamp)
	})

	var b strings.Builder
	for _, entry := range sorted {
		line, err := p.formatLine(ctx, entry.Message, "")
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteByte('\n')

		for _, reply := range entry.Replies {
			line, err := p.formatLine(ctx, reply, replyIndent)
			if err != nil {
				return "", err
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

func (p *Pipeline) formatLine(ctx context.Context, msg slack.Message, indent string) (string, error) {
	name, err := p.displayName(ctx, msg)
	if err != nil {
		return "", err
	}
	posted := ParseTimestamp(msg.Timestamp).In(p.config.Location)
	return fmt.Sprintf("%s[%s] %s: %s", indent, posted.Format(TimeLayout), name, indentText(msg.Text, indent+replyIndent)), nil
}

// indentText prefixes every line of text after the first with indent.
func indentText(text, indent string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\n", "\n"+indent)
}

// displayName prefers the profile display name, then the real name, then the
// user ID. Bot messages without a user fall back to their username or bot ID.
func (p *Pipeline) displayName(ctx context.Context, msg slack.Message) (string, error) {
	if msg.User == "" {
		switch {
		case msg.Username != "":
			return msg.Username, nil
		case msg.BotID != "":
			return msg.BotID, nil
		default:
			return "unknown", nil
		}
	}

	user, err := p.reader.UserInfo(ctx, msg.User)
	if err != nil {
		return "", err
	}
	return DisplayName(user, msg.User), nil
}

// DisplayName picks the name shown for user in a report.
func DisplayName(user *slack.User, fallback string) string {
	if user == nil {
		return fallback
	}
	switch {
	case user.Profile.DisplayName != "":
		return user.Profile.DisplayName
	case user.Profile.RealName != "":
		return user.Profile.RealName
	case user.RealName != "":
		return user.RealName
	case user.ID != "":
		return user.ID
	default:
		return fallback
	}
}

// ParseTimestamp converts a Slack ts ("1700000000.000100") to a time. An
// unparseable ts yields the zero time.
func ParseTimestamp(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}

	var nsec int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nsec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(sec, nsec)
}

func tsLess(a, b string) bool {
	ta, tb := ParseTimestamp(a), ParseTimestamp(b)
	if ta.Equal(tb) {
		return a < b
	}
	return ta.Before(tb)
}
