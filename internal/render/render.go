// Package render builds the chat embed for a poll, in both its live
// (accepting votes) and final (closed) forms. Kept separate from
// internal/opening and internal/closing so both can share one rendering
// path: the closing embed reuses the same field layout the opening embed
// produced, just with final tallies and a winner marked.
package render

import (
	"fmt"
	"strings"

	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/emoji"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/timez"
)

const progressBarWidth = 12

const (
	colorScheduled = 0x868E96
	colorActive    = 0x1971C2
	colorClosed    = 0x2F9E44
)

// Live builds the embed for an open poll: question, each option with a
// progress bar and live count, open/close timing, and the creator tag.
func Live(p *poll.Poll, tally []int) chatplatform.Embed {
	total := sum(tally)
	fields := make([]chatplatform.EmbedField, 0, len(p.Options)+1)
	for i, opt := range p.Options {
		count := 0
		if i < len(tally) {
			count = tally[i]
		}
		fields = append(fields, chatplatform.EmbedField{
			Name:  fmt.Sprintf("%s %s", emoji.Resolve(optionEmoji(p, i), i), opt),
			Value: progressLine(count, total),
		})
	}
	fields = append(fields, chatplatform.EmbedField{
		Name:  "Closes",
		Value: timez.FormatForUser(p.CloseTime, p.Timezone),
	})

	return chatplatform.Embed{
		Title:       p.Question,
		Description: voteInstructions(p),
		Fields:      fields,
		Footer:      fmt.Sprintf("Created by %s", p.CreatorID),
		Color:       colorActive,
	}
}

// Final builds the embed for a closed poll: the same option list, final
// tallies, and the winning option highlighted. Ties are broken by lowest
// index: only the first option with the top count (above zero) is marked.
func Final(p *poll.Poll, tally []int, distinctVoters int) chatplatform.Embed {
	total := sum(tally)
	maxVotes := 0
	winner := -1
	for i, c := range tally {
		if c > maxVotes {
			maxVotes = c
			winner = i
		}
	}

	fields := make([]chatplatform.EmbedField, 0, len(p.Options)+1)
	for i, opt := range p.Options {
		count := 0
		if i < len(tally) {
			count = tally[i]
		}
		name := fmt.Sprintf("%s %s", emoji.Resolve(optionEmoji(p, i), i), opt)
		if i == winner {
			name = "🏆 " + name
		}
		fields = append(fields, chatplatform.EmbedField{
			Name:  name,
			Value: progressLine(count, total),
		})
	}
	fields = append(fields, chatplatform.EmbedField{
		Name:  "Participants",
		Value: fmt.Sprintf("%d unique voter(s)", distinctVoters),
	})

	return chatplatform.Embed{
		Title:       p.Question,
		Description: "This poll has closed.",
		Fields:      fields,
		Footer:      fmt.Sprintf("Created by %s", p.CreatorID),
		Color:       colorClosed,
	}
}

func voteInstructions(p *poll.Poll) string {
	if p.MultipleChoice {
		return fmt.Sprintf("React to vote (up to %d choices).", p.EffectiveMaxChoices())
	}
	return "React to vote for one option."
}

func progressLine(count, total int) string {
	pct := 0.0
	if total > 0 {
		pct = float64(count) * 100 / float64(total)
	}
	filled := int(pct / 100 * progressBarWidth)
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressBarWidth-filled)
	return fmt.Sprintf("%s %d votes (%.0f%%)", bar, count, pct)
}

func optionEmoji(p *poll.Poll, index int) string {
	if index >= 0 && index < len(p.Emojis) {
		return p.Emojis[index]
	}
	return ""
}

func sum(vals []int) int {
	total := 0
	for _, v := range vals {
		total += v
	}
	return total
}

// RolePingContent builds the plain-text content accompanying an embed when
// a role ping is configured for the given lifecycle moment, or "" if none
// applies.
func RolePingContent(rp poll.RolePing, moment string) string {
	if !rp.Enabled || rp.RoleID == "" {
		return ""
	}
	switch moment {
	case "open":
		if !rp.OnOpen {
			return ""
		}
	case "close":
		if !rp.OnClose {
			return ""
		}
	case "update":
		if !rp.OnUpdate {
			return ""
		}
	default:
		return ""
	}
	return fmt.Sprintf("<@&%s>", rp.RoleID)
}
