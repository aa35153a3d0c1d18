// Package archive generates the static HTML snapshot (C15) produced when a
// poll closes (or during the recovery backfill pass): question, options
// with vote counts and percentages, winner(s), total unique voters, and a
// resolved display-name voter list for non-anonymous polls.
package archive

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/xid"

	"github.com/pollbot/pollbot/internal/poll"
)

// VoterName resolves a user id to a display name, so the archive can print
// names instead of raw platform ids for non-anonymous polls.
type VoterName func(ctx context.Context, userID string) string

// Generator writes poll snapshots under dir/poll_<id>_details.html.
type Generator struct {
	dir string
}

func New(dir string) *Generator {
	return &Generator{dir: dir}
}

// Path returns where poll pollID's snapshot lives, whether or not it has
// been generated yet.
func (g *Generator) Path(pollID int64) string {
	return filepath.Join(g.dir, fmt.Sprintf("poll_%d_details.html", pollID))
}

// Exists reports whether a snapshot already exists for pollID, used by the
// dynamic-fallback path that regenerates one on demand when it's missing.
func (g *Generator) Exists(pollID int64) bool {
	_, err := os.Stat(g.Path(pollID))
	return err == nil
}

// optionResult is one option's tally for rendering.
type optionResult struct {
	Index   int
	Text    string
	Emoji   string
	Votes   int
	Percent float64
	Winner  bool
}

// Generate renders and writes the snapshot for p given its votes. resolve
// names voters for the non-anonymous voter list; it may be nil for
// anonymous polls, where no voter list is rendered regardless.
func (g *Generator) Generate(ctx context.Context, p *poll.Poll, votes []poll.Vote, resolve VoterName) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	tally := make([]int, len(p.Options))
	voters := make(map[string]struct{})
	for _, v := range votes {
		if v.OptionIndex >= 0 && v.OptionIndex < len(tally) {
			tally[v.OptionIndex]++
		}
		voters[v.UserID] = struct{}{}
	}

	total := len(votes)
	results := make([]optionResult, len(p.Options))
	maxVotes := 0
	for i, opt := range p.Options {
		pct := 0.0
		if total > 0 {
			pct = float64(tally[i]) * 100 / float64(total)
		}
		emoji := ""
		if i < len(p.Emojis) {
			emoji = p.Emojis[i]
		}
		results[i] = optionResult{Index: i, Text: opt, Emoji: emoji, Votes: tally[i], Percent: pct}
		if tally[i] > maxVotes {
			maxVotes = tally[i]
		}
	}
	// Ties are not broken: every option matching maxVotes (>0) is marked a
	// winner, so a tie yields joint winners, listed in ascending index order.
	for i := range results {
		if maxVotes > 0 && results[i].Votes == maxVotes {
			results[i].Winner = true
		}
	}

	var voterNames []string
	if !p.Anonymous && resolve != nil {
		ids := make([]string, 0, len(voters))
		for id := range voters {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			voterNames = append(voterNames, resolve(ctx, id))
		}
	}

	// generationID is a sortable cache-busting stamp: the recovery backfill
	// sweep can regenerate this file weeks after the original close, and a
	// CDN or browser cache keyed only on the URL would otherwise keep
	// serving the stale snapshot.
	generationID := xid.New()
	doc := render(p, results, len(voters), voterNames, generationID)
	return os.WriteFile(g.Path(p.ID), []byte(doc), 0o644)
}

func render(p *poll.Poll, results []optionResult, totalVoters int, voterNames []string, generationID xid.ID) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<meta name=\"generation-id\" content=\"%s\">\n", generationID.String())
	fmt.Fprintf(&b, "<title>%s — results</title>\n", html.EscapeString(p.Question))
	b.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(p.Question))
	b.WriteString("<ul class=\"poll-results\">\n")
	for _, r := range results {
		winnerClass := ""
		if r.Winner {
			winnerClass = " winner"
		}
		fmt.Fprintf(&b, "<li class=\"option%s\">%s %s — %d votes (%.1f%%)</li>\n",
			winnerClass, html.EscapeString(r.Emoji), html.EscapeString(r.Text), r.Votes, r.Percent)
	}
	b.WriteString("</ul>\n")
	fmt.Fprintf(&b, "<p class=\"total-voters\">%d unique voter(s)</p>\n", totalVoters)
	if len(voterNames) > 0 {
		b.WriteString("<h2>Voters</h2>\n<ul class=\"voter-list\">\n")
		for _, name := range voterNames {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(name))
		}
		b.WriteString("</ul>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
