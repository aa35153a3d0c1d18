package web

import (
	"context"
	"fmt"
	"html"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/pollbot/pollbot/internal/poll"
)

// write is a small helper so every component below can fmt.Fprintf into w
// and bail out on the first write error, the same shape templ's generated
// components use internally.
func write(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

// DashboardPage renders the top-level HTMX dashboard: active, scheduled,
// and closed polls. It is a templ.Component built by hand via
// templ.ComponentFunc rather than `templ generate` output, since the
// dashboard only needs a thin surface over the lifecycle services below it.
func DashboardPage(active, scheduled, closed []*poll.Poll) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w, "<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n<title>pollbot dashboard</title>\n<script src=\"https://unpkg.com/htmx.org\"></script>\n</head>\n<body>\n<h1>Active polls</h1>\n"); err != nil {
			return err
		}
		if err := pollList(w, active, true); err != nil {
			return err
		}
		if err := write(w, "<h1>Scheduled polls</h1>\n"); err != nil {
			return err
		}
		if err := pollList(w, scheduled, false); err != nil {
			return err
		}
		if err := write(w, "<h1>Closed polls</h1>\n<ul class=\"poll-list\">\n"); err != nil {
			return err
		}
		for _, p := range closed {
			if err := write(w, "<li id=\"poll-%d\">%s\n", p.ID, html.EscapeString(p.Question)); err != nil {
				return err
			}
			if err := ReopenForm(p).Render(ctx, w); err != nil {
				return err
			}
			if err := write(w, "</li>\n"); err != nil {
				return err
			}
		}
		if err := write(w, "</ul>\n"); err != nil {
			return err
		}
		if err := createPollForm(w); err != nil {
			return err
		}
		return write(w, "</body>\n</html>\n")
	})
}

// createPollForm renders the form the CreatePoll route (POST /app/polls)
// accepts: repeated option/emoji fields, a timezone, a schedule, and an
// open_immediately checkbox.
func createPollForm(w io.Writer) error {
	return write(w, "<h1>New poll</h1>\n"+
		"<form method=\"post\" action=\"/app/polls\">\n"+
		"<input name=\"question\" placeholder=\"Question\" required>\n"+
		"<input name=\"option\" placeholder=\"Option 1\" required>\n"+
		"<input name=\"emoji\" placeholder=\"Emoji 1\" required>\n"+
		"<input name=\"option\" placeholder=\"Option 2\" required>\n"+
		"<input name=\"emoji\" placeholder=\"Emoji 2\" required>\n"+
		"<input name=\"channel_id\" placeholder=\"Channel ID\" required>\n"+
		"<input name=\"creator_id\" placeholder=\"Your ID\" required>\n"+
		"<input name=\"timezone\" placeholder=\"Timezone (e.g. UTC)\">\n"+
		"<label><input type=\"checkbox\" name=\"open_immediately\"> Open immediately</label>\n"+
		"<input type=\"datetime-local\" name=\"open_time\">\n"+
		"<input type=\"datetime-local\" name=\"close_time\" required>\n"+
		"<button type=\"submit\">Create poll</button>\n"+
		"</form>\n")
}

// ReopenForm renders the reopen button for a single closed poll, used
// wherever the dashboard lists closed polls.
func ReopenForm(p *poll.Poll) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return write(w, "<form method=\"post\" action=\"/app/polls/%d/reopen\">\n"+
			"<label><input type=\"checkbox\" name=\"reset_votes\"> Reset votes</label>\n"+
			"<input type=\"number\" name=\"extend_by_min\" placeholder=\"Extend by minutes\">\n"+
			"<button type=\"submit\">Reopen \"%s\"</button>\n</form>\n", p.ID, html.EscapeString(p.Question))
	})
}

func pollList(w io.Writer, polls []*poll.Poll, withTallyPartial bool) error {
	if err := write(w, "<ul class=\"poll-list\">\n"); err != nil {
		return err
	}
	for _, p := range polls {
		if withTallyPartial {
			if err := write(w, "<li id=\"poll-%d\" hx-get=\"/app/polls/%d/tally\" hx-trigger=\"every 10s\" hx-swap=\"innerHTML\">%s</li>\n",
				p.ID, p.ID, html.EscapeString(p.Question)); err != nil {
				return err
			}
			continue
		}
		if err := write(w, "<li id=\"poll-%d\">%s — opens %s</li>\n",
			p.ID, html.EscapeString(p.Question), html.EscapeString(p.OpenTime.Format(time.RFC3339))); err != nil {
			return err
		}
	}
	return write(w, "</ul>\n")
}

// PollTallyPartial renders the HTMX fragment swapped into a poll's list
// item every poll interval, showing a live vote count per option.
func PollTallyPartial(p *poll.Poll, tally []int) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w, "<div id=\"poll-%d\">\n<p>%s</p>\n<ul>\n", p.ID, html.EscapeString(p.Question)); err != nil {
			return err
		}
		for i, opt := range p.Options {
			count := 0
			if i < len(tally) {
				count = tally[i]
			}
			emoji := ""
			if i < len(p.Emojis) {
				emoji = p.Emojis[i]
			}
			if err := write(w, "<li>%s %s: %d</li>\n", html.EscapeString(emoji), html.EscapeString(opt), count); err != nil {
				return err
			}
		}
		return write(w, "</ul>\n</div>\n")
	})
}
