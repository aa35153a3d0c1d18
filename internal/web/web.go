// Package web implements the thin HTMX dashboard (C16): a poll list, a
// live-tally partial, the poll creation and reopen forms, and a
// token-gated route onto the static archive generator's snapshots. Polls
// are created by this layer — it owns that one write path — but every
// lifecycle transition past creation still goes through the
// opening/closing/reopening services, not ad hoc SQL here.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/archive"
	"github.com/pollbot/pollbot/internal/opening"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/reopening"
	"github.com/pollbot/pollbot/internal/screenshot"
	"github.com/pollbot/pollbot/internal/timez"
)

// Store is the read/write surface the dashboard needs. CreatePoll is this
// package's one write path into persistence; every other mutation still
// goes through the lifecycle services below.
type Store interface {
	ListPollsByStatus(ctx context.Context, status poll.Status) ([]*poll.Poll, error)
	GetPoll(ctx context.Context, id int64) (*poll.Poll, error)
	Tally(ctx context.Context, pollID int64, numOptions int) ([]int, error)
	CreatePoll(ctx context.Context, p *poll.Poll) error
}

// Opener is the narrow surface of *opening.Service this package needs, for
// "open immediately" poll creation.
type Opener interface {
	Open(ctx context.Context, pollID int64, reason opening.Reason, actorID string) (opening.Result, error)
}

// Reopener is the narrow surface of *reopening.Service this package needs.
type Reopener interface {
	Reopen(ctx context.Context, pollID int64, opts reopening.Options) error
}

// Handler serves the dashboard, its HTMX partials, and the poll creation and
// reopen actions the dashboard's forms submit to.
type Handler struct {
	store       Store
	opener      Opener
	reopener    Reopener
	screenshots *screenshot.Service
	archiver    *archive.Generator
	log         zerolog.Logger
}

func NewHandler(store Store, opener Opener, reopener Reopener, screenshots *screenshot.Service, archiver *archive.Generator, log zerolog.Logger) *Handler {
	return &Handler{store: store, opener: opener, reopener: reopener, screenshots: screenshots, archiver: archiver, log: log}
}

// RegisterRoutes wires the handler's routes onto mux.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /{$}", h.Dashboard)
	mux.HandleFunc("GET /app/polls/{id}/tally", h.PollTally)
	mux.HandleFunc("POST /app/polls", h.CreatePoll)
	mux.HandleFunc("POST /app/polls/{id}/reopen", h.ReopenPoll)
	mux.HandleFunc("GET /polls/{id}/details", h.PollDetails)
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	active, err := h.store.ListPollsByStatus(ctx, poll.StatusActive)
	if err != nil {
		h.log.Error().Err(err).Msg("web: failed to list active polls")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	scheduled, err := h.store.ListPollsByStatus(ctx, poll.StatusScheduled)
	if err != nil {
		h.log.Warn().Err(err).Msg("web: failed to list scheduled polls")
	}
	closed, err := h.store.ListPollsByStatus(ctx, poll.StatusClosed)
	if err != nil {
		h.log.Warn().Err(err).Msg("web: failed to list closed polls")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := DashboardPage(active, scheduled, closed).Render(ctx, w); err != nil {
		h.log.Error().Err(err).Msg("web: failed to render dashboard")
	}
}

func (h *Handler) PollTally(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid poll id", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	p, err := h.store.GetPoll(ctx, id)
	if err != nil {
		http.Error(w, "poll not found", http.StatusNotFound)
		return
	}
	tally, err := h.store.Tally(ctx, id, len(p.Options))
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := PollTallyPartial(p, tally).Render(ctx, w); err != nil {
		h.log.Error().Err(err).Msg("web: failed to render tally partial")
	}
}

// CreatePoll handles the dashboard's create-poll form submission. This
// route, not any lifecycle service, owns the status=scheduled/message_id=
// null insert; whether the poll opens immediately is delegated straight to
// the opening service so this handler never duplicates its algorithm.
func (h *Handler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	options := r.Form["option"]
	emojis := r.Form["emoji"]
	zone := timez.NormalizeZone(r.FormValue("timezone"))
	openImmediately := r.FormValue("open_immediately") == "on"

	var openTime time.Time
	if openImmediately {
		openTime = time.Now().UTC()
	} else {
		parsed, err := timez.ParseWallClock(r.FormValue("open_time"), zone)
		if err != nil {
			http.Error(w, "invalid open_time: "+err.Error(), http.StatusBadRequest)
			return
		}
		openTime = parsed
	}
	closeTime, err := timez.ParseWallClock(r.FormValue("close_time"), zone)
	if err != nil {
		http.Error(w, "invalid close_time: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := timez.ValidateScheduled(openTime, closeTime, openImmediately); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := &poll.Poll{
		Question:        r.FormValue("question"),
		Options:         options,
		Emojis:          emojis,
		ChannelID:       r.FormValue("channel_id"),
		CreatorID:       r.FormValue("creator_id"),
		OpenTime:        openTime,
		CloseTime:       closeTime,
		Timezone:        zone,
		Anonymous:       r.FormValue("anonymous") == "on",
		MultipleChoice:  r.FormValue("multiple_choice") == "on",
		OpenImmediately: openImmediately,
		Status:          poll.StatusScheduled,
	}
	if err := h.store.CreatePoll(ctx, p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if openImmediately && h.opener != nil {
		if _, err := h.opener.Open(ctx, p.ID, opening.ReasonImmediate, p.CreatorID); err != nil {
			h.log.Warn().Err(err).Int64("poll_id", p.ID).Msg("web: immediate open failed after poll creation")
		}
	}

	w.Header().Set("Location", "/")
	w.WriteHeader(http.StatusSeeOther)
}

// ReopenPoll handles the dashboard's reopen action on a closed poll's row.
func (h *Handler) ReopenPoll(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid poll id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	extend, _ := strconv.Atoi(r.FormValue("extend_by_min"))
	opts := reopening.Options{
		ResetVotes:  r.FormValue("reset_votes") == "on",
		ExtendByMin: extend,
	}
	if err := h.reopener.Reopen(r.Context(), id, opts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Location", "/")
	w.WriteHeader(http.StatusSeeOther)
}

// PollDetails serves a closed poll's static archive snapshot, gated by a
// screenshot token rather than session auth — this gives an internal
// renderer access to dashboard content without replaying OAuth.
// Regenerates nothing here — the recovery backfill sweep and the closing
// service are what produce the file; a missing file is a 404, and
// regenerating it on demand is the caller's job, not this route's.
func (h *Handler) PollDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid poll id", http.StatusBadRequest)
		return
	}
	token := r.URL.Query().Get("token")
	claims, err := h.screenshots.Validate(r.Context(), token)
	if err != nil || claims.PollID != id {
		http.Error(w, "invalid or expired token", http.StatusForbidden)
		return
	}
	if !h.archiver.Exists(id) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeFile(w, r, h.archiver.Path(id))
}
