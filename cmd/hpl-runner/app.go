package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/hpl-runner/internal/catalog"
	appcfg "github.com/park285/hpl-runner/internal/config"
	"github.com/park285/hpl-runner/internal/domain"
	"github.com/park285/hpl-runner/internal/feed"
	"github.com/park285/hpl-runner/internal/history"
	"github.com/park285/hpl-runner/internal/hplapi"
	"github.com/park285/hpl-runner/internal/identity"
	"github.com/park285/hpl-runner/internal/progress"
	"github.com/park285/hpl-runner/internal/session"
	"github.com/park285/hpl-runner/internal/store"
	"github.com/park285/hpl-runner/pkg/gamedto"
)

type app struct {
	cfg    *appcfg.AppConfig
	logger *zap.Logger

	outMu sync.Mutex
	out   io.Writer

	catalog  *catalog.Catalog
	store    store.Store
	client   *hplapi.Client
	identity *identity.Manager
	progress *progress.Tracker
	history  history.Store
	feed     *feed.Publisher
	closers  []func() error

	mu       sync.Mutex
	minigame domain.MinigameID
	orch     *session.Orchestrator
}

func newApp(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger, out io.Writer) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{cfg: cfg, logger: logger, out: out}

	cat, err := catalog.New(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	a.catalog = cat

	if cfg.RedisURL != "" {
		rs, err := store.OpenRedis(ctx, cfg.RedisURL, cfg.StoragePrefix, 0)
		if err != nil {
			return nil, err
		}
		a.store = rs
		a.closers = append(a.closers, rs.Close)
	} else {
		a.store = store.NewMemory(cfg.StoragePrefix)
	}

	var creator identity.GuestCreator
	if !cfg.Offline {
		a.client = hplapi.NewClient(cfg.APIBaseURL,
			hplapi.WithTimeout(cfg.APITimeout),
			hplapi.WithHeaderProvider(func() map[string]string {
				return map[string]string{"X-Client-Name": "hpl-runner"}
			}),
		)
		creator = a.client
	}

	idOpts := []identity.Option{identity.WithLogger(logger)}
	if cfg.LaunchTokenSecret != "" {
		v, err := identity.NewLaunchTokenVerifier(cfg.LaunchTokenSecret, clockwork.NewRealClock())
		if err != nil {
			a.close()
			return nil, err
		}
		idOpts = append(idOpts, identity.WithVerifier(v))
	}
	a.identity = identity.NewManager(a.store, creator, idOpts...)

	a.progress = progress.NewTracker(a.store, cat.Order(), logger)

	if cfg.DatabaseURL != "" {
		pg, err := history.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.history = pg
		a.closers = append(a.closers, pg.Close)
	} else {
		a.history = history.NewMemory()
	}

	if cfg.FeedWSURL != "" {
		a.feed = feed.NewPublisher(cfg.FeedWSURL, feed.WithLogger(logger))
		if err := a.feed.Start(ctx); err != nil {
			// 첫 이벤트 때 재연결
			logger.Warn("feed_dial_failed", zap.Error(err))
		}
	}

	if cfg.LaunchToken != "" {
		if _, err := a.identity.Adopt(ctx, cfg.LaunchToken); err != nil {
			logger.Warn("launch_token_rejected", zap.Error(err))
		}
	}
	if g, err := a.identity.Load(ctx); err == nil && g != nil {
		a.syncProgress(ctx, g.GuestID)
	}

	a.selectMinigame(cfg.Minigame)
	return a, nil
}

func (a *app) close() {
	a.mu.Lock()
	if a.orch != nil {
		_ = a.orch.Close()
	}
	a.mu.Unlock()
	if a.feed != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = a.feed.Close(ctx)
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func (a *app) current() *session.Orchestrator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orch
}

func (a *app) selectMinigame(id domain.MinigameID) {
	def, _ := a.catalog.Get(id)
	maxTime := a.catalog.MaxTime(id)
	if a.cfg.MaxTimeSec > 0 {
		maxTime = a.cfg.MaxTimeSec
	}

	var client session.ScoringClient
	if a.client != nil {
		client = a.client
	}
	opts := []session.Option{
		session.WithLogger(a.logger),
		session.WithHooks(a.hooks(def)),
		session.WithRecorder(a.history),
	}
	if a.feed != nil {
		opts = append(opts, session.WithEventSink(a.feed))
	}
	orch := session.New(session.Config{
		Minigame:   id,
		MaxTime:    maxTime,
		Offline:    a.cfg.Offline,
		AutoSubmit: a.cfg.AutoSubmit,
		Strategy:   a.catalog.Strategy(id),
	}, a.identity, client, opts...)

	a.mu.Lock()
	prev := a.orch
	a.orch = orch
	a.minigame = id
	a.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

func (a *app) hooks(def catalog.Definition) session.Hooks {
	return session.Hooks{
		OnWin: func(o session.Outcome) {
			a.say(a.render("win", map[string]any{"Title": def.Title, "Score": o.Score, "Remaining": o.Remaining}))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.progress.MarkCleared(ctx, o.Minigame); err != nil {
				a.logger.Warn("progress_update_failed", zap.String("minigame", o.Minigame.String()), zap.Error(err))
			}
		},
		OnLose: func(o session.Outcome) {
			a.say(a.render("lose", map[string]any{"Title": def.Title, "Score": o.Score}))
		},
		OnSubmitted: func(o session.Outcome) {
			a.say(a.render("submitted", map[string]any{"SessionID": o.SessionID}))
		},
		OnTick: func(remaining int) {
			if remaining > 0 && (remaining%30 == 0 || remaining <= 5) {
				a.say(a.render("tick", map[string]any{"Remaining": remaining}))
			}
		},
	}
}

func (a *app) render(key string, data map[string]any) string {
	s, err := a.catalog.Render(key, data)
	if err != nil {
		a.logger.Debug("message_render_failed", zap.String("key", key), zap.Error(err))
		return fmt.Sprintf("%s %v", key, data)
	}
	return s
}

func (a *app) say(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	if len(args) == 0 {
		fmt.Fprintln(a.out, format)
		return
	}
	fmt.Fprintf(a.out, format+"\n", args...)
}

func (a *app) fail(err error) {
	de := gamedto.FromError(err)
	if de == nil {
		return
	}
	if de.Code == gamedto.CodeSubmissionFailure {
		a.say(a.render("submit_failed", map[string]any{"Error": de.Message}))
		return
	}
	hint := ""
	if de.Retryable {
		hint = " (retry 로 재시도)"
	}
	a.say("[%s] %s%s", de.Code, de.Message, hint)
}

func (a *app) syncProgress(ctx context.Context, guestID string) {
	reset, err := a.progress.SyncGuest(ctx, guestID)
	if err != nil {
		a.logger.Warn("progress_sync_failed", zap.Error(err))
		return
	}
	if reset {
		a.logger.Info("progress_reset_for_guest", zap.String("guest_id", guestID))
	}
}

// run reads commands line by line until EOF, quit, or ctx is done.
func (a *app) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	a.say(helpText())
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !a.handle(ctx, line) {
				return
			}
		}
	}
}

func helpText() string {
	return strings.Join([]string{
		"HPL runner",
		"• start | answer <json> | win | lose",
		"• reset | retry | status",
		"• select <minigame> | levels [minigame] | next",
		"• history | logout | quit",
	}, "\n")
}

func (a *app) handle(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	orch := a.current()

	switch cmd {
	case "help", "?":
		a.say(helpText())
	case "quit", "exit":
		return false
	case "start", "retry":
		var err error
		if cmd == "start" {
			err = orch.Start(ctx)
		} else {
			err = orch.Retry(ctx)
		}
		if err != nil {
			a.fail(err)
			return true
		}
		if g := a.identity.Current(); g != nil {
			a.syncProgress(ctx, g.GuestID)
		}
		def, _ := a.catalog.Get(orch.Config().Minigame)
		a.say(a.render("start", map[string]any{"Title": def.Title, "MaxTime": orch.Config().MaxTime}))
	case "answer":
		raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), parts[0]))
		if raw == "" {
			a.say("Usage: answer <json>")
			return true
		}
		payload := json.RawMessage(raw)
		if !json.Valid(payload) {
			b, _ := json.Marshal(raw)
			payload = b
		}
		if err := orch.RecordAnswer(payload); err != nil {
			a.fail(err)
		}
	case "win", "lose":
		if err := orch.Finalize(ctx, cmd == "win"); err != nil {
			a.fail(err)
		}
	case "reset":
		if err := orch.Reset(); err != nil {
			a.fail(err)
			return true
		}
		a.say("reset")
	case "status":
		a.printStatus(orch)
	case "select":
		if len(args) == 0 {
			a.say("Usage: select <minigame>")
			return true
		}
		a.handleSelect(ctx, orch, args[0])
	case "levels":
		a.handleLevels(ctx, args)
	case "next":
		a.handleNext(ctx, orch)
	case "history":
		a.handleHistory(ctx)
	case "logout":
		if err := orch.Close(); err != nil {
			a.fail(err)
		}
		if err := a.identity.Clear(ctx); err != nil {
			a.fail(err)
			return true
		}
		a.say("logged out")
	default:
		a.say("Unknown command. Try 'help'.")
	}
	return true
}

func (a *app) printStatus(orch *session.Orchestrator) {
	snap := orch.Snapshot()
	v := snap.Session
	a.say("minigame=%s state=%s session=%s remaining=%d score=%d answers=%d offline=%v",
		v.Minigame, v.State, v.SessionID, snap.Timer.Remaining, v.Score, len(v.Answers), snap.Offline)
}

func (a *app) handleSelect(ctx context.Context, orch *session.Orchestrator, name string) {
	def, err := a.catalog.Lookup(name)
	if err != nil {
		a.say("%v", err)
		return
	}
	switch orch.State() {
	case domain.StateLaunching, domain.StatePlaying, domain.StateSubmitting:
		a.say("진행 중인 게임이 있습니다 (%s)", orch.State())
		return
	}
	st, err := a.progress.State(ctx, def.ID)
	if err != nil {
		a.fail(err)
		return
	}
	if st == progress.Locked {
		a.say("%s 은(는) 아직 잠겨 있습니다", def.Title)
		return
	}
	a.selectMinigame(def.ID)
	a.say("selected %s (%d초)", def.Title, a.current().Config().MaxTime)
}

func (a *app) handleLevels(ctx context.Context, args []string) {
	if len(args) > 0 {
		if a.client == nil {
			a.say("offline: remote levels unavailable")
			return
		}
		def, err := a.catalog.Lookup(args[0])
		if err != nil {
			a.say("%v", err)
			return
		}
		levels, err := a.client.Levels(ctx, def.ID)
		if err != nil {
			a.fail(err)
			return
		}
		a.say("%s levels: %v", def.ID, levels)
		return
	}
	entries, err := a.progress.Entries(ctx)
	if err != nil {
		a.fail(err)
		return
	}
	for _, e := range entries {
		a.say("%-20s %s", e.Minigame, e.State)
	}
}

func (a *app) handleNext(ctx context.Context, orch *session.Orchestrator) {
	snap := orch.Snapshot()
	if snap.Session.State != domain.StateFinished {
		a.say("finish the current game first")
		return
	}
	if a.client != nil && snap.Session.SessionID != "" && snap.Session.SessionID != session.OfflineSessionID {
		g := a.identity.Current()
		if g == nil {
			a.fail(domain.ErrIdentityMissing)
			return
		}
		if err := a.client.NextGame(ctx, g.CollectionID, snap.Session.SessionID, g.AccessToken); err != nil {
			a.fail(err)
			return
		}
	}
	order := a.catalog.Order()
	for i, id := range order {
		if id != snap.Session.Minigame {
			continue
		}
		if i+1 >= len(order) {
			a.say("모든 게임을 완료했습니다")
			return
		}
		next := order[i+1]
		st, err := a.progress.State(ctx, next)
		if err != nil {
			a.fail(err)
			return
		}
		if st == progress.Locked {
			a.say("%s 은(는) 아직 잠겨 있습니다", next)
			return
		}
		a.selectMinigame(next)
		a.say("selected %s", next)
		return
	}
}

func (a *app) handleHistory(ctx context.Context) {
	guestID := ""
	if g := a.identity.Current(); g != nil {
		guestID = g.GuestID
	}
	rows, err := a.history.Recent(ctx, guestID, 10)
	if err != nil {
		a.fail(err)
		return
	}
	if len(rows) == 0 {
		a.say("no attempts yet")
		return
	}
	for _, r := range rows {
		result := "lose"
		if r.Won {
			result = "win"
		}
		submitted := "local"
		switch {
		case r.Submitted:
			submitted = "submitted"
		case r.SubmitError != "":
			submitted = "submit failed"
		}
		a.say("%s %-18s %-4s score=%3d %s", r.FinishedAt.Local().Format("01-02 15:04"), r.MinigameID, result, r.Score, submitted)
	}
}
