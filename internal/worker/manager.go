package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"memochat/internal/models"
	"memochat/internal/redis"
	"memochat/internal/service/ai"
	"memochat/internal/service/assistant"
	"memochat/internal/service/memory"
	"memochat/internal/service/reminder"
)

const persona = "You are a helpful personal assistant. You remember what the user has told you " +
	"and use it when it is relevant. Answer in plain text."

var (
	ErrManagerClosed = errors.New("worker manager closed")
	errEmptyReply    = errors.New("provider returned an empty reply")
	errJobCancelled  = errors.New("job cancelled")
	errCallerGone    = errors.New("caller stopped waiting")
)

// Store is the persistence the chat pipeline needs.
type Store interface {
	memory.Store
	CreateSession(ctx context.Context, userID int64, title string) (*models.Session, error)
	GetSessionWithMessages(ctx context.Context, userID, sessionID int64) (*models.Session, []*models.Message, error)
	AppendMessageToSession(ctx context.Context, userID, sessionID int64, role models.Role, content string) (*models.Message, error)
	UpdateSessionTitle(ctx context.Context, userID, sessionID int64, title string) error
	ListFacts(ctx context.Context, userID int64) ([]models.Fact, error)
	CreateReminder(ctx context.Context, userID, sessionID int64, d *models.ReminderDirective) (*models.Reminder, error)
}

// ProviderSource yields the provider a send captures at dispatch time.
type ProviderSource interface {
	Active(ctx context.Context, userID int64) (ai.Provider, error)
}

type Options struct {
	Dispatcher         DispatcherConfig
	Cache              *redis.Client
	Location           *time.Location
	SynthesisThreshold int
	StreamTimeout      time.Duration
	Now                func() time.Time
}

type SessionRequest struct {
	Context   context.Context
	UserID    int64
	SessionID int64 // 0 creates a new session
}

type StreamRequest struct {
	Context   context.Context
	UserID    int64
	SessionID int64
	Content   string
	// OnGrowth receives the cumulative reply; it stops firing once a newer
	// send on the same session has started, and never runs after Stream returns.
	OnGrowth ai.GrowthFunc
}

// StreamResult is what a completed send produced.
type StreamResult struct {
	UserMessage *models.Message
	Message     *models.Message
	Provider    string
	Model       string
	Title       string
	Reminder    *models.Reminder
	Remembered  string // key stored by explicit memory, if any
	Stale       bool
}

type workerReturn struct {
	session *models.Session
	result  *StreamResult
	err     error
}

type sessionTask struct {
	ctx       context.Context
	userID    int64
	sessionID int64
	resultCh  chan workerReturn
}

type streamTask struct {
	req      StreamRequest
	provider ai.Provider
	token    string
	resultCh chan workerReturn

	// mu serializes OnGrowth with detach; once detached the caller has
	// returned and its callback must not run again.
	mu       sync.Mutex
	detached bool
}

func (t *streamTask) detach() {
	t.mu.Lock()
	t.detached = true
	t.mu.Unlock()
}

func (t *streamTask) deliver(ctx context.Context, text string, current bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detached {
		return errCallerGone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.req.OnGrowth == nil || !current {
		return nil
	}
	return t.req.OnGrowth(text)
}

// Manager runs chat turns for all users on a shared dispatcher.
type Manager struct {
	store      Store
	providers  ProviderSource
	dispatcher *Dispatcher
	cache      *stateRedis
	synth      *memory.Synthesizer

	loc           *time.Location
	streamTimeout time.Duration
	now           func() time.Time
	origin        string

	mu    sync.Mutex
	state map[int64]*userState

	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
}

func NewManager(store Store, providers ProviderSource, opts Options) *Manager {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		store:         store,
		providers:     providers,
		cache:         newStateCache(opts.Cache),
		synth:         memory.NewSynthesizer(store, opts.SynthesisThreshold),
		loc:           loc,
		streamTimeout: opts.StreamTimeout,
		now:           now,
		origin:        uuid.NewString(),
		state:         make(map[int64]*userState),
		closed:        make(chan struct{}),
	}
	m.dispatcher = NewDispatcher(opts.Dispatcher, m.handleJob)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.cache.startListener(ctx, m.onInvalidate)
	return m
}

// Close stops the dispatcher and the invalidation listener.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.cancel()
		m.dispatcher.Stop()
	})
}

// InitSession loads an existing session, or creates one when SessionID is 0.
func (m *Manager) InitSession(req SessionRequest) (*models.Session, error) {
	state := m.getState(req.UserID)
	if req.SessionID > 0 && state.isReady(req.SessionID) {
		if se := state.getSession(req.SessionID); se != nil {
			return se, nil
		}
	}
	ctx := orBackground(req.Context)
	resultCh := make(chan workerReturn, 1)
	job := Job{Type: Init, SessionTask: &sessionTask{
		ctx:       ctx,
		userID:    req.UserID,
		sessionID: req.SessionID,
		resultCh:  resultCh,
	}}
	if err := m.dispatcher.Submit(job); err != nil {
		return nil, err
	}
	ret := m.wait(ctx, resultCh)
	return ret.session, ret.err
}

// Stream runs one chat turn. The provider is captured before dispatch, so a
// configuration error fails here without any network call and a later
// registry reload does not affect this send.
func (m *Manager) Stream(req StreamRequest) (*StreamResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.New("message content is required")
	}
	if req.SessionID <= 0 {
		return nil, errors.New("session id required")
	}
	ctx := orBackground(req.Context)
	provider, err := m.providers.Active(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	state := m.getState(req.UserID)
	token := state.beginSend(req.SessionID)
	resultCh := make(chan workerReturn, 1)
	req.Context = ctx
	task := &streamTask{
		req:      req,
		provider: provider,
		token:    token,
		resultCh: resultCh,
	}
	if err := m.dispatcher.Submit(Job{Type: Stream, StreamTask: task}); err != nil {
		return nil, err
	}
	ret := m.wait(ctx, resultCh)
	if ret.err != nil {
		// the worker may still be streaming after ctx ended or Close
		task.detach()
	}
	return ret.result, ret.err
}

// Purge drops a session from every cache layer, here and on other instances.
func (m *Manager) Purge(userID, sessionID int64) {
	if state := m.getExistingState(userID); state != nil {
		state.purgeCache(sessionID)
	}
	m.cache.invalidateSession(sessionID)
	m.cache.publishInvalidation(invalidateMessage{Origin: m.origin, UserID: userID, SessionID: sessionID, Scope: scopeSession})
}

// ResetUser forgets everything cached for the user and cancels queued jobs.
func (m *Manager) ResetUser(userID int64) {
	m.dropUser(userID)
	m.cache.publishInvalidation(invalidateMessage{Origin: m.origin, UserID: userID, Scope: scopeUser})
}

func (m *Manager) dropUser(userID int64) {
	m.mu.Lock()
	state, ok := m.state[userID]
	delete(m.state, userID)
	m.mu.Unlock()
	if ok {
		state.reset()
	}
	for _, job := range m.dispatcher.CancelUser(userID) {
		failJob(job, errJobCancelled)
	}
}

func (m *Manager) onInvalidate(msg invalidateMessage) {
	if msg.Origin == m.origin {
		return
	}
	debugLog("[manager] invalidation %s user=%d session=%d", msg.Scope, msg.UserID, msg.SessionID)
	switch msg.Scope {
	case scopeUser:
		m.dropUser(msg.UserID)
	case scopeSession:
		if state := m.getExistingState(msg.UserID); state != nil {
			state.purgeCache(msg.SessionID)
		}
	}
}

func (m *Manager) getState(userID int64) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.state[userID]
	if !ok {
		state = newUserState()
		m.state[userID] = state
	}
	return state
}

func (m *Manager) getExistingState(userID int64) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state[userID]
}

func (m *Manager) wait(ctx context.Context, ch <-chan workerReturn) workerReturn {
	select {
	case ret := <-ch:
		return ret
	case <-ctx.Done():
		return workerReturn{err: ctx.Err()}
	case <-m.closed:
		return workerReturn{err: ErrManagerClosed}
	}
}

func failJob(job Job, err error) {
	switch job.Type {
	case Init:
		job.SessionTask.resultCh <- workerReturn{err: err}
	case Stream:
		job.StreamTask.resultCh <- workerReturn{err: err}
	}
}

func (m *Manager) handleJob(job Job) {
	switch job.Type {
	case Init:
		m.handleInit(job.SessionTask)
	case Stream:
		m.handleStream(job.StreamTask)
	}
}

func (m *Manager) handleInit(task *sessionTask) {
	ctx := task.ctx
	state := m.getState(task.userID)
	if task.sessionID <= 0 {
		se, err := m.store.CreateSession(ctx, task.userID, assistant.DefaultTitle)
		if err != nil {
			task.resultCh <- workerReturn{err: err}
			return
		}
		history := make([]*models.Message, 0)
		state.load(se, history)
		m.cache.cacheSession(se, history)
		task.resultCh <- workerReturn{session: se}
		return
	}
	se, _, err := m.loadSession(ctx, state, task.userID, task.sessionID)
	task.resultCh <- workerReturn{session: se, err: err}
}

// loadSession reads through the in-process state, then redis, then SQL.
func (m *Manager) loadSession(ctx context.Context, state *userState, userID, sessionID int64) (*models.Session, []*models.Message, error) {
	if state.isReady(sessionID) {
		if se := state.getSession(sessionID); se != nil {
			return se, state.getHistory(sessionID), nil
		}
	}
	if se, history, ok := m.cache.loadSession(userID, sessionID); ok {
		debugLog("[manager] session %d restored from redis", sessionID)
		state.load(se, history)
		return se, state.getHistory(sessionID), nil
	}
	se, history, err := m.store.GetSessionWithMessages(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if history == nil {
		history = make([]*models.Message, 0)
	}
	state.load(se, history)
	m.cache.cacheSession(se, history)
	return se, state.getHistory(sessionID), nil
}

// handleStream answers the caller first, then runs one rolling synthesis
// step in the same job so per-user ordering holds.
func (m *Manager) handleStream(task *streamTask) {
	res, err := m.runTurn(task)
	task.resultCh <- workerReturn{result: res, err: err}
	if err != nil {
		return
	}
	req := task.req
	// the request context ends once the caller has its result
	ctx := context.WithoutCancel(orBackground(req.Context))
	if m.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.streamTimeout)
		defer cancel()
	}
	if _, err := m.synth.Step(ctx, req.UserID, req.SessionID, task.provider); err != nil {
		slog.Warn("fact synthesis failed", "component", "worker", "user_id", req.UserID, "session_id", req.SessionID, "err", err)
	}
}

func (m *Manager) runTurn(task *streamTask) (*StreamResult, error) {
	req := task.req
	ctx := req.Context
	if m.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.streamTimeout)
		defer cancel()
	}
	state := m.getState(req.UserID)
	_, history, err := m.loadSession(ctx, state, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	firstExchange := len(history) == 0
	res := &StreamResult{Provider: task.provider.ID(), Model: task.provider.Model()}

	if key, value, ok := memory.ExtractExplicit(req.Content); ok {
		if err := m.store.UpsertFact(ctx, req.UserID, key, value); err != nil {
			slog.Warn("explicit memory failed", "component", "worker", "user_id", req.UserID, "err", err)
		} else {
			res.Remembered = key
		}
	}

	userMsg, err := m.store.AppendMessageToSession(ctx, req.UserID, req.SessionID, models.RoleUser, req.Content)
	if err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}
	state.appendHistory(req.SessionID, userMsg)
	res.UserMessage = userMsg

	facts, err := m.store.ListFacts(ctx, req.UserID)
	if err != nil {
		slog.Warn("load facts failed", "component", "worker", "user_id", req.UserID, "err", err)
	}
	chat := &ai.ChatRequest{
		System:   m.systemPrompt(facts),
		Messages: ai.FromHistory(append(history, userMsg)),
	}
	onGrowth := func(text string) error {
		return task.deliver(ctx, text, state.isCurrent(req.SessionID, task.token))
	}

	debugLog("[manager] stream user=%d session=%d provider=%s", req.UserID, req.SessionID, task.provider.ID())
	text, err := task.provider.StreamChat(ctx, chat, onGrowth)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyReply
	}

	aiMsg, err := m.store.AppendMessageToSession(ctx, req.UserID, req.SessionID, models.RoleAssistant, text)
	if err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}
	state.appendHistory(req.SessionID, aiMsg)
	res.Message = aiMsg
	res.Stale = !state.isCurrent(req.SessionID, task.token)

	if d, ok := reminder.Parse(text, m.loc); ok {
		r, err := m.store.CreateReminder(ctx, req.UserID, req.SessionID, d)
		if err != nil {
			slog.Warn("store reminder failed", "component", "worker", "user_id", req.UserID, "err", err)
		} else {
			res.Reminder = r
		}
	}

	if firstExchange {
		m.nameSession(ctx, state, task.provider, res, userMsg, aiMsg)
	}

	m.cache.cacheSession(state.getSession(req.SessionID), state.getHistory(req.SessionID))
	m.cache.publishInvalidation(invalidateMessage{Origin: m.origin, UserID: req.UserID, SessionID: req.SessionID, Scope: scopeSession})
	return res, nil
}

func (m *Manager) nameSession(ctx context.Context, state *userState, provider ai.Provider, res *StreamResult, msgs ...*models.Message) {
	sessionID := res.Message.SessionID
	title, err := assistant.GenerateTitle(ctx, provider, msgs)
	if err != nil {
		slog.Warn("generate title failed", "component", "worker", "session_id", sessionID, "err", err)
		return
	}
	if title == "" || title == assistant.DefaultTitle {
		return
	}
	if err := m.store.UpdateSessionTitle(ctx, res.Message.UserID, sessionID, title); err != nil {
		slog.Warn("update title failed", "component", "worker", "session_id", sessionID, "err", err)
		return
	}
	state.setTitle(sessionID, title)
	res.Title = title
}

func (m *Manager) systemPrompt(facts []models.Fact) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nCurrent time: ")
	b.WriteString(m.now().In(m.loc).Format("Monday, January 2, 2006 15:04 MST"))
	if len(facts) > 0 {
		b.WriteString("\n\nWhat you know about the user:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
	}
	b.WriteString("\n\n")
	b.WriteString(reminder.Instruction)
	return b.String()
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
