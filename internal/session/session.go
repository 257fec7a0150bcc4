// Package session runs a live quiz attempt on the server: countdown,
// debounced autosave, navigation state and integrity signals. The page layer
// forwards user events; the session decides when to persist and when to
// force a submission.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/attempt"
	"github.com/mind-engage/quizhub/internal/rbac"
)

type State int

const (
	Created State = iota
	InProgress
	Submitting
	Finalized
)

var stateNames = [...]string{"created", "in_progress", "submitting", "finalized"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

type SaveStatus string

const (
	SaveIdle   SaveStatus = "idle"
	SaveSaving SaveStatus = "saving"
	SaveSaved  SaveStatus = "saved"
	SaveError  SaveStatus = "error"
)

const (
	NoticeTimeWarning      = "time_warning"
	NoticeIntegrityWarning = "integrity_warning"
	NoticeCopyPaste        = "copy_paste_blocked"
	NoticeForcedSubmit     = "forced_submit"
)

type Notice struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Backend persists what the session produces. *attempt.Service satisfies it.
type Backend interface {
	Get(ctx context.Context, p rbac.Principal, attemptID string) (attempt.Attempt, error)
	SaveResponses(ctx context.Context, p rbac.Principal, attemptID string, answers map[string]string) (attempt.SaveReport, error)
	RecordIntegrity(ctx context.Context, p rbac.Principal, attemptID string, tabSwitches int) error
	End(ctx context.Context, p rbac.Principal, attemptID string, opts attempt.EndOptions) (attempt.Attempt, error)
}

type Config struct {
	QuietPeriod    time.Duration // autosave debounce
	IntegrityLimit int           // visibility losses that force a submit
	WarnAt         time.Duration // remaining time that triggers the time warning
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		QuietPeriod:    3 * time.Second,
		IntegrityLimit: 3,
		WarnAt:         5 * time.Minute,
		WriteTimeout:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = d.QuietPeriod
	}
	if c.IntegrityLimit <= 0 {
		c.IntegrityLimit = d.IntegrityLimit
	}
	if c.WarnAt <= 0 {
		c.WarnAt = d.WarnAt
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

type Session struct {
	attemptID string
	owner     rbac.Principal
	backend   Backend
	clock     Clock
	cfg       Config
	log       *logrus.Entry

	writeMu sync.Mutex // one backend write at a time

	mu          sync.Mutex
	state       State
	remaining   int // seconds
	questions   []string
	current     int
	visited     map[int]bool
	flagged     map[int]bool
	answers     map[string]string
	dirty       map[string]bool
	savedTabs   int
	saveStatus  SaveStatus
	saveErr     string
	submitErr   string
	rejected    map[string]string
	tabSwitches int
	copyPaste   int
	warned      bool
	notices     []Notice
	forced      string
	ticker      Timer
	debounce    Timer
	result      *attempt.Attempt
	onFinal     func(attemptID string)
}

// New builds a session in the Created state. remaining is the time left on
// the attempt; questions is the snapshot order used for navigation.
func New(a attempt.Attempt, owner rbac.Principal, remaining time.Duration, backend Backend, clock Clock, cfg Config, log *logrus.Entry) *Session {
	qs := a.Snapshot.Questions()
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	answers := make(map[string]string, len(a.Responses))
	for _, r := range a.Responses {
		answers[r.QuestionID] = r.Answer
	}
	secs := int(remaining / time.Second)
	if secs < 0 {
		secs = 0
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Session{
		attemptID:   a.ID,
		owner:       owner,
		backend:     backend,
		clock:       clock,
		cfg:         cfg.withDefaults(),
		log:         log.WithField("attempt_id", a.ID),
		state:       Created,
		remaining:   secs,
		questions:   ids,
		visited:     map[int]bool{},
		flagged:     map[int]bool{},
		answers:     answers,
		dirty:       map[string]bool{},
		savedTabs:   a.TabSwitches,
		tabSwitches: a.TabSwitches,
		saveStatus:  SaveIdle,
	}
}

func (s *Session) AttemptID() string { return s.attemptID }

func (s *Session) Owner() rbac.Principal { return s.owner }

// start moves Created to InProgress and arms the countdown. expired reports
// that no time is left; the caller must then call submitExpired.
func (s *Session) start() (expired bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Created {
		return false, apperr.Conflict("session already started")
	}
	s.state = InProgress
	s.visited[0] = true
	if s.remaining <= 0 {
		return true, nil
	}
	s.ticker = s.clock.AfterFunc(time.Second, s.tick)
	return false, nil
}

func (s *Session) submitExpired(ctx context.Context) {
	s.log.Info("no time left on start, submitting")
	if _, err := s.submit(ctx, attempt.ForcedTimeout); err != nil {
		s.log.WithError(err).Warn("expired-start submit failed")
	}
}

func (s *Session) tick() {
	s.mu.Lock()
	if s.state != InProgress {
		s.mu.Unlock()
		return
	}
	s.remaining--
	if !s.warned && s.remaining > 0 && time.Duration(s.remaining)*time.Second <= s.cfg.WarnAt {
		s.warned = true
		s.noticeLocked(NoticeTimeWarning, fmt.Sprintf("%d minutes remaining", (s.remaining+59)/60))
	}
	if s.remaining > 0 {
		s.ticker = s.clock.AfterFunc(time.Second, s.tick)
		s.mu.Unlock()
		return
	}
	s.remaining = 0
	s.mu.Unlock()
	s.log.Info("time is up, submitting")
	if _, err := s.submit(context.Background(), attempt.ForcedTimeout); err != nil {
		s.log.WithError(err).Warn("timeout submit failed")
	}
}

func (s *Session) noticeLocked(kind, msg string) {
	s.notices = append(s.notices, Notice{Kind: kind, Message: msg, At: s.clock.Now().UTC()})
}

func (s *Session) editableLocked() error {
	switch s.state {
	case InProgress:
		return nil
	case Created:
		return apperr.Conflict("session not started")
	case Submitting:
		return apperr.Conflict("submission in progress")
	default:
		return apperr.Conflict("attempt already submitted")
	}
}

// Answer records the latest payload for a question and restarts the quiet
// timer. Only the last value before the timer fires is persisted.
func (s *Session) Answer(questionID, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	if s.indexOf(questionID) < 0 {
		return apperr.NotFound("question", questionID)
	}
	if prev, ok := s.answers[questionID]; ok && prev == payload {
		return nil
	}
	s.answers[questionID] = payload
	s.dirty[questionID] = true
	s.scheduleSaveLocked()
	return nil
}

func (s *Session) indexOf(questionID string) int {
	for i, id := range s.questions {
		if id == questionID {
			return i
		}
	}
	return -1
}

func (s *Session) scheduleSaveLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = s.clock.AfterFunc(s.cfg.QuietPeriod, s.autosave)
}

func (s *Session) autosave() {
	if err := s.Flush(context.Background()); err != nil {
		s.log.WithError(err).Warn("autosave failed")
	}
}

// Flush persists pending answers and the integrity counter now. A failed
// flush keeps the answers pending and retries after another quiet period.
func (s *Session) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state == Finalized || (len(s.dirty) == 0 && s.savedTabs == s.tabSwitches) {
		s.mu.Unlock()
		return nil
	}
	batch := s.pendingLocked()
	tabs := s.tabSwitches
	tabsChanged := tabs != s.savedTabs
	s.saveStatus = SaveSaving
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	var (
		rep attempt.SaveReport
		err error
	)
	if len(batch) > 0 {
		rep, err = s.backend.SaveResponses(ctx, s.owner, s.attemptID, batch)
	}
	if err == nil && tabsChanged {
		err = s.backend.RecordIntegrity(ctx, s.owner, s.attemptID, tabs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.saveStatus = SaveError
		s.saveErr = err.Error()
		if s.state == InProgress {
			s.scheduleSaveLocked()
		}
		return err
	}
	for qid, v := range batch {
		if s.answers[qid] == v {
			delete(s.dirty, qid)
		}
	}
	s.savedTabs = tabs
	if len(batch) > 0 {
		s.rejected = rep.Rejected
	}
	s.saveErr = ""
	s.saveStatus = SaveSaved
	return nil
}

func (s *Session) pendingLocked() map[string]string {
	batch := make(map[string]string, len(s.dirty))
	for qid := range s.dirty {
		batch[qid] = s.answers[qid]
	}
	return batch
}

// Navigate moves to a question index and marks it visited.
func (s *Session) Navigate(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	if index < 0 || index >= len(s.questions) {
		return apperr.Invalid("question index %d out of range [0,%d)", index, len(s.questions))
	}
	s.current = index
	s.visited[index] = true
	return nil
}

// Flag toggles the flag on index, or on the current question when index is
// nil, and reports whether it is now flagged.
func (s *Session) Flag(index *int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return false, err
	}
	i := s.current
	if index != nil {
		i = *index
	}
	if i < 0 || i >= len(s.questions) {
		return false, apperr.Invalid("question index %d out of range [0,%d)", i, len(s.questions))
	}
	if s.flagged[i] {
		delete(s.flagged, i)
		return false, nil
	}
	s.flagged[i] = true
	return true, nil
}

// VisibilityLost counts a tab switch. Reaching the integrity limit forces
// a submission.
func (s *Session) VisibilityLost(ctx context.Context) (Status, error) {
	s.mu.Lock()
	if s.state == Finalized {
		s.mu.Unlock()
		return Status{}, apperr.Conflict("attempt already submitted")
	}
	if s.state != InProgress {
		st := s.statusLocked()
		s.mu.Unlock()
		return st, nil
	}
	s.tabSwitches++
	limit := s.cfg.IntegrityLimit
	breach := s.tabSwitches >= limit
	if breach {
		s.noticeLocked(NoticeForcedSubmit, "too many tab switches, the attempt is being submitted")
	} else {
		s.noticeLocked(NoticeIntegrityWarning,
			fmt.Sprintf("leaving the quiz window is recorded (%d of %d)", s.tabSwitches, limit))
		s.scheduleSaveLocked()
	}
	s.mu.Unlock()

	if breach {
		s.log.WithField("tab_switches", limit).Warn("integrity limit reached, submitting")
		if _, err := s.submit(ctx, attempt.ForcedIntegrity); err != nil {
			return s.Status(), err
		}
	}
	return s.Status(), nil
}

// CopyPaste records a suppressed clipboard event. It never affects scoring.
func (s *Session) CopyPaste(kind string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Finalized {
		return Status{}, apperr.Conflict("attempt already submitted")
	}
	s.copyPaste++
	s.noticeLocked(NoticeCopyPaste, kind+" is disabled during the quiz")
	return s.statusLocked(), nil
}

// Submit flushes every answer and finalizes the attempt. On failure a user
// submit returns the session to InProgress; a forced one stays Submitting.
// Either may be retried.
func (s *Session) Submit(ctx context.Context) (attempt.Attempt, error) {
	return s.submit(ctx, attempt.ForcedNone)
}

func (s *Session) submit(ctx context.Context, reason string) (attempt.Attempt, error) {
	s.mu.Lock()
	switch s.state {
	case Created:
		s.mu.Unlock()
		return attempt.Attempt{}, apperr.Conflict("session not started")
	case Finalized:
		a := *s.result
		s.mu.Unlock()
		return a, nil
	case InProgress:
		s.state = Submitting
		s.forced = reason
		s.stopTimersLocked()
	case Submitting:
		// retry keeps the original reason
	}
	reason = s.forced
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state == Finalized {
		a := *s.result
		s.mu.Unlock()
		return a, nil
	}
	batch := s.pendingLocked()
	tabs := s.tabSwitches
	s.saveStatus = SaveSaving
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	if len(batch) > 0 {
		// a closed attempt can still be finalized with what was saved
		if _, err := s.backend.SaveResponses(ctx, s.owner, s.attemptID, batch); err != nil && !errors.Is(err, apperr.ErrConflict) {
			return attempt.Attempt{}, s.submitFailed(reason, err)
		}
	}
	a, err := s.backend.End(ctx, s.owner, s.attemptID, attempt.EndOptions{TabSwitches: &tabs, Reason: reason})
	if err != nil {
		return attempt.Attempt{}, s.submitFailed(reason, err)
	}

	s.mu.Lock()
	s.state = Finalized
	s.result = &a
	s.dirty = map[string]bool{}
	s.savedTabs = tabs
	s.saveStatus = SaveSaved
	s.saveErr, s.submitErr = "", ""
	onFinal := s.onFinal
	s.mu.Unlock()

	s.log.WithField("forced", reason).Info("session finalized")
	if onFinal != nil {
		onFinal(s.attemptID)
	}
	return a, nil
}

func (s *Session) submitFailed(reason string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err.Error()
	s.saveStatus = SaveError
	s.saveErr = err.Error()
	if reason == attempt.ForcedNone && s.state == Submitting {
		s.state = InProgress
		if s.remaining > 0 {
			s.ticker = s.clock.AfterFunc(time.Second, s.tick)
		}
	}
	s.log.WithError(err).WithField("forced", reason).Warn("submit failed")
	return err
}

func (s *Session) stopTimersLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
}

// Close stops the timers without persisting anything.
func (s *Session) Close() {
	s.mu.Lock()
	s.stopTimersLocked()
	s.mu.Unlock()
}

type Status struct {
	AttemptID        string            `json:"attempt_id"`
	State            State             `json:"state"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Current          int               `json:"current"`
	Total            int               `json:"total"`
	Visited          []int             `json:"visited"`
	Flagged          []int             `json:"flagged"`
	Answered         int               `json:"answered"`
	Answers          map[string]string `json:"answers"`
	SaveStatus       SaveStatus        `json:"save_status"`
	SaveError        string            `json:"save_error,omitempty"`
	SubmitError      string            `json:"submit_error,omitempty"`
	Rejected         map[string]string `json:"rejected,omitempty"`
	TabSwitches      int               `json:"tab_switches"`
	CopyPasteBlocked int               `json:"copy_paste_blocked"`
	ForcedReason     string            `json:"forced_reason,omitempty"`
	Notices          []Notice          `json:"notices,omitempty"`
	Score            *float64          `json:"score,omitempty"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	answers := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	st := Status{
		AttemptID:        s.attemptID,
		State:            s.state,
		RemainingSeconds: s.remaining,
		Current:          s.current,
		Total:            len(s.questions),
		Visited:          keys(s.visited),
		Flagged:          keys(s.flagged),
		Answered:         len(s.answers),
		Answers:          answers,
		SaveStatus:       s.saveStatus,
		SaveError:        s.saveErr,
		SubmitError:      s.submitErr,
		Rejected:         s.rejected,
		TabSwitches:      s.tabSwitches,
		CopyPasteBlocked: s.copyPaste,
		ForcedReason:     s.forced,
		Notices:          append([]Notice(nil), s.notices...),
	}
	if s.result != nil {
		st.Score = s.result.Score
	}
	return st
}

func keys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// EncodeAnswer turns a decoded JSON answer into the stored payload: option
// IDs and text as is, booleans as "true"/"false", ID lists as a JSON array.
func EncodeAnswer(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", apperr.Invalid("answer is not valid JSON")
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case []any:
		ids := make([]string, 0, len(t))
		for _, e := range t {
			id, ok := e.(string)
			if !ok {
				return "", apperr.Invalid("answer list must contain option ids")
			}
			ids = append(ids, id)
		}
		buf, _ := json.Marshal(ids)
		return string(buf), nil
	default:
		return "", apperr.Invalid("unsupported answer shape")
	}
}
