package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/hubenschmidt/preboard/internal/audit"
	"github.com/hubenschmidt/preboard/internal/events"
	"github.com/hubenschmidt/preboard/internal/metrics"
	"github.com/hubenschmidt/preboard/internal/onboarding"
	"github.com/hubenschmidt/preboard/internal/pipeline"
	"github.com/hubenschmidt/preboard/internal/prompts"
	"github.com/hubenschmidt/preboard/internal/realtime"
	"github.com/hubenschmidt/preboard/internal/transcript"
)

const (
	defaultTurnTimeout       = 8 * time.Second
	defaultUploadHoldTimeout = 45 * time.Second
	commandBuffer            = 16
)

// ErrClosed is returned for commands sent to a finished session.
var ErrClosed = errors.New("onboarding session closed")

// Conversation is a live speech conversation for one session.
type Conversation interface {
	Events() <-chan realtime.Event
	SendUserAudio(pcm []byte) error
	CancelCurrentTurn() error
	InjectSystemContext(instructions, directive string) error
	Close() error
}

// OpenFunc opens a conversation that starts by speaking greeting.
type OpenFunc func(ctx context.Context, instructions, greeting string) (Conversation, error)

// Narrator is the turn-based voice path used without a live conversation.
type Narrator interface {
	Respond(ctx context.Context, instructions, directive string) (*pipeline.Reply, error)
	Speak(ctx context.Context, text string) (*pipeline.Reply, error)
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Publisher announces onboarding progress to other services.
type Publisher interface {
	StageChanged(ctx context.Context, msg events.StageChange) error
	Completed(ctx context.Context, msg events.Completion) error
}

// Config holds the collaborators and limits of one session.
type Config struct {
	SessionID         string
	CandidateName     string
	Open              OpenFunc
	Fallback          Narrator
	Publisher         Publisher
	Audit             *audit.Store
	TurnTimeout       time.Duration
	UploadHoldTimeout time.Duration
	Logger            *slog.Logger
}

// Outcome reports how a submitted verdict was applied.
type Outcome struct {
	Verdict  onboarding.Verdict `json:"verdict"`
	Stage    onboarding.Stage   `json:"stage"`
	Advanced bool               `json:"advanced"`
	Stale    bool               `json:"stale"`
}

type verdictCmd struct {
	category onboarding.Stage
	verdict  onboarding.Verdict
	reply    chan Outcome
}

type uploadingCmd struct{}

type commitAudioCmd struct {
	pcm []byte
}

type transportLostCmd struct {
	err error
}

type snapshotCmd struct {
	reply chan Snapshot
}

// Snapshot is a consistent copy of a session's state.
type Snapshot struct {
	ID            string                               `json:"id"`
	CandidateName string                               `json:"candidateName"`
	Stage         onboarding.Stage                     `json:"stage"`
	Fallback      bool                                 `json:"fallback"`
	Documents     map[string]onboarding.CategoryRecord `json:"documents"`
	StartedAt     time.Time                            `json:"startedAt"`
}

// Orchestrator runs one candidate's onboarding. A single actor goroutine
// owns the session state and processes commands in arrival order; a second
// goroutine pumps conversation events and never touches session state.
type Orchestrator struct {
	cfg  Config
	emit EventCallback
	log  *slog.Logger

	session    *onboarding.Session
	transcript *transcript.Log
	recorder   *audit.Recorder

	gate     gate
	micMu    sync.RWMutex
	fallback atomic.Bool
	stage    atomic.Value
	conv     Conversation
	narr     narration

	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan any
	pumpDone  chan struct{}
	actorDone chan struct{}
	started   atomic.Bool
	terminal  atomic.Bool
	closeOnce sync.Once

	// actor-owned
	hold    *time.Timer
	flushed bool
}

// New creates a session. Call Start before sending commands.
func New(cfg Config, emit EventCallback) *Orchestrator {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if cfg.UploadHoldTimeout <= 0 {
		cfg.UploadHoldTimeout = defaultUploadHoldTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:        cfg,
		emit:       emit,
		log:        logger.With("session_id", cfg.SessionID),
		session:    onboarding.NewSession(cfg.SessionID, cfg.CandidateName),
		transcript: transcript.New(cfg.SessionID),
		cmds:       make(chan any, commandBuffer),
		pumpDone:   make(chan struct{}),
		actorDone:  make(chan struct{}),
	}
	o.stage.Store(onboarding.StageIdentity)
	return o
}

func (o *Orchestrator) ID() string            { return o.cfg.SessionID }
func (o *Orchestrator) CandidateName() string { return o.cfg.CandidateName }
func (o *Orchestrator) Gate() GateState       { return o.gate.Load() }
func (o *Orchestrator) InFallback() bool      { return o.fallback.Load() }

// Stage is the session's current stage. Safe from any goroutine.
func (o *Orchestrator) Stage() onboarding.Stage {
	return o.stage.Load().(onboarding.Stage)
}

// Start opens the conversation and greets the candidate, falling back to
// the turn-based path when the conversation cannot be opened. It returns
// once the session accepts commands.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.started.Store(true)
	o.recorder = audit.NewRecorder(o.cfg.Audit, o.cfg.SessionID, o.cfg.CandidateName)
	o.log.Info("onboarding session started", "candidate", o.cfg.CandidateName)

	conv, err := o.open()
	if err != nil {
		close(o.pumpDone)
		o.switchToFallback("connect", err)
		o.speak(prompts.FallbackGreeting(o.cfg.CandidateName))
	} else {
		o.conv = conv
		o.emit(Event{Type: EventConnectionStatus, Status: StatusConnected})
		go o.pump(conv)
	}
	o.emitStage()
	go o.run()
}

func (o *Orchestrator) open() (Conversation, error) {
	if o.cfg.Open == nil {
		return nil, errors.New("realtime conversation not configured")
	}
	return o.cfg.Open(o.ctx, o.instructions(), prompts.Greeting(o.cfg.CandidateName))
}

// Close ends the session, flushing the transcript if completion did not.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		if !o.started.Load() {
			close(o.actorDone)
			return
		}
		o.cancel()
		<-o.actorDone
	})
}

// Done is closed once the session has shut down.
func (o *Orchestrator) Done() <-chan struct{} { return o.actorDone }

// Submit hands a verdict for category to the session and waits until it
// has been recorded. Narration continues after Submit returns.
func (o *Orchestrator) Submit(ctx context.Context, category onboarding.Stage, v onboarding.Verdict) (Outcome, error) {
	reply := make(chan Outcome, 1)
	if err := o.send(ctx, verdictCmd{category: category, verdict: v, reply: reply}); err != nil {
		return Outcome{}, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-o.actorDone:
		return Outcome{}, ErrClosed
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Snapshot copies the session state once queued commands before it have run.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := o.send(ctx, snapshotCmd{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-o.actorDone:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// DocumentUploading cancels the current turn ahead of a verdict.
func (o *Orchestrator) DocumentUploading(ctx context.Context) error {
	return o.send(ctx, uploadingCmd{})
}

// CommitAudio answers a whole recording on the turn-based path.
func (o *Orchestrator) CommitAudio(ctx context.Context, pcm []byte) error {
	return o.send(ctx, commitAudioCmd{pcm: pcm})
}

// SendAudio forwards a microphone frame unless the gate is closed. Frames
// are dropped, never queued.
func (o *Orchestrator) SendAudio(pcm []byte) {
	o.micMu.RLock()
	defer o.micMu.RUnlock()
	if o.conv == nil || o.fallback.Load() || o.gate.Busy() {
		metrics.MicFramesDropped.Inc()
		return
	}
	if err := o.conv.SendUserAudio(pcm); err != nil {
		o.log.Debug("send user audio", "error", err)
	}
}

func (o *Orchestrator) send(ctx context.Context, cmd any) error {
	if !o.started.Load() {
		return ErrClosed
	}
	select {
	case o.cmds <- cmd:
		return nil
	case <-o.actorDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run() {
	defer close(o.actorDone)
	defer o.shutdown()
	for {
		var holdC <-chan time.Time
		if o.hold != nil {
			holdC = o.hold.C
		}
		select {
		case <-o.ctx.Done():
			return
		case <-holdC:
			o.hold = nil
			o.log.Warn("no verdict after upload notice, reopening conversation", "timeout", o.cfg.UploadHoldTimeout)
			o.enter(Idle)
		case cmd := <-o.cmds:
			o.handle(cmd)
		}
	}
}

func (o *Orchestrator) handle(cmd any) {
	switch c := cmd.(type) {
	case verdictCmd:
		out := o.record(c.category, c.verdict)
		c.reply <- out
		if !out.Stale {
			o.narrate(directive(c.category, o.cfg.CandidateName, out.Verdict))
			if out.Stage == onboarding.StageComplete {
				o.complete()
			}
		}
	case uploadingCmd:
		o.holdForUpload()
	case commitAudioCmd:
		o.answerRecording(c.pcm)
	case transportLostCmd:
		o.switchToFallback("dropped", c.err)
	case snapshotCmd:
		c.reply <- Snapshot{
			ID:            o.session.ID,
			CandidateName: o.session.CandidateName,
			Stage:         o.session.Stage,
			Fallback:      o.fallback.Load(),
			Documents:     o.session.Knowledge.Snapshot(),
			StartedAt:     o.session.StartedAt,
		}
	}
}

// record applies a verdict to the session state. Verdicts for any category
// other than the current stage are stale and change nothing.
func (o *Orchestrator) record(category onboarding.Stage, v onboarding.Verdict) Outcome {
	held := o.stopHold()
	current := o.session.Stage

	if category != current {
		return o.discard(category, v, held, "stage mismatch")
	}

	v = onboarding.EnforceNamePolicy(v, o.session.CandidateName)
	v, err := o.session.Knowledge.Record(category, v)
	if err != nil {
		return o.discard(category, v, held, err.Error())
	}
	o.recorder.Verdict(category, v, false)
	metrics.Verdicts.WithLabelValues(string(category), verdictOutcome(v)).Inc()

	out := Outcome{Verdict: v, Stage: current}
	if v.Passed() {
		out.Stage = o.session.Advance()
		out.Advanced = true
		o.stage.Store(out.Stage)
		metrics.StageTransitions.WithLabelValues(string(out.Stage)).Inc()
	}

	o.log.Info("verdict recorded",
		"category", category,
		"attempt", v.AttemptNumber,
		"valid", v.IsValid,
		"name_match", v.NameMatch,
		"confidence", v.Confidence,
		"stage", out.Stage,
	)
	o.publishStage(category, v, out.Stage)
	o.emitStage()
	return out
}

func (o *Orchestrator) discard(category onboarding.Stage, v onboarding.Verdict, held bool, reason string) Outcome {
	metrics.StaleVerdicts.Inc()
	o.log.Warn("stale verdict discarded",
		"category", category,
		"stage", o.session.Stage,
		"reason", reason,
	)
	o.recorder.Verdict(category, v, true)
	if held {
		o.enter(Idle)
	}
	o.emitStage()
	return Outcome{Verdict: v, Stage: o.session.Stage, Stale: true}
}

func verdictOutcome(v onboarding.Verdict) string {
	switch {
	case v.Passed():
		return "passed"
	case v.IsTechnicalFailure():
		return "technical_error"
	case !v.NameMatch:
		return "name_mismatch"
	default:
		return "failed"
	}
}

// narrate speaks directive with freshly rebuilt instructions. The gate is
// closed for the whole cancel/inject/await sequence.
func (o *Orchestrator) narrate(directive string) {
	start := time.Now()
	defer func() {
		metrics.NarrationDuration.Observe(time.Since(start).Seconds())
	}()

	o.enter(Cancelling)
	defer o.enter(Idle)

	instructions := o.instructions()
	if o.fallback.Load() {
		o.enter(Narrating)
		o.respond(instructions, directive)
		return
	}

	if err := o.conv.CancelCurrentTurn(); err != nil {
		o.log.Warn("cancel current turn", "error", err)
	}
	done := o.narr.arm()
	o.enter(Narrating)

	if err := o.conv.InjectSystemContext(instructions, directive); err != nil {
		o.narr.take()
		o.switchToFallback("inject", err)
		o.respond(instructions, directive)
		return
	}

	lost := o.awaitTurn(done)
	text, pcm := o.narr.take()
	o.deliver(text, pcm, "pcm16")
	if lost {
		o.switchToFallback("dropped", nil)
		if text == "" {
			o.respond(instructions, directive)
		}
	}
}

// awaitTurn waits for the narration to finish, bounded by TurnTimeout. It
// reports whether the conversation was lost meanwhile.
func (o *Orchestrator) awaitTurn(done <-chan struct{}) bool {
	timer := time.NewTimer(o.cfg.TurnTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return false
	case <-o.pumpDone:
		return true
	case <-timer.C:
		metrics.TurnTimeouts.Inc()
		o.log.Warn("narration turn did not complete", "timeout", o.cfg.TurnTimeout)
		return false
	case <-o.ctx.Done():
		return false
	}
}

func (o *Orchestrator) holdForUpload() {
	if o.terminal.Load() {
		return
	}
	o.enter(Cancelling)
	if !o.fallback.Load() {
		if err := o.conv.CancelCurrentTurn(); err != nil {
			o.log.Warn("cancel current turn", "error", err)
		}
	}
	o.transcript.Append(transcript.Agent, prompts.AnalyzingDocument)
	o.emit(Event{Type: EventAgentMessage, Content: prompts.AnalyzingDocument})

	o.stopHold()
	o.hold = time.NewTimer(o.cfg.UploadHoldTimeout)
}

func (o *Orchestrator) stopHold() bool {
	if o.hold == nil {
		return false
	}
	o.hold.Stop()
	o.hold = nil
	return true
}

// answerRecording transcribes a whole user recording and replies to it on
// the turn-based path.
func (o *Orchestrator) answerRecording(pcm []byte) {
	if !o.fallback.Load() || o.cfg.Fallback == nil {
		o.log.Debug("audio commit ignored outside fallback mode")
		return
	}
	if o.gate.Busy() {
		metrics.MicFramesDropped.Inc()
		return
	}

	text, err := o.cfg.Fallback.Transcribe(o.ctx, pcm)
	if err != nil {
		metrics.Errors.WithLabelValues("fallback", "transcribe").Inc()
		o.log.Warn("transcribe recording", "error", err)
		o.emit(Event{Type: EventError, Content: "Sorry, I could not hear that. Please try again."})
		return
	}
	if text == "" {
		return
	}
	o.userSaid(text)

	o.enter(Narrating)
	defer o.enter(Idle)
	o.respond(o.instructions(), text)
}

// respond produces one turn through the fallback narrator.
func (o *Orchestrator) respond(instructions, directive string) {
	if o.cfg.Fallback == nil {
		o.emit(Event{Type: EventError, Content: "The voice assistant is unavailable. You can keep uploading your documents."})
		return
	}
	reply, err := o.cfg.Fallback.Respond(o.ctx, instructions, directive)
	if err != nil {
		metrics.Errors.WithLabelValues("fallback", "respond").Inc()
		o.log.Warn("fallback response", "error", err)
		o.emit(Event{Type: EventError, Content: "The voice assistant is unavailable. You can keep uploading your documents."})
		return
	}
	o.deliver(reply.Text, reply.Audio, reply.Format)
}

// speak says fixed text through the fallback narrator, or as text only.
func (o *Orchestrator) speak(text string) {
	if o.cfg.Fallback == nil {
		o.deliver(text, nil, "")
		return
	}
	reply, err := o.cfg.Fallback.Speak(o.ctx, text)
	if err != nil {
		o.log.Warn("fallback speech", "error", err)
		o.deliver(text, nil, "")
		return
	}
	o.deliver(reply.Text, reply.Audio, reply.Format)
}

// deliver commits one agent turn as a single message and audio payload.
func (o *Orchestrator) deliver(text string, audio []byte, format string) {
	if text != "" {
		o.transcript.Append(transcript.Agent, text)
		o.emit(Event{Type: EventAgentMessage, Content: text})
	}
	if len(audio) > 0 {
		o.emit(Event{
			Type:   EventAudioComplete,
			Audio:  base64.StdEncoding.EncodeToString(audio),
			Format: format,
		})
	}
}

func (o *Orchestrator) switchToFallback(reason string, err error) {
	if !o.fallback.CompareAndSwap(false, true) {
		return
	}
	metrics.FallbackActivations.WithLabelValues(reason).Inc()
	o.log.Warn("realtime conversation unavailable, using fallback voice", "reason", reason, "error", err)
	if o.conv != nil {
		o.conv.Close()
	}
	o.emit(Event{Type: EventConnectionStatus, Status: StatusFallback})
}

// enter moves the gate. Closing it waits for in-flight microphone sends and
// relayed deltas so nothing is forwarded once the gate reads busy.
func (o *Orchestrator) enter(s GateState) {
	if s != Idle {
		o.micMu.Lock()
		defer o.micMu.Unlock()
	}
	o.gate.Store(s)
}

func (o *Orchestrator) complete() {
	o.terminal.Store(true)
	metrics.SessionsCompleted.Inc()
	o.emit(Event{Type: EventComplete})
	o.log.Info("onboarding complete", "elapsed", time.Since(o.session.StartedAt))

	if o.cfg.Publisher != nil {
		err := o.cfg.Publisher.Completed(o.ctx, events.Completion{
			SessionID:     o.cfg.SessionID,
			CandidateName: o.cfg.CandidateName,
			Documents:     o.session.Knowledge.Snapshot(),
			StartedAt:     o.session.StartedAt,
			CompletedAt:   time.Now().UTC(),
		})
		if err != nil {
			o.log.Warn("publish completion", "error", err)
		}
	}
	o.flush()
}

func (o *Orchestrator) publishStage(category onboarding.Stage, v onboarding.Verdict, stage onboarding.Stage) {
	if o.cfg.Publisher == nil {
		return
	}
	err := o.cfg.Publisher.StageChanged(o.ctx, events.StageChange{
		SessionID:  o.cfg.SessionID,
		Category:   category,
		Attempt:    v.AttemptNumber,
		Passed:     v.Passed(),
		NameMatch:  v.NameMatch,
		Confidence: v.Confidence,
		Stage:      stage,
		At:         v.Timestamp,
	})
	if err != nil {
		o.log.Warn("publish stage change", "error", err)
	}
}

// flush dumps the transcript and attempt history once.
func (o *Orchestrator) flush() {
	if o.flushed {
		return
	}
	o.flushed = true
	rec := o.transcript.Flush(o.log, o.session.Knowledge.Summary())
	mode := "realtime"
	if o.fallback.Load() {
		mode = "fallback"
	}
	o.recorder.End(audit.Ending{
		FinalStage: string(o.session.Stage),
		Completed:  o.session.Stage == onboarding.StageComplete,
		Mode:       mode,
		Record:     rec,
	})
}

func (o *Orchestrator) shutdown() {
	o.stopHold()
	if o.conv != nil {
		o.conv.Close()
	}
	<-o.pumpDone
	if o.flushed && o.transcript.Len() > 0 {
		o.transcript.Flush(o.log, o.session.Knowledge.Summary())
	}
	o.flush()
	o.recorder.Close()
	o.log.Info("onboarding session ended", "stage", o.session.Stage)
}

func (o *Orchestrator) instructions() string {
	return BuildInstructions(o.cfg.CandidateName, o.session.Stage, o.session.Knowledge)
}

func (o *Orchestrator) emitStage() {
	o.emit(Event{Type: EventStageUpdate, Step: string(o.session.Stage)})
}

// pump relays conversation events until the stream closes.
func (o *Orchestrator) pump(conv Conversation) {
	defer close(o.pumpDone)
	var cause error
	for ev := range conv.Events() {
		if c, ok := ev.(realtime.Closed); ok {
			cause = c.Err
			break
		}
		o.dispatch(ev)
	}
	if o.ctx.Err() != nil {
		return
	}
	select {
	case o.cmds <- transportLostCmd{err: cause}:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) dispatch(ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.Ready:
	case realtime.ResponseStarted:
		o.narr.claim(e.ResponseID, e.Tag)
	case realtime.TextDelta:
		if o.relay(Event{Type: EventTranscriptDelta, Delta: e.Delta}) {
			return
		}
		if !o.narr.appendText(e.ResponseID, e.Delta) {
			metrics.DeltasSuppressed.WithLabelValues("text").Inc()
		}
	case realtime.AudioDelta:
		if o.relay(Event{Type: EventAudioDelta, Delta: e.Audio}) {
			return
		}
		if !o.narr.appendAudio(e.ResponseID, e.Audio) {
			metrics.DeltasSuppressed.WithLabelValues("audio").Inc()
		}
	case realtime.TurnDone:
		if o.narr.finish(e.ResponseID, e.Text) {
			return
		}
		if e.Status != "completed" || e.Text == "" {
			return
		}
		if o.relay(Event{Type: EventAgentMessage, Content: e.Text}) {
			o.transcript.Append(transcript.Agent, e.Text)
		}
	case realtime.UserTranscript:
		o.userSaid(e.Text)
	case realtime.Error:
		metrics.Errors.WithLabelValues("realtime", "remote").Inc()
		o.log.Warn("realtime error", "code", e.Code, "message", e.Message)
	}
}

// relay forwards ev while the gate is open. The gate cannot close between
// the check and the emit.
func (o *Orchestrator) relay(ev Event) bool {
	o.micMu.RLock()
	defer o.micMu.RUnlock()
	if o.gate.Busy() {
		return false
	}
	o.emit(ev)
	return true
}

func (o *Orchestrator) userSaid(text string) {
	if text == "" {
		return
	}
	o.transcript.Append(transcript.User, text)
	o.emit(Event{Type: EventUserTranscript, Content: text})
	if !o.gate.Busy() && !o.terminal.Load() && wantsUpload(text) {
		o.emit(Event{Type: EventTriggerUpload})
	}
}

// wantsUpload reports whether an utterance asks to upload now.
func wantsUpload(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		switch {
		case strings.HasPrefix(w, "upload"), w == "ready", w == "yes", w == "start":
			return true
		}
	}
	return false
}
