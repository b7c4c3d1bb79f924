package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/verification"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultCopiedFor    = 2 * time.Second
)

var (
	ErrClosed        = errors.New("widget closed")
	ErrCodeRequested = errors.New("a code was already requested")
	ErrNoCode        = errors.New("no code to copy")
)

type ParticipantState int

const (
	StateLoading ParticipantState = iota
	StateIdle
	StateHasCode
	StateVerified
)

func (s ParticipantState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateIdle:
		return "idle"
	case StateHasCode:
		return "has_code"
	case StateVerified:
		return "verified"
	}
	return "unknown"
}

type (
	// ParticipantAPI is the part of the API the participant widget needs; *Client implements it.
	ParticipantAPI interface {
		RequestCode(ctx context.Context, key verification.LevelKey) (CodeResponse, error)
		PollStatus(ctx context.Context, key verification.LevelKey) (*verification.Request, error)
	}

	// Subscriber pushes the events of a request; *Client implements it.
	Subscriber interface {
		Subscribe(ctx context.Context, requestID string) (<-chan verification.Event, error)
	}

	ParticipantOptions struct {
		API ParticipantAPI
		// Subscriber is optional: without it the widget only polls.
		Subscriber   Subscriber
		Key          verification.LevelKey
		PollInterval time.Duration
		CopiedFor    time.Duration
		// Clipboard receives the formatted code on Copy. Optional.
		Clipboard func(code string) error
		// OnVerified is invoked once, from the event loop, when the level is verified. It must not call Close.
		OnVerified func(key verification.LevelKey)
		Logger     core.Logger
	}

	// ParticipantSnapshot is what the participant sees.
	ParticipantSnapshot struct {
		State      ParticipantState
		RequestID  string
		Code       string
		Display    string // XXX-XXX
		Requesting bool
		Copied     bool
		Err        string
	}
)

// widget events, all reduced by the event loop
type (
	pollResult struct {
		req *verification.Request
		err error
	}

	requestResult struct {
		res CodeResponse
		err error
	}

	pushEvent struct {
		evt verification.Event
	}

	requestCmd struct{ reply chan error }

	copyCmd struct{ reply chan error }
)

// ParticipantWidget shows a participant the code of a level & waits for a facilitator to verify it.
// The poll loop & the optional push subscription feed one event loop: whichever sees the
// verification first wins, the other is a no-op.
type ParticipantWidget struct {
	opts ParticipantOptions

	ctx    context.Context
	cancel context.CancelFunc
	events chan interface{}
	cmds   chan interface{}
	wg     sync.WaitGroup
	done   chan struct{}

	mu   sync.RWMutex
	snap ParticipantSnapshot
}

// NewParticipantWidget mounts the widget: it loads the status of the level and starts polling.
// Close (or cancelling ctx) unmounts it.
func NewParticipantWidget(ctx context.Context, opts ParticipantOptions) *ParticipantWidget {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.CopiedFor <= 0 {
		opts.CopiedFor = DefaultCopiedFor
	}
	if opts.Logger == nil {
		opts.Logger = core.NopLogger{}
	}

	w := &ParticipantWidget{
		opts:   opts,
		events: make(chan interface{}),
		cmds:   make(chan interface{}),
		done:   make(chan struct{}),
		snap:   ParticipantSnapshot{State: StateLoading},
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.poll()
	go w.loop()
	return w
}

func (w *ParticipantWidget) Snapshot() ParticipantSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snap
}

// RequestCode asks for a code; the result shows up in the snapshot.
func (w *ParticipantWidget) RequestCode() error {
	return w.send(requestCmd{reply: make(chan error, 1)})
}

// Copy puts the formatted code in the clipboard & raises the copied flag for a while.
func (w *ParticipantWidget) Copy() error {
	return w.send(copyCmd{reply: make(chan error, 1)})
}

func (w *ParticipantWidget) send(cmd interface{}) error {
	var reply chan error
	switch c := cmd.(type) {
	case requestCmd:
		reply = c.reply
	case copyCmd:
		reply = c.reply
	}
	select {
	case w.cmds <- cmd:
	case <-w.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-w.done:
		return ErrClosed
	}
}

// Close unmounts the widget: polling & push stop, in-flight results are dropped.
func (w *ParticipantWidget) Close() {
	w.cancel()
	<-w.done
	w.wg.Wait()
}

// Done is closed once the widget is unmounted.
func (w *ParticipantWidget) Done() <-chan struct{} { return w.done }

// spawn runs fn in the background and hands its result to the event loop, unless the widget is gone.
func (w *ParticipantWidget) spawn(fn func(ctx context.Context) interface{}) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		evt := fn(w.ctx)
		if evt == nil {
			return
		}
		select {
		case w.events <- evt:
		case <-w.ctx.Done():
		}
	}()
}

func (w *ParticipantWidget) poll() {
	w.spawn(func(ctx context.Context) interface{} {
		req, err := w.opts.API.PollStatus(ctx, w.opts.Key)
		return pollResult{req: req, err: err}
	})
}

func (w *ParticipantWidget) subscribe(ctx context.Context, requestID string) {
	if w.opts.Subscriber == nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		events, err := w.opts.Subscriber.Subscribe(ctx, requestID)
		if err != nil {
			// polling still converges
			w.opts.Logger.Warn("subscribing to verification events", errors.Wrap(err, "subscribing"))
			return
		}
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case w.events <- pushEvent{evt: evt}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (w *ParticipantWidget) update(fn func(s *ParticipantSnapshot)) {
	w.mu.Lock()
	fn(&w.snap)
	w.mu.Unlock()
}

func (w *ParticipantWidget) loop() {
	defer close(w.done)

	var (
		ticker      *time.Ticker
		tickC       <-chan time.Time
		copiedTimer *time.Timer
		copiedC     <-chan time.Time
		polling     = true // the initial load
		pushCancel  context.CancelFunc
	)
	stopPolling := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
	}
	stopCopied := func() {
		if copiedTimer != nil {
			copiedTimer.Stop()
			copiedTimer, copiedC = nil, nil
		}
	}
	stopPush := func() {
		if pushCancel != nil {
			pushCancel()
			pushCancel = nil
		}
	}
	defer func() {
		stopPolling()
		stopCopied()
		stopPush()
	}()

	hasCode := func(id, code string) {
		w.update(func(s *ParticipantSnapshot) {
			s.State = StateHasCode
			s.RequestID = id
			s.Code = code
			s.Display = verification.FormatCode(code)
			s.Err = ""
		})
		if ticker == nil {
			ticker = time.NewTicker(w.opts.PollInterval)
			tickC = ticker.C
		}
		if pushCancel == nil {
			var pushCtx context.Context
			pushCtx, pushCancel = context.WithCancel(w.ctx)
			w.subscribe(pushCtx, id)
		}
	}

	// markVerified is the only way into the terminal state; it is a no-op once there.
	markVerified := func(id string) {
		if w.Snapshot().State == StateVerified {
			return
		}
		stopPolling()
		stopPush()
		w.update(func(s *ParticipantSnapshot) {
			s.State = StateVerified
			if id != "" {
				s.RequestID = id
			}
			s.Requesting = false
			s.Err = ""
		})
		if w.opts.OnVerified != nil {
			w.opts.OnVerified(w.opts.Key)
		}
	}

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-tickC:
			if !polling {
				polling = true
				w.poll()
			}

		case <-copiedC:
			copiedTimer, copiedC = nil, nil
			w.update(func(s *ParticipantSnapshot) { s.Copied = false })

		case cmd := <-w.cmds:
			switch c := cmd.(type) {
			case requestCmd:
				snap := w.Snapshot()
				switch {
				case snap.State != StateIdle:
					c.reply <- ErrCodeRequested
				case snap.Requesting:
					c.reply <- ErrCodeRequested
				default:
					w.update(func(s *ParticipantSnapshot) {
						s.Requesting = true
						s.Err = ""
					})
					w.spawn(func(ctx context.Context) interface{} {
						res, err := w.opts.API.RequestCode(ctx, w.opts.Key)
						return requestResult{res: res, err: err}
					})
					c.reply <- nil
				}
			case copyCmd:
				snap := w.Snapshot()
				if snap.Code == "" || snap.State == StateVerified {
					c.reply <- ErrNoCode
					break
				}
				if w.opts.Clipboard != nil {
					if err := w.opts.Clipboard(snap.Display); err != nil {
						c.reply <- errors.Wrap(err, "copying code")
						break
					}
				}
				stopCopied()
				copiedTimer = time.NewTimer(w.opts.CopiedFor)
				copiedC = copiedTimer.C
				w.update(func(s *ParticipantSnapshot) { s.Copied = true })
				c.reply <- nil
			}

		case evt := <-w.events:
			switch e := evt.(type) {
			case pollResult:
				polling = false
				state := w.Snapshot().State
				if state == StateVerified {
					break
				}
				if e.err != nil {
					w.opts.Logger.Warn("polling verification status", errors.Wrap(e.err, "polling"))
					if state == StateLoading {
						w.update(func(s *ParticipantSnapshot) {
							s.State = StateIdle
							s.Err = e.err.Error()
						})
					}
					break
				}
				switch {
				case e.req == nil:
					if state == StateLoading {
						w.update(func(s *ParticipantSnapshot) { s.State = StateIdle })
					}
				case e.req.IsVerified():
					markVerified(e.req.ID)
				default:
					hasCode(e.req.ID, e.req.Code)
				}

			case requestResult:
				w.update(func(s *ParticipantSnapshot) { s.Requesting = false })
				if w.Snapshot().State != StateIdle {
					break
				}
				if e.err != nil {
					w.update(func(s *ParticipantSnapshot) { s.Err = e.err.Error() })
					break
				}
				hasCode(e.res.ID, e.res.Code)
				// the latest request may have been verified already
				if !polling {
					polling = true
					w.poll()
				}

			case pushEvent:
				if e.evt.Status == verification.StatusVerified && e.evt.RequestID == w.Snapshot().RequestID {
					markVerified(e.evt.RequestID)
				}
			}
		}
	}
}
