package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/breathlab/internal/fusion"
	"github.com/user/breathlab/internal/metrics"
	"github.com/user/breathlab/internal/nback"
	"github.com/user/breathlab/internal/notify"
	"github.com/user/breathlab/internal/respiration"
	"github.com/user/breathlab/internal/sensor"
	"github.com/user/breathlab/internal/types"
)

// run is one session. mu guards the engine and the bookkeeping fields.
// Notifications are collected under mu and handed over to sendMu before mu
// is released, so listeners see batches in the order the engine produced
// them. Listeners must not call back into the Runner.
type run struct {
	runner *Runner
	id     types.SessionID
	info   Info

	sendMu      sync.Mutex
	mu          sync.Mutex
	engine      *nback.Engine
	lastState   nback.State
	lastPres    types.PresentationID
	recording   bool
	warnings    []string
	status      string
	window      *respiration.Window
	fusion      *fusion.Loop
	eye, breath Sensor
	cancel      context.CancelFunc
	cancelTick  func()
	stopOnce    sync.Once
	stopped     chan struct{}
	done        chan struct{}
	result      *Result
	err         error
}

func (rn *run) note(kind string, payload any) notify.Notification {
	return notify.Notification{Kind: kind, SessionID: rn.id, At: time.Now(), Payload: payload}
}

// publishLocked releases mu and delivers ns ahead of any later batch.
// Caller holds mu.
func (rn *run) publishLocked(ns []notify.Notification) {
	rn.sendMu.Lock()
	rn.mu.Unlock()
	defer rn.sendMu.Unlock()
	rn.runner.emit(ns)
}

// observe diffs the engine against the last observed state and returns the
// notifications describing the change. Caller holds mu.
func (rn *run) observe(resp *nback.Response) []notify.Notification {
	var ns []notify.Notification
	if resp != nil {
		metrics.IncResponse(string(resp.Outcome), string(resp.Reaction.Kind))
		ns = append(ns, rn.note(notify.KindResponse, *resp))
	}
	if st := rn.engine.State(); st != rn.lastState {
		ns = append(ns, rn.note(notify.KindState, StateEvent{From: rn.lastState, To: st}))
		slog.Info("session state", "session_id", rn.id, "from", rn.lastState, "to", st)
		rn.lastState = st
	}
	if stim, pres, ok := rn.engine.Current(); ok && pres != rn.lastPres && rn.engine.State() != nback.StateStop {
		rn.lastPres = pres
		ns = append(ns, rn.note(notify.KindPresentation, PresentationEvent{
			Stimulus:     stim,
			Presentation: pres,
			Scored:       rn.engine.State() == nback.StateRunning,
		}))
	}
	if on := rn.engine.Recording(); on != rn.recording {
		rn.recording = on
		if err := rn.fusion.SetRecording(context.Background(), on); err != nil {
			slog.Warn("fusion recording toggle failed", "session_id", rn.id, "error", err)
		}
	}
	return ns
}

func (rn *run) warn(msg string, ns ...notify.Notification) {
	slog.Warn("session warning", "session_id", rn.id, "warning", msg)
	rn.mu.Lock()
	rn.warnings = append(rn.warnings, msg)
	rn.publishLocked(append(ns, rn.note(notify.KindWarning, msg)))
}

// send delivers notifications that do not depend on engine state.
func (rn *run) send(ns ...notify.Notification) {
	rn.mu.Lock()
	rn.publishLocked(ns)
}

func (rn *run) tick() {
	rn.mu.Lock()
	ended := rn.engine.Tick()
	rn.publishLocked(rn.observe(nil))
	if ended {
		rn.signalStop(types.StatusFinished)
	}
}

func (rn *run) elapse(d time.Duration) {
	rn.mu.Lock()
	if rn.engine.State() == nback.StateStop {
		rn.mu.Unlock()
		return
	}
	resp, ok := rn.engine.Elapse(d)
	var scored *nback.Response
	if ok {
		scored = &resp
	}
	rn.publishLocked(rn.observe(scored))
}

func (rn *run) abort() {
	rn.mu.Lock()
	rn.engine.Abort()
	rn.publishLocked(rn.observe(nil))
	rn.signalStop(types.StatusAborted)
}

func (rn *run) signalStop(status string) {
	rn.stopOnce.Do(func() {
		rn.mu.Lock()
		rn.status = status
		rn.mu.Unlock()
		close(rn.stopped)
	})
}

func (rn *run) windowLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rn.stopped:
			return
		case now := <-ticker.C:
			rn.elapse(now.Sub(last))
			last = now
		}
	}
}

func (rn *run) onEye(ev sensor.Event) {
	switch ev.Kind {
	case sensor.KindData:
		if err := rn.fusion.Pupil(ev.Value); err != nil {
			slog.Debug("pupil sample dropped", "session_id", rn.id, "error", err)
		}
	case sensor.KindMessage:
		rn.send(rn.note(notify.KindSensorMessage, ev))
	case sensor.KindError:
		rn.warn(fmt.Sprintf("%s sensor error: %s", ev.Source, ev.Text), rn.note(notify.KindSensorError, ev))
	}
}

// onBreath runs on the breath reader goroutine, the only user of window.
func (rn *run) onBreath(ev sensor.Event) {
	switch ev.Kind {
	case sensor.KindData:
		if err := rn.fusion.Rate(rn.window.Add(ev.Value)); err != nil {
			slog.Debug("rate event dropped", "session_id", rn.id, "error", err)
		}
	case sensor.KindMessage:
		rn.send(rn.note(notify.KindSensorMessage, ev))
	case sensor.KindError:
		rn.warn(fmt.Sprintf("%s sensor error: %s", ev.Source, ev.Text), rn.note(notify.KindSensorError, ev))
	}
}

// supervise waits for the session to stop, tears everything down and
// finalizes the result.
func (rn *run) supervise(ctx context.Context, g *errgroup.Group) {
	select {
	case <-rn.stopped:
	case <-ctx.Done():
		rn.abort()
	}

	rn.cancelTick()
	rn.cancel()
	_ = g.Wait()

	rn.eye.Stop()
	rn.breath.Stop()
	<-rn.eye.Done()
	<-rn.breath.Done()
	// the breath reader has exited, so the window has no other user
	rn.window.Reset()

	snap, err := rn.fusion.Snapshot(context.Background())
	if err != nil {
		slog.Error("fusion snapshot failed", "session_id", rn.id, "error", err)
	}
	if err := rn.fusion.Reset(context.Background()); err != nil {
		slog.Debug("fusion reset failed", "session_id", rn.id, "error", err)
	}
	rn.fusion.Stop()

	res := rn.finalize(snap)
	if sink := rn.runner.sink; sink != nil {
		if err := sink.Close(context.Background(), res); err != nil {
			slog.Error("close session failed", "session_id", rn.id, "error", err)
			rn.err = fmt.Errorf("close session: %w", err)
		}
	}

	metrics.SessionEnded()
	metrics.RecordSessionEnd(res.Level.String(), res.Status, len(res.Warnings))
	slog.Info("session ended", "session_id", rn.id, "status", res.Status,
		"responses", len(res.Responses), "records", len(res.CollectedData), "warnings", len(res.Warnings))

	rn.mu.Lock()
	rn.result = res
	rn.publishLocked([]notify.Notification{rn.note(notify.KindFinished, res.Info())})
	rn.runner.slot.Release(1)
	close(rn.done)
}

func (rn *run) finalize(snap fusion.Snapshot) *Result {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	res := &Result{
		SessionID:     rn.id,
		Participant:   rn.info.Participant,
		Level:         rn.info.Level,
		Trial:         rn.info.Trial,
		Status:        rn.status,
		StartedAt:     rn.info.StartedAt,
		EndedAt:       time.Now(),
		Responses:     rn.engine.Responses(),
		CollectedData: snap.Records,
		SerialData:    snap.Serial,
	}
	if res.CollectedData == nil {
		res.CollectedData = []fusion.Record{}
	}
	if rate, ok := nback.CorrectRate(res.Responses); ok {
		res.CorrectRate = &rate
	}
	if !res.Trial && res.SerialData.Empty() {
		rn.warnings = append(rn.warnings, ErrNoPhysiologicalData.Error())
	}
	res.Warnings = append([]string(nil), rn.warnings...)
	return res
}
