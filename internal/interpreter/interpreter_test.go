package interpreter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/ambientd/internal/ambient"
	"github.com/dokzlo13/ambientd/internal/canbus"
	"github.com/dokzlo13/ambientd/internal/color"
	"github.com/dokzlo13/ambientd/internal/command"
)

var startup = color.RGB(100, 100, 100)

type recordingObserver struct {
	mu       sync.Mutex
	frames   int
	edges    []Edge
	enqueued []string
	dropped  []string
	failures int
}

func (o *recordingObserver) FrameReceived(canbus.Frame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames++
}

func (o *recordingObserver) EdgeDetected(e Edge, _ canbus.Frame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.edges = append(o.edges, e)
}

func (o *recordingObserver) CommandEnqueued(channel string, _ *command.Command) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enqueued = append(o.enqueued, channel)
}

func (o *recordingObserver) CommandDropped(channel string, _ *command.Command, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, channel)
}

func (o *recordingObserver) ReceiveFailed(error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

type fixture struct {
	interp    *Interpreter
	dashboard *command.Queue
	door      *command.Queue
	register  *ambient.Register
	observer  *recordingObserver
}

func newFixture() *fixture {
	f := &fixture{
		dashboard: command.NewQueue("dashboard"),
		door:      command.NewQueue("door"),
		register:  ambient.New(startup),
		observer:  &recordingObserver{},
	}
	f.interp = New(f.dashboard, f.door, f.register, WithObserver(f.observer))
	return f
}

func (f *fixture) feed(t *testing.T, frames ...canbus.Frame) {
	t.Helper()
	for _, fr := range frames {
		f.interp.HandleFrame(context.Background(), fr)
	}
}

func (f *fixture) drain() (dashboard, door []*command.Command) {
	for c := f.dashboard.TryReceive(); c != nil; c = f.dashboard.TryReceive() {
		dashboard = append(dashboard, c)
	}
	for c := f.door.TryReceive(); c != nil; c = f.door.TryReceive() {
		door = append(door, c)
	}
	return dashboard, door
}

func display(status byte) canbus.Frame {
	fr := canbus.Frame{ID: DisplayID, Length: 8}
	fr.Data[DisplayStatusByte] = status
	return fr
}

func lights(turnSignals, ambientByte byte) canbus.Frame {
	fr := canbus.Frame{ID: LightsID, Length: 8}
	fr.Data[TurnSignalByte] = turnSignals
	fr.Data[AmbientByte] = ambientByte
	return fr
}

func assertFadeTo(t *testing.T, cmds []*command.Command, want color.Color) {
	t.Helper()
	if len(cmds) != 1 {
		t.Fatalf("got %d commands, want 1", len(cmds))
	}
	a, ok := cmds[0].Action.(command.FadeTo)
	if !ok {
		t.Fatalf("action = %T, want FadeTo", cmds[0].Action)
	}
	if a.Color != want {
		t.Errorf("FadeTo color = %v, want %v", a.Color, want)
	}
	if a.Steps != command.DefaultFadeSteps || a.Delay != command.DefaultFadeDelay {
		t.Errorf("FadeTo timing = %d/%v, want defaults", a.Steps, a.Delay)
	}
}

func TestRisingFalling(t *testing.T) {
	tests := []struct {
		cur, prev, mask byte
		rising, falling bool
	}{
		{0x04, 0x00, 0x04, true, false},
		{0x00, 0x04, 0x04, false, true},
		{0x04, 0x04, 0x04, false, false},
		{0x00, 0x00, 0x04, false, false},
		{0xFB, 0x00, 0x04, false, false},
		{0x01, 0x00, 0xFF, true, false},
		{0x02, 0x01, 0xFF, false, false},
		{0x00, 0x80, 0xFF, false, true},
	}
	for _, tt := range tests {
		if got := Rising(tt.cur, tt.prev, tt.mask); got != tt.rising {
			t.Errorf("Rising(%#x, %#x, %#x) = %v", tt.cur, tt.prev, tt.mask, got)
		}
		if got := Falling(tt.cur, tt.prev, tt.mask); got != tt.falling {
			t.Errorf("Falling(%#x, %#x, %#x) = %v", tt.cur, tt.prev, tt.mask, got)
		}
	}
}

func TestDisplayOn_ChainsRevealFromDashboardToDoor(t *testing.T) {
	f := newFixture()
	f.feed(t, display(0x04))

	dashboard, door := f.drain()
	if len(door) != 0 {
		t.Errorf("door queue received %d commands directly, want 0", len(door))
	}
	if len(dashboard) != 1 {
		t.Fatalf("dashboard queue received %d commands, want 1", len(dashboard))
	}

	parent := dashboard[0]
	seq, ok := parent.Action.(command.Sequential)
	if !ok {
		t.Fatalf("dashboard action = %T, want Sequential", parent.Action)
	}
	if seq.Color != startup || seq.Reverse {
		t.Errorf("dashboard Sequential = %+v", seq)
	}

	target, child := parent.TakeChain()
	if target != f.door {
		t.Fatal("chain does not target the door queue")
	}
	childSeq, ok := child.Action.(command.Sequential)
	if !ok {
		t.Fatalf("chained action = %T, want Sequential", child.Action)
	}
	if childSeq.Color != startup || childSeq.Reverse {
		t.Errorf("door Sequential = %+v", childSeq)
	}
	if child.ParentID != parent.ID {
		t.Error("chained command does not reference its parent")
	}
	if child.HasChain() {
		t.Error("door command carries its own chain")
	}
}

func TestDisplayOn_SkippedWhenLightsAlreadyOn(t *testing.T) {
	f := newFixture()
	f.interp.dashboardLit = true
	f.interp.doorLit = true

	f.feed(t, display(0x04))

	dashboard, door := f.drain()
	if len(dashboard)+len(door) != 0 {
		t.Errorf("got %d/%d commands, want none", len(dashboard), len(door))
	}
	if len(f.observer.edges) != 1 || f.observer.edges[0] != EdgeDisplayOn {
		t.Errorf("edges = %v, want [display_on]", f.observer.edges)
	}
}

func TestDisplayOn_RunsWhenOneChannelIsOff(t *testing.T) {
	f := newFixture()
	f.interp.dashboardLit = true

	f.feed(t, display(0x04))

	dashboard, _ := f.drain()
	if len(dashboard) != 1 {
		t.Fatalf("dashboard received %d commands, want 1", len(dashboard))
	}
}

func TestDisplayOff_FadesBothToZero(t *testing.T) {
	f := newFixture()
	f.feed(t, display(0x04))
	f.drain()

	f.feed(t, display(0x00))
	dashboard, door := f.drain()
	assertFadeTo(t, dashboard, color.Zero)
	assertFadeTo(t, door, color.Zero)
	if f.interp.dashboardLit || f.interp.doorLit {
		t.Error("channels still considered lit after fading off")
	}
}

func TestAmbientEdges(t *testing.T) {
	tests := []struct {
		name      string
		from, to  byte
		wantFades bool
		wantColor color.Color
	}{
		{name: "off_to_on", from: 0x00, to: 0x01, wantFades: true, wantColor: startup},
		{name: "on_to_off", from: 0x01, to: 0x00, wantFades: true, wantColor: color.Zero},
		{name: "on_to_on", from: 0x01, to: 0x01, wantFades: false},
		{name: "on_to_other_on", from: 0x01, to: 0x02, wantFades: false},
		{name: "off_to_high_value", from: 0x00, to: 0x80, wantFades: true, wantColor: startup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.feed(t, display(0x04), lights(0, tt.from))
			f.drain()

			f.feed(t, lights(0, tt.to))
			dashboard, door := f.drain()

			if !tt.wantFades {
				if len(dashboard)+len(door) != 0 {
					t.Errorf("got %d/%d commands, want none", len(dashboard), len(door))
				}
				return
			}
			assertFadeTo(t, dashboard, tt.wantColor)
			assertFadeTo(t, door, tt.wantColor)
		})
	}
}

func TestAmbientOn_IgnoredOutsideStandardUI(t *testing.T) {
	f := newFixture()
	f.feed(t, lights(0, 0x01))

	dashboard, door := f.drain()
	if len(dashboard)+len(door) != 0 {
		t.Errorf("got %d/%d commands, want none", len(dashboard), len(door))
	}
}

func TestAmbientOff_UsesZeroRegardlessOfRegister(t *testing.T) {
	f := newFixture()
	f.feed(t, lights(0, 0x01))
	f.drain()

	f.feed(t, lights(0, 0x00))
	dashboard, door := f.drain()
	assertFadeTo(t, dashboard, color.Zero)
	assertFadeTo(t, door, color.Zero)
}

func TestAmbientOn_ReadsRegisterAtDecisionTime(t *testing.T) {
	f := newFixture()
	f.feed(t, display(0x04))
	f.drain()

	f.register.Write(color.RGB(0, 0, 255))
	f.feed(t, lights(0, 0x01))

	dashboard, door := f.drain()
	assertFadeTo(t, dashboard, color.RGB(0, 0, 255))
	assertFadeTo(t, door, color.RGB(0, 0, 255))
}

func TestRepeatedPayloadIsIgnored(t *testing.T) {
	frames := []canbus.Frame{display(0x04), lights(0, 0x01)}
	for _, fr := range frames {
		f := newFixture()
		if fr.ID == LightsID {
			f.feed(t, display(0x04))
		}
		f.feed(t, fr)
		f.drain()

		f.feed(t, fr)
		dashboard, door := f.drain()
		if len(dashboard)+len(door) != 0 {
			t.Errorf("%s: second delivery produced %d/%d commands", fr, len(dashboard), len(door))
		}
	}
}

func TestShortFrameKeepsTrailingBytes(t *testing.T) {
	f := newFixture()
	f.feed(t, display(0x04))
	f.drain()

	// Only the first two bytes are carried; the status byte keeps its value.
	short := canbus.Frame{ID: DisplayID, Length: 2, Data: [8]byte{0x11, 0x22}}
	f.feed(t, short)

	dashboard, door := f.drain()
	if len(dashboard)+len(door) != 0 {
		t.Errorf("short frame produced %d/%d commands", len(dashboard), len(door))
	}
	if f.interp.prevDisplay[DisplayStatusByte] != 0x04 {
		t.Errorf("status byte = %#x, want 0x04", f.interp.prevDisplay[DisplayStatusByte])
	}
	if f.interp.prevDisplay[0] != 0x11 {
		t.Errorf("byte 0 = %#x, want 0x11", f.interp.prevDisplay[0])
	}
}

func TestIgnoredFrames(t *testing.T) {
	f := newFixture()

	other := canbus.Frame{ID: 0x123, Length: 8, Data: [8]byte{0xFF, 0xFF, 0xFF}}
	remote := canbus.Frame{ID: DisplayID, Remote: true}
	extended := display(0x04)
	extended.Extended = true

	f.feed(t, other, remote, extended)

	dashboard, door := f.drain()
	if len(dashboard)+len(door) != 0 {
		t.Errorf("got %d/%d commands, want none", len(dashboard), len(door))
	}
	if f.observer.frames != 3 {
		t.Errorf("FrameReceived called %d times, want 3", f.observer.frames)
	}
}

func TestTurnSignalEdgesAreReportedOnly(t *testing.T) {
	f := newFixture()
	f.feed(t,
		lights(LeftTurnSignalMask, 0),
		lights(LeftTurnSignalMask|RightTurnSignalMask, 0),
		lights(0, 0),
	)

	dashboard, door := f.drain()
	if len(dashboard)+len(door) != 0 {
		t.Errorf("turn signals produced %d/%d commands", len(dashboard), len(door))
	}

	want := []Edge{EdgeLeftTurnSignalOn, EdgeRightTurnSignalOn, EdgeLeftTurnSignalOff, EdgeRightTurnSignalOff}
	if len(f.observer.edges) != len(want) {
		t.Fatalf("edges = %v, want %v", f.observer.edges, want)
	}
	for i := range want {
		if f.observer.edges[i] != want[i] {
			t.Errorf("edge %d = %s, want %s", i, f.observer.edges[i], want[i])
		}
	}
}

func TestCustomTiming(t *testing.T) {
	dashboard := command.NewQueue("dashboard")
	door := command.NewQueue("door")
	timing := command.Timing{FadeSteps: 5, FadeDelay: time.Millisecond, SequentialSteps: 3, SequentialDelay: 2 * time.Millisecond}
	interp := New(dashboard, door, ambient.New(startup), WithTiming(timing))

	interp.HandleFrame(context.Background(), display(0x04))
	seq := dashboard.TryReceive().Action.(command.Sequential)
	if seq.Steps != 3 || seq.Delay != 2*time.Millisecond {
		t.Errorf("Sequential timing = %d/%v", seq.Steps, seq.Delay)
	}

	interp.HandleFrame(context.Background(), lights(0, 1))
	fade := dashboard.TryReceive().Action.(command.FadeTo)
	if fade.Steps != 5 || fade.Delay != time.Millisecond {
		t.Errorf("FadeTo timing = %d/%v", fade.Steps, fade.Delay)
	}
}

func TestSendBlocksWhileQueueFull(t *testing.T) {
	dashboard := command.NewQueueWithCapacity("dashboard", 1)
	door := command.NewQueue("door")
	interp := New(dashboard, door, ambient.New(startup))

	filler := command.NewTurnOff()
	if err := dashboard.TrySend(filler); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		interp.HandleFrame(context.Background(), display(0x04))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("HandleFrame returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	if got := dashboard.TryReceive(); got != filler {
		t.Fatal("expected the filler command first")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleFrame still blocked after a slot was freed")
	}
	if _, ok := dashboard.TryReceive().Action.(command.Sequential); !ok {
		t.Error("reveal command was not enqueued")
	}
}

func TestSendDropsOnCancel(t *testing.T) {
	dashboard := command.NewQueueWithCapacity("dashboard", 1)
	door := command.NewQueue("door")
	obs := &recordingObserver{}
	interp := New(dashboard, door, ambient.New(startup), WithObserver(obs))
	_ = dashboard.TrySend(command.NewTurnOff())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	interp.HandleFrame(ctx, display(0x04))

	if len(obs.dropped) != 1 || obs.dropped[0] != "dashboard" {
		t.Errorf("dropped = %v, want [dashboard]", obs.dropped)
	}
	if interp.dashboardLit {
		t.Error("dropped reveal marked the dashboard lit")
	}
}

type scriptedReceiver struct {
	results []result
	closed  bool
}

type result struct {
	frame canbus.Frame
	err   error
}

func (s *scriptedReceiver) Receive(context.Context, time.Duration) (canbus.Frame, error) {
	if len(s.results) == 0 {
		return canbus.Frame{}, canbus.ErrClosed
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.frame, r.err
}

func (s *scriptedReceiver) Close() error {
	s.closed = true
	return nil
}

func TestRun_TimeoutsAndErrorsDoNotStopTheLoop(t *testing.T) {
	f := newFixture()
	rx := &scriptedReceiver{results: []result{
		{err: canbus.ErrTimeout},
		{frame: display(0x04)},
		{err: errors.New("bus glitch")},
		{err: canbus.ErrTimeout},
		{frame: lights(0, 0x01)},
	}}

	if err := f.interp.Run(context.Background(), rx, time.Millisecond); err != nil {
		t.Fatalf("Run = %v", err)
	}

	dashboard, door := f.drain()
	if len(dashboard) != 2 || len(door) != 1 {
		t.Errorf("got %d/%d commands, want 2/1", len(dashboard), len(door))
	}
	if f.observer.failures != 1 {
		t.Errorf("ReceiveFailed called %d times, want 1", f.observer.failures)
	}
}

func TestRun_ReplaysCandumpLog(t *testing.T) {
	log := strings.Join([]string{
		"(1700000000.000000) can0 3B3#0000000000000000",
		"(1700000000.010000) can0 3B3#0000040000000000",
		"(1700000000.020000) can0 3B3#0000040000000000",
		"(1700000000.030000) can0 3F5#0001000000000000",
		"(1700000000.040000) can0 3F5#0000000000000000",
	}, "\n")

	f := newFixture()
	rx := canbus.NewLogReader(strings.NewReader(log), false)
	if err := f.interp.Run(context.Background(), rx, time.Second); err != nil {
		t.Fatalf("Run = %v", err)
	}

	dashboard, door := f.drain()
	// Reveal, ambient on, ambient off on the dashboard; the door only gets
	// the two fades directly.
	if len(dashboard) != 3 || len(door) != 2 {
		t.Fatalf("got %d/%d commands, want 3/2", len(dashboard), len(door))
	}
	if _, ok := dashboard[0].Action.(command.Sequential); !ok {
		t.Errorf("first dashboard command = %T, want Sequential", dashboard[0].Action)
	}
	assertFadeTo(t, door[1:], color.Zero)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rx := &scriptedReceiver{results: []result{{frame: display(0x04)}}}
	if err := f.interp.Run(ctx, rx, time.Millisecond); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if f.dashboard.Len() != 0 {
		t.Error("frames were processed after cancellation")
	}
}

func TestFrameLabel(t *testing.T) {
	tests := []struct {
		name  string
		frame canbus.Frame
		want  string
	}{
		{"display", canbus.Frame{ID: DisplayID}, DisplayLabel},
		{"lights", canbus.Frame{ID: LightsID}, LightsLabel},
		{"unmonitored", canbus.Frame{ID: 0x123}, OtherLabel},
		{"extended_display", canbus.Frame{ID: DisplayID, Extended: true}, OtherLabel},
		{"extended_wide", canbus.Frame{ID: 0x18DAF110, Extended: true}, OtherLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FrameLabel(tt.frame); got != tt.want {
				t.Errorf("FrameLabel = %q, want %q", got, tt.want)
			}
		})
	}
}
