package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/ambientd/internal/color"
	"github.com/dokzlo13/ambientd/internal/command"
	"github.com/dokzlo13/ambientd/internal/strip"
)

func noSleep(time.Duration) {}

type recordingObserver struct {
	mu       sync.Mutex
	executed []*command.Command
	finals   []color.Color
	dropped  []*command.Command
}

func (o *recordingObserver) CommandExecuted(_ string, cmd *command.Command, final color.Color, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executed = append(o.executed, cmd)
	o.finals = append(o.finals, final)
}

func (o *recordingObserver) CommandDropped(_ string, cmd *command.Command, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, cmd)
}

func newTestEngine(leds int, opts ...Option) (*Engine, *strip.Memory) {
	m := strip.NewMemory(leds)
	opts = append([]Option{WithSleep(noSleep)}, opts...)
	return New("dashboard", command.NewQueue("dashboard"), m, opts...), m
}

func assertAll(t *testing.T, pixels []color.Color, want color.Color) {
	t.Helper()
	for i, c := range pixels {
		if c != want {
			t.Errorf("pixel %d = %v, want %v", i, c, want)
		}
	}
}

func TestSequential_RefreshesAndFinalColor(t *testing.T) {
	tests := []struct {
		name  string
		leds  int
		steps int
		c     color.Color
	}{
		{name: "default_steps", leds: 5, steps: 2, c: color.RGB(100, 100, 100)},
		{name: "truncating", leds: 4, steps: 3, c: color.RGB(10, 200, 7)},
		{name: "single_led", leds: 1, steps: 7, c: color.RGB(255, 1, 0)},
		{name: "zero_steps_as_one", leds: 3, steps: 0, c: color.RGB(1, 2, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := newTestEngine(tt.leds)
			e.Execute(command.New(command.Sequential{Color: tt.c, Steps: tt.steps}))

			steps := max(tt.steps, 1)
			if got, want := m.Refreshes(), tt.leds*steps+1; got != want {
				t.Errorf("Refreshes = %d, want %d", got, want)
			}
			if m.Clears() != 1 {
				t.Errorf("Clears = %d, want 1", m.Clears())
			}
			assertAll(t, m.Shown(), tt.c)
			if e.Current() != tt.c {
				t.Errorf("Current = %v, want %v", e.Current(), tt.c)
			}
		})
	}
}

func TestSequential_RampsEachLEDBeforeNext(t *testing.T) {
	target := color.RGB(100, 100, 100)
	e, m := newTestEngine(3)

	var frames [][]color.Color
	m.OnRefresh(func(shown []color.Color) { frames = append(frames, shown) })

	e.Execute(command.New(command.Sequential{Color: target, Steps: 2}))

	half := target.Scale(1, 2)
	want := [][]color.Color{
		{half, color.Zero, color.Zero},
		{target, color.Zero, color.Zero},
		{target, half, color.Zero},
		{target, target, color.Zero},
		{target, target, half},
		{target, target, target},
		{target, target, target},
	}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if frames[i][j] != want[i][j] {
				t.Errorf("frame %d pixel %d = %v, want %v", i, j, frames[i][j], want[i][j])
			}
		}
	}
}

func TestSequential_Reverse(t *testing.T) {
	target := color.RGB(8, 8, 8)
	e, m := newTestEngine(3)

	var first []color.Color
	m.OnRefresh(func(shown []color.Color) {
		if first == nil {
			first = shown
		}
	})

	e.Execute(command.New(command.Sequential{Color: target, Steps: 1, Reverse: true}))

	if first[2] != target || first[0] != color.Zero || first[1] != color.Zero {
		t.Errorf("first frame = %v, want last LED lit first", first)
	}
}

func TestSequential_WaitsDelayPerIncrement(t *testing.T) {
	var waits []time.Duration
	e, _ := newTestEngine(2, WithSleep(func(d time.Duration) { waits = append(waits, d) }))

	e.Execute(command.New(command.Sequential{Color: color.RGB(1, 1, 1), Steps: 3, Delay: 5 * time.Millisecond}))

	if len(waits) != 6 {
		t.Fatalf("waited %d times, want 6", len(waits))
	}
	for _, d := range waits {
		if d != 5*time.Millisecond {
			t.Errorf("wait = %v, want 5ms", d)
		}
	}
}

func TestFadeTo_FinalColorExact(t *testing.T) {
	tests := []struct {
		name  string
		from  color.Color
		to    color.Color
		steps int
	}{
		{name: "up_truncating", from: color.Zero, to: color.RGB(100, 51, 255), steps: 20},
		{name: "down_to_off", from: color.RGB(100, 100, 100), to: color.Zero, steps: 20},
		{name: "mixed_direction", from: color.RGB(200, 10, 77), to: color.RGB(3, 250, 77), steps: 7},
		{name: "step_smaller_than_one", from: color.RGB(0, 0, 0), to: color.RGB(3, 3, 3), steps: 10},
		{name: "single_step", from: color.RGB(1, 1, 1), to: color.RGB(9, 9, 9), steps: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := newTestEngine(4)
			e.Execute(command.NewSetColor(tt.from))
			e.Execute(command.New(command.FadeTo{Color: tt.to, Steps: tt.steps}))

			if got, want := m.Refreshes(), tt.steps+1; got != want {
				t.Errorf("Refreshes = %d, want %d", got, want)
			}
			assertAll(t, m.Shown(), tt.to)
			if e.Current() != tt.to {
				t.Errorf("Current = %v, want %v", e.Current(), tt.to)
			}
		})
	}
}

func TestFadeTo_IntermediateStepsTruncate(t *testing.T) {
	e, m := newTestEngine(1)

	var frames []color.Color
	m.OnRefresh(func(shown []color.Color) { frames = append(frames, shown[0]) })

	// (100-0)/3 = 33 per step: 33, 66, 99, then the snap to 100.
	e.Execute(command.New(command.FadeTo{Color: color.RGB(100, 0, 0), Steps: 3}))

	want := []color.Color{color.RGB(33, 0, 0), color.RGB(66, 0, 0), color.RGB(99, 0, 0), color.RGB(100, 0, 0)}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d = %v, want %v", i, frames[i], want[i])
		}
	}
}

func TestFadeTo_TruncatesTowardZeroWhenFalling(t *testing.T) {
	e, m := newTestEngine(1)
	e.Execute(command.NewSetColor(color.RGB(10, 0, 0)))

	var frames []color.Color
	m.OnRefresh(func(shown []color.Color) { frames = append(frames, shown[0]) })

	// (0-10)/4 = -2 per step: 8, 6, 4, 2, then the snap to 0.
	e.Execute(command.New(command.FadeTo{Color: color.Zero, Steps: 4}))

	want := []color.Color{color.RGB(8, 0, 0), color.RGB(6, 0, 0), color.RGB(4, 0, 0), color.RGB(2, 0, 0), color.Zero}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d = %v, want %v", i, frames[i], want[i])
		}
	}
}

func TestTurnOnTurnOffSetColor(t *testing.T) {
	e, m := newTestEngine(3)
	c := color.RGB(5, 6, 7)

	e.Execute(command.NewSetColor(c))
	if m.Refreshes() != 0 {
		t.Errorf("SetColor refreshed the strip")
	}
	assertAll(t, m.Staged(), color.Zero)
	if e.Current() != c {
		t.Errorf("Current after SetColor = %v, want %v", e.Current(), c)
	}

	e.Execute(command.NewTurnOn(c))
	if m.Refreshes() != 1 {
		t.Errorf("TurnOn refreshes = %d, want 1", m.Refreshes())
	}
	assertAll(t, m.Shown(), c)

	e.Execute(command.NewTurnOff())
	assertAll(t, m.Shown(), color.Zero)
	if e.Current() != color.Zero {
		t.Errorf("Current after TurnOff = %v", e.Current())
	}
}

func TestRun_ForwardsChainOnlyAfterParentCompletes(t *testing.T) {
	door := command.NewQueue("door")
	dash, m := newTestEngine(4)

	parent := command.NewSequential(color.RGB(50, 50, 50), false)
	child := command.NewSequential(color.RGB(50, 50, 50), false)
	parent.Then(door, child)

	var early bool
	m.OnRefresh(func([]color.Color) {
		if door.Len() != 0 {
			early = true
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dash.Run(ctx)

	if err := dash.Queue().Send(ctx, parent); err != nil {
		t.Fatal(err)
	}

	got, err := receiveWithin(door, time.Second)
	if err != nil {
		t.Fatalf("chained command never arrived: %v", err)
	}
	if got != child {
		t.Error("door received a different command")
	}
	if got.ParentID != parent.ID {
		t.Errorf("ParentID = %v, want %v", got.ParentID, parent.ID)
	}
	if early {
		t.Error("chained command was enqueued before the parent's last refresh")
	}
	if m.Refreshes() != 4*command.DefaultSequentialSteps+1 {
		t.Errorf("parent did not finish: %d refreshes", m.Refreshes())
	}
}

func TestRun_ExecutesInFIFOOrder(t *testing.T) {
	obs := &recordingObserver{}
	e, _ := newTestEngine(2, WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmds := []*command.Command{
		command.NewTurnOn(color.RGB(1, 1, 1)),
		command.NewFadeTo(color.RGB(2, 2, 2)),
		command.NewTurnOff(),
	}
	for _, c := range cmds {
		if err := e.Queue().Send(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	go e.Run(ctx)
	waitIdle(t, e)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.executed) != len(cmds) {
		t.Fatalf("executed %d commands, want %d", len(obs.executed), len(cmds))
	}
	for i := range cmds {
		if obs.executed[i] != cmds[i] {
			t.Errorf("command %d executed out of order", i)
		}
	}
	if obs.finals[1] != color.RGB(2, 2, 2) {
		t.Errorf("final color after fade = %v", obs.finals[1])
	}
}

func TestProcess_DropsChainWhenForwardFails(t *testing.T) {
	obs := &recordingObserver{}
	e, _ := newTestEngine(1, WithObserver(obs))

	full := command.NewQueueWithCapacity("door", 1)
	if err := full.TrySend(command.NewTurnOff()); err != nil {
		t.Fatal(err)
	}

	grandchild := command.NewTurnOff()
	child := command.NewTurnOff().Then(full, grandchild)
	parent := command.NewTurnOn(color.RGB(1, 1, 1)).Then(full, child)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.process(ctx, parent)

	if len(obs.dropped) != 1 || obs.dropped[0] != child {
		t.Fatalf("dropped = %v, want the chained child", obs.dropped)
	}
	if full.Len() != 1 {
		t.Errorf("target queue len = %d, want 1", full.Len())
	}
	if parent.HasChain() {
		t.Error("parent still holds its chain after processing")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	e, _ := newTestEngine(1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func receiveWithin(q *command.Queue, d time.Duration) (*command.Command, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.Receive(ctx)
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.Idle() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("engine did not become idle")
}

func TestIdle_CountsReceivedCommand(t *testing.T) {
	e, _ := newTestEngine(2)
	ctx := context.Background()

	if !e.Idle() {
		t.Fatal("new engine is not idle")
	}

	cmd := command.NewTurnOn(color.RGB(5, 5, 5))
	if err := e.Queue().Send(ctx, cmd); err != nil {
		t.Fatal(err)
	}
	if e.Idle() {
		t.Error("idle with a pending command")
	}

	got, err := e.Queue().Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if e.Idle() {
		t.Error("idle with a received but unexecuted command")
	}

	e.process(ctx, got)
	e.Queue().Done()
	if !e.Idle() {
		t.Error("not idle after the command finished")
	}
}

func TestRun_NotIdleWhileExecuting(t *testing.T) {
	e, m := newTestEngine(2)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m.OnRefresh(func([]color.Color) {
		once.Do(func() {
			close(started)
			<-release
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	if err := e.Queue().Send(ctx, command.NewTurnOn(color.RGB(9, 9, 9))); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("command did not start")
	}

	if e.Queue().Len() != 0 {
		t.Fatalf("queue len = %d, want 0", e.Queue().Len())
	}
	if e.Idle() {
		t.Error("idle while a command is executing")
	}

	close(release)
	waitIdle(t, e)
	if got := m.Shown(); got[0] != color.RGB(9, 9, 9) {
		t.Errorf("pixel 0 = %v after idle", got[0])
	}
}

func TestProcess_ChainForwardBlocksUntilTargetHasRoom(t *testing.T) {
	obs := &recordingObserver{}
	e, _ := newTestEngine(1, WithObserver(obs))

	door := command.NewQueueWithCapacity("door", 1)
	filler := command.NewTurnOff()
	if err := door.TrySend(filler); err != nil {
		t.Fatal(err)
	}

	child := command.NewTurnOn(color.RGB(3, 3, 3))
	parent := command.NewTurnOn(color.RGB(1, 1, 1)).Then(door, child)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.process(ctx, parent)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("forward returned while the target queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	if got := door.TryReceive(); got != filler {
		t.Fatal("expected the filler command first")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward still blocked after a slot was freed")
	}

	if got := door.TryReceive(); got != child {
		t.Error("chained command did not reach the target queue")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.dropped) != 0 {
		t.Errorf("dropped = %v, want none", obs.dropped)
	}
}

func TestProcess_ForwardsChainOnShutdownWhenTargetHasRoom(t *testing.T) {
	obs := &recordingObserver{}
	e, _ := newTestEngine(1, WithObserver(obs))

	door := command.NewQueueWithCapacity("door", 1)
	child := command.NewTurnOn(color.RGB(3, 3, 3))
	parent := command.NewTurnOn(color.RGB(1, 1, 1)).Then(door, child)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.process(ctx, parent)

	if got := door.TryReceive(); got != child {
		t.Error("chained command was not handed off")
	}
	if len(obs.dropped) != 0 {
		t.Errorf("dropped = %v, want none", obs.dropped)
	}
}
