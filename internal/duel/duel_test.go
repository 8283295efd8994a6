package duel

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"arena-server/internal/engine"
	"arena-server/internal/protocol"
)

// recvType drains the outbox until a message of the wanted type arrives, so
// interleaved onlineCount broadcasts never break an assertion.
func recvType(t *testing.T, ch <-chan protocol.ServerMessage, typ string, within time.Duration) protocol.ServerMessage {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting for %q", typ)
			}
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
		}
	}
}

func recvNoType(t *testing.T, ch <-chan protocol.ServerMessage, typ string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Type == typ {
				t.Fatalf("expected no %q within %v, got %+v", typ, within, msg)
			}
		case <-deadline:
			return
		}
	}
}

func view(t *testing.T, a *Arena) View {
	t.Helper()
	reply := make(chan View, 1)
	a.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func connect(a *Arena, id string) chan protocol.ServerMessage {
	out := make(chan protocol.ServerMessage, 64)
	a.Inbox() <- Join{ClientID: id, Outbox: out}
	return out
}

func TestMatchmaking_FirstWaitsSecondPairs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(ctx, Config{StartDelay: time.Hour, TurnDelay: time.Hour}, zap.NewNop())

	outA := connect(a, "a")
	outB := connect(a, "b")

	a.Inbox() <- Play{ClientID: "a", Nick: "Alice", Char: "Beast"}
	recvType(t, outA, protocol.EvtWaiting, time.Second)

	v := view(t, a)
	if v.WaitingID != "a" || v.LiveMatches != 0 {
		t.Fatalf("after first join: %+v", v)
	}

	a.Inbox() <- Play{ClientID: "b", Nick: "Bob", Char: "Mage"}

	startA := recvType(t, outA, protocol.EvtGameStart, time.Second)
	startB := recvType(t, outB, protocol.EvtGameStart, time.Second)

	if startA.Match == nil || startB.Match == nil {
		t.Fatalf("gameStart without match snapshot")
	}
	if startA.Match.Player1.HP != engine.BaseHP || startA.Match.Player2.HP != engine.BaseHP {
		t.Fatalf("combatants should start at %d hp: %+v", engine.BaseHP, startA.Match)
	}

	v = view(t, a)
	if v.WaitingID != "" || v.LiveMatches != 1 {
		t.Fatalf("after pairing: %+v", v)
	}
}

func TestDuplicatePlayFromWaitingClientIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(ctx, Config{StartDelay: time.Hour, TurnDelay: time.Hour}, zap.NewNop())

	outA := connect(a, "a")
	a.Inbox() <- Play{ClientID: "a", Nick: "Alice", Char: "Beast"}
	recvType(t, outA, protocol.EvtWaiting, time.Second)

	a.Inbox() <- Play{ClientID: "a", Nick: "Alice", Char: "Beast"}

	v := view(t, a)
	if v.WaitingID != "a" || v.LiveMatches != 0 {
		t.Fatalf("duplicate join should not pair a client with itself: %+v", v)
	}
}

func TestDuelRunsToGameOver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(ctx, Config{StartDelay: time.Millisecond, TurnDelay: time.Millisecond}, zap.NewNop())

	outA := connect(a, "a")
	connect(a, "b")

	a.Inbox() <- Play{ClientID: "a", Nick: "Alice", Char: "Beast"}
	a.Inbox() <- Play{ClientID: "b", Nick: "Bob", Char: "Mage"}

	recvType(t, outA, protocol.EvtGameStart, time.Second)

	// worst case is 2*80 turns at 1 ms pacing; allow plenty
	deadline := time.After(10 * time.Second)
	var over protocol.ServerMessage
	sawUpdate := false
	for over.Type == "" {
		select {
		case msg := <-outA:
			switch msg.Type {
			case protocol.EvtUpdateMatch:
				sawUpdate = true
				p1, p2 := msg.Match.Player1, msg.Match.Player2
				if p1.HP < 0 || p1.HP > engine.BaseHP || p2.HP < 0 || p2.HP > engine.BaseHP {
					t.Fatalf("hp out of bounds: %d / %d", p1.HP, p2.HP)
				}
			case protocol.EvtGameOver:
				over = msg
			}
		case <-deadline:
			t.Fatalf("duel never finished")
		}
	}

	if !sawUpdate {
		t.Fatalf("no turn snapshots before game over")
	}
	if over.WinnerNick != "Alice" && over.WinnerNick != "Bob" {
		t.Fatalf("unexpected winner %q", over.WinnerNick)
	}

	v := view(t, a)
	if v.LiveMatches != 0 {
		t.Fatalf("finished match still live: %+v", v)
	}

	// termination is reported once
	recvNoType(t, outA, protocol.EvtGameOver, 50*time.Millisecond)
}

func TestDisconnectForfeitsToOpponent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(ctx, Config{StartDelay: 300 * time.Millisecond, TurnDelay: 300 * time.Millisecond}, zap.NewNop())

	outA := connect(a, "a")
	connect(a, "b")

	a.Inbox() <- Play{ClientID: "a", Nick: "Alice", Char: "Beast"}
	a.Inbox() <- Play{ClientID: "b", Nick: "Bob", Char: "Mage"}
	recvType(t, outA, protocol.EvtGameStart, time.Second)

	a.Inbox() <- Leave{ClientID: "b"}

	over := recvType(t, outA, protocol.EvtGameOver, time.Second)
	if over.WinnerNick != "Alice" {
		t.Fatalf("forfeit should crown the survivor, got %q", over.WinnerNick)
	}

	v := view(t, a)
	if v.LiveMatches != 0 {
		t.Fatalf("forfeited match still live")
	}

	// the pending first-turn timer must not act on the dead match
	recvNoType(t, outA, protocol.EvtUpdateMatch, 500*time.Millisecond)
}

func TestWaitingSlotClearedOnLeave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(ctx, Config{StartDelay: time.Hour, TurnDelay: time.Hour}, zap.NewNop())

	outA := connect(a, "a")
	outB := connect(a, "b")

	a.Inbox() <- Play{ClientID: "a", Nick: "Alice", Char: "Beast"}
	recvType(t, outA, protocol.EvtWaiting, time.Second)

	a.Inbox() <- Leave{ClientID: "a"}

	a.Inbox() <- Play{ClientID: "b", Nick: "Bob", Char: "Mage"}
	recvType(t, outB, protocol.EvtWaiting, time.Second)

	v := view(t, a)
	if v.WaitingID != "b" || v.LiveMatches != 0 {
		t.Fatalf("stale waiting slot: %+v", v)
	}
}

func TestChooseCharacterRebroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(ctx, Config{StartDelay: time.Hour, TurnDelay: time.Hour}, zap.NewNop())

	outA := connect(a, "a")
	outB := connect(a, "b")

	a.Inbox() <- Play{ClientID: "a", Nick: "Alice", Char: "Beast"}
	a.Inbox() <- Play{ClientID: "b", Nick: "Bob", Char: "Mage"}
	recvType(t, outA, protocol.EvtGameStart, time.Second)
	recvType(t, outB, protocol.EvtGameStart, time.Second)

	a.Inbox() <- ChooseCharacter{ClientID: "b", Name: "Golem", PlayerIndex: 1}

	upd := recvType(t, outA, protocol.EvtUpdateMatch, time.Second)
	if upd.Match.Player2.Char != "Golem" {
		t.Fatalf("character not updated: %+v", upd.Match)
	}

	// sender is excluded from the rebroadcast
	recvNoType(t, outB, protocol.EvtUpdateMatch, 50*time.Millisecond)
}

func TestChooseCharacterOutOfRangeIndexIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(ctx, Config{StartDelay: time.Hour, TurnDelay: time.Hour}, zap.NewNop())

	outA := connect(a, "a")
	connect(a, "b")

	a.Inbox() <- Play{ClientID: "a", Nick: "Alice", Char: "Beast"}
	a.Inbox() <- Play{ClientID: "b", Nick: "Bob", Char: "Mage"}
	recvType(t, outA, protocol.EvtGameStart, time.Second)

	a.Inbox() <- ChooseCharacter{ClientID: "b", Name: "Golem", PlayerIndex: 2}
	a.Inbox() <- ChooseCharacter{ClientID: "b", Name: "Golem", PlayerIndex: -1}

	recvNoType(t, outA, protocol.EvtUpdateMatch, 50*time.Millisecond)

	// actor is still alive and the match untouched
	v := view(t, a)
	if v.LiveMatches != 1 {
		t.Fatalf("match state disturbed: %+v", v)
	}
}

func TestOnlineCountTracksSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(ctx, DefaultConfig(), zap.NewNop())

	outA := connect(a, "a")
	connect(a, "b")

	msg := recvType(t, outA, protocol.EvtOnlineCount, time.Second)
	for msg.Count != 2 {
		msg = recvType(t, outA, protocol.EvtOnlineCount, time.Second)
	}

	a.Inbox() <- Leave{ClientID: "b"}
	msg = recvType(t, outA, protocol.EvtOnlineCount, time.Second)
	if msg.Count != 1 {
		t.Fatalf("online count after leave: got %d, want 1", msg.Count)
	}
}

func TestBonusHPAppliesToStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(ctx, Config{StartDelay: time.Hour, TurnDelay: time.Hour}, zap.NewNop())

	outA := connect(a, "a")
	connect(a, "b")

	a.Inbox() <- Play{ClientID: "a", Nick: "Alice", Char: "Beast", BonusHP: 12}
	a.Inbox() <- Play{ClientID: "b", Nick: "Bob", Char: "Mage"}

	start := recvType(t, outA, protocol.EvtGameStart, time.Second)
	if start.Match.Player1.HP != engine.BaseHP+12 {
		t.Fatalf("bonus hp not applied: %d", start.Match.Player1.HP)
	}
	if start.Match.Player2.HP != engine.BaseHP {
		t.Fatalf("unbonused player should start at base: %d", start.Match.Player2.HP)
	}
}
