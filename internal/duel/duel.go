package duel

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"arena-server/internal/engine"
	"arena-server/internal/protocol"
	"arena-server/internal/session"
)

type Msg interface{ isDuelMsg() }

// Join registers a transport session and its outbox.
type Join struct {
	ClientID string
	Outbox   chan protocol.ServerMessage
}

// Leave removes a session. A waiting slot held by it is cleared; a live match
// it was fighting is forfeited to the opponent.
type Leave struct{ ClientID string }

// Play is the 1-vs-1 join intent. BonusHP is an opaque pre-match stat bonus
// supplied by an external ledger; it is added to starting HP as-is.
type Play struct {
	ClientID string
	Nick     string
	Char     string
	BonusHP  int
}

// ChooseCharacter swaps a live combatant's character mid-match.
type ChooseCharacter struct {
	ClientID    string
	Name        string
	PlayerIndex int
}

// GetState returns a read-only view, for tests and the status endpoint.
type GetState struct{ Reply chan View }

type Shutdown struct{}

// turnDue is posted by the pacing timer. Seq pins it to one specific turn so
// a fire that outlived its match, or raced a forfeit, is a no-op.
type turnDue struct {
	MatchID string
	Seq     int
}

func (Join) isDuelMsg()            {}
func (Leave) isDuelMsg()           {}
func (Play) isDuelMsg()            {}
func (ChooseCharacter) isDuelMsg() {}
func (GetState) isDuelMsg()        {}
func (Shutdown) isDuelMsg()        {}
func (turnDue) isDuelMsg()         {}

type View struct {
	Online      int
	WaitingID   string
	LiveMatches int
}

type Config struct {
	StartDelay time.Duration
	TurnDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{StartDelay: 1 * time.Second, TurnDelay: 3 * time.Second}
}

type waitingEntry struct {
	engine.Participant
	BonusHP int
}

// Arena is the 1-vs-1 coordinator: a one-slot matchmaking pool plus the live
// matches it spawned. All state is confined to its loop goroutine.
type Arena struct {
	inbox   chan Msg
	reg     *session.Registry
	waiting *waitingEntry
	matches map[string]*engine.Match
	timers  map[string]*time.Timer
	roll    engine.Roller
	cfg     Config
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, cfg Config, log *zap.Logger) *Arena {
	ctx, cancel := context.WithCancel(parent)
	a := &Arena{
		inbox:   make(chan Msg, 64),
		reg:     session.NewRegistry(),
		matches: make(map[string]*engine.Match),
		timers:  make(map[string]*time.Timer),
		roll:    engine.NewRoller(),
		cfg:     cfg,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go a.loop()
	return a
}

func (a *Arena) Inbox() chan<- Msg { return a.inbox }

func (a *Arena) loop() {
	for {
		select {
		case <-a.ctx.Done():
			a.shutdown()
			return

		case m := <-a.inbox:
			switch msg := m.(type) {
			case Join:
				a.reg.Add(msg.ClientID, msg.Outbox)
				a.reg.Send(msg.ClientID, protocol.Welcome(msg.ClientID))
				a.reg.Broadcast(protocol.OnlineCount(a.reg.Count()))

			case Leave:
				a.handleLeave(msg.ClientID)

			case Play:
				a.handlePlay(msg)

			case ChooseCharacter:
				a.handleChooseCharacter(msg)

			case turnDue:
				a.handleTurnDue(msg)

			case GetState:
				v := View{Online: a.reg.Count(), LiveMatches: len(a.matches)}
				if a.waiting != nil {
					v.WaitingID = a.waiting.ID
				}
				msg.Reply <- v

			case Shutdown:
				a.shutdown()
				return
			}
		}
	}
}

func (a *Arena) handlePlay(msg Play) {
	if a.matchOf(msg.ClientID) != nil {
		return // one live match per participant
	}

	p := engine.Participant{ID: msg.ClientID, Nick: msg.Nick, Char: msg.Char}

	if a.waiting == nil {
		a.waiting = &waitingEntry{Participant: p, BonusHP: msg.BonusHP}
		a.reg.Send(msg.ClientID, protocol.Waiting("Waiting for opponent..."))
		return
	}
	if a.waiting.ID == msg.ClientID {
		// repeated join intent from the same connection
		return
	}

	first := a.waiting
	a.waiting = nil

	m := engine.NewMatch(
		engine.DuelMatchID(first.ID, p.ID),
		engine.StageDuel,
		engine.NewCombatant(first.Participant, first.BonusHP),
		engine.NewCombatant(p, msg.BonusHP),
	)
	m.Turn = rand.Intn(2)
	a.matches[m.ID] = m

	a.reg.Send(m.Players[0].ID, protocol.GameStart(m))
	a.reg.Send(m.Players[1].ID, protocol.GameStart(m))
	a.log.Info("duel started",
		zap.String("match_id", m.ID),
		zap.String("p1", m.Players[0].Nick),
		zap.String("p2", m.Players[1].Nick))

	a.scheduleTurn(m, a.cfg.StartDelay)
}

func (a *Arena) handleTurnDue(msg turnDue) {
	m, ok := a.matches[msg.MatchID]
	if !ok || m.Seq != msg.Seq {
		return // stale fire, match gone or already advanced
	}

	res, winner := m.PlayTurn(a.roll)
	a.sendToPlayers(m, protocol.UpdateMatch(m))
	a.sendToPlayers(m, protocol.Log(res.Log))

	if winner >= 0 {
		a.finishMatch(m, m.Players[winner].Participant)
		return
	}
	a.scheduleTurn(m, a.cfg.TurnDelay)
}

func (a *Arena) handleChooseCharacter(msg ChooseCharacter) {
	if msg.PlayerIndex < 0 || msg.PlayerIndex > 1 {
		return // never trust the boundary to have validated
	}
	m := a.matchOf(msg.ClientID)
	if m == nil {
		return
	}
	m.Players[msg.PlayerIndex].Char = msg.Name
	a.reg.BroadcastExcept(msg.ClientID, protocol.UpdateMatch(m))
}

func (a *Arena) handleLeave(clientID string) {
	a.reg.Remove(clientID)
	a.reg.Broadcast(protocol.OnlineCount(a.reg.Count()))

	if a.waiting != nil && a.waiting.ID == clientID {
		a.waiting = nil
		return
	}

	if m := a.matchOf(clientID); m != nil {
		// forfeit: the one who stayed wins
		winner := m.Players[1-m.PlayerIndex(clientID)].Participant
		a.finishMatch(m, winner)
	}
}

func (a *Arena) finishMatch(m *engine.Match, winner engine.Participant) {
	a.stopTimer(m.ID)
	delete(a.matches, m.ID)
	a.sendToPlayers(m, protocol.GameOver(winner))
	a.log.Info("duel over",
		zap.String("match_id", m.ID),
		zap.String("winner", winner.Nick))
}

func (a *Arena) scheduleTurn(m *engine.Match, delay time.Duration) {
	due := turnDue{MatchID: m.ID, Seq: m.Seq}
	a.timers[m.ID] = time.AfterFunc(delay, func() {
		select {
		case a.inbox <- due:
		case <-a.ctx.Done():
		}
	})
}

func (a *Arena) stopTimer(matchID string) {
	if t, ok := a.timers[matchID]; ok {
		t.Stop()
		delete(a.timers, matchID)
	}
}

func (a *Arena) matchOf(clientID string) *engine.Match {
	for _, m := range a.matches {
		if m.PlayerIndex(clientID) >= 0 {
			return m
		}
	}
	return nil
}

func (a *Arena) sendToPlayers(m *engine.Match, msg protocol.ServerMessage) {
	a.reg.Send(m.Players[0].ID, msg)
	a.reg.Send(m.Players[1].ID, msg)
}

func (a *Arena) shutdown() {
	for id := range a.timers {
		a.stopTimer(id)
	}
	a.reg.CloseAll()
	a.cancel()
}
