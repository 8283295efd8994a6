package tournament

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"go.uber.org/zap"

	"arena-server/internal/engine"
	"arena-server/internal/protocol"
	"arena-server/internal/session"
)

// PoolRequired is the entrant count that starts a tournament.
const PoolRequired = 8

var stageOrder = []engine.Stage{engine.StageQuarter, engine.StageSemi, engine.StageFinal}

func prevStage(s engine.Stage) engine.Stage {
	switch s {
	case engine.StageSemi:
		return engine.StageQuarter
	case engine.StageFinal:
		return engine.StageSemi
	default:
		return ""
	}
}

var stagePrefix = map[engine.Stage]string{
	engine.StageQuarter: "Q",
	engine.StageSemi:    "S",
	engine.StageFinal:   "F",
}

type Msg interface{ isTournamentMsg() }

type Join struct {
	ClientID string
	Outbox   chan protocol.ServerMessage
}

type Leave struct{ ClientID string }

// Enter is the joinTournament intent.
type Enter struct {
	ClientID string
	Nick     string
	Char     string
}

// Chat relays a free-text message to every session, tagged with the sender's
// nickname.
type Chat struct {
	ClientID string
	Text     string
}

type GetState struct{ Reply chan View }

type Shutdown struct{}

// turnDue and resetDue are posted by timers; both are no-ops when stale.
type turnDue struct {
	MatchID string
	Seq     int
}

type resetDue struct{}

func (Join) isTournamentMsg()     {}
func (Leave) isTournamentMsg()    {}
func (Enter) isTournamentMsg()    {}
func (Chat) isTournamentMsg()     {}
func (GetState) isTournamentMsg() {}
func (Shutdown) isTournamentMsg() {}
func (turnDue) isTournamentMsg()  {}
func (resetDue) isTournamentMsg() {}

type View struct {
	Online       int
	Waiting      []engine.Participant
	LiveMatches  []string
	Bracket      []protocol.BracketEntry
	ResetPending bool
}

type Config struct {
	StartDelay time.Duration
	TurnDelay  time.Duration
	ResetDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		StartDelay: 1 * time.Second,
		TurnDelay:  3 * time.Second,
		ResetDelay: 5 * time.Second,
	}
}

// Manager runs the 8-player single-elimination tournament: waiting pool,
// live matches, and the append-only bracket that seeds each stage from the
// previous stage's winners. All state is confined to its loop goroutine.
type Manager struct {
	inbox        chan Msg
	reg          *session.Registry
	waiting      []engine.Participant
	matches      map[string]*engine.Match
	timers       map[string]*time.Timer
	bracket      []protocol.BracketEntry
	resetPending bool
	resetTimer   *time.Timer
	roll         engine.Roller
	cfg          Config
	log          *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
}

func New(parent context.Context, cfg Config, log *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(parent)
	t := &Manager{
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
	go t.loop()
	return t
}

func (t *Manager) Inbox() chan<- Msg { return t.inbox }

func (t *Manager) loop() {
	for {
		select {
		case <-t.ctx.Done():
			t.shutdown()
			return

		case m := <-t.inbox:
			switch msg := m.(type) {
			case Join:
				t.handleJoin(msg)

			case Leave:
				t.handleLeave(msg.ClientID)

			case Enter:
				t.handleEnter(msg)

			case Chat:
				t.reg.Broadcast(protocol.Chat(t.nickOf(msg.ClientID), msg.Text))

			case turnDue:
				t.handleTurnDue(msg)

			case resetDue:
				t.reset()

			case GetState:
				msg.Reply <- t.view()

			case Shutdown:
				t.shutdown()
				return
			}
		}
	}
}

func (t *Manager) handleJoin(msg Join) {
	t.reg.Add(msg.ClientID, msg.Outbox)
	t.reg.Send(msg.ClientID, protocol.Welcome(msg.ClientID))
	t.reg.Send(msg.ClientID, protocol.WaitingCount(PoolRequired, slices.Clone(t.waiting)))
	t.reg.Send(msg.ClientID, protocol.LiveMatches(t.liveViews()))
	t.reg.Send(msg.ClientID, protocol.BracketState(slices.Clone(t.bracket)))
	t.reg.Broadcast(protocol.OnlineCount(t.reg.Count()))
}

func (t *Manager) handleEnter(msg Enter) {
	for _, p := range t.waiting {
		if p.ID == msg.ClientID {
			return // already queued
		}
	}
	if t.matchOf(msg.ClientID) != nil {
		return // already fighting
	}

	t.waiting = append(t.waiting, engine.Participant{ID: msg.ClientID, Nick: msg.Nick, Char: msg.Char})
	t.broadcastWaiting()
	t.progress()
}

func (t *Manager) handleLeave(clientID string) {
	t.reg.Remove(clientID)
	t.reg.Broadcast(protocol.OnlineCount(t.reg.Count()))

	before := len(t.waiting)
	t.waiting = slices.DeleteFunc(t.waiting, func(p engine.Participant) bool {
		return p.ID == clientID
	})
	if len(t.waiting) != before {
		t.broadcastWaiting()
	}

	if m := t.matchOf(clientID); m != nil {
		// forfeit counts as a loss; the opponent advances right away
		idx := m.PlayerIndex(clientID)
		t.endMatch(m, m.Players[1-idx].Participant, m.Players[idx].Participant)
	}
}

func (t *Manager) handleTurnDue(msg turnDue) {
	m, ok := t.matches[msg.MatchID]
	if !ok || m.Seq != msg.Seq {
		return // stale fire, match gone or already advanced
	}

	res, winner := m.PlayTurn(t.roll)
	t.reg.Broadcast(protocol.UpdateMatch(m))
	t.reg.Broadcast(protocol.Log(res.Log))

	if winner >= 0 {
		t.endMatch(m, m.Players[winner].Participant, m.Players[1-winner].Participant)
		return
	}
	t.scheduleTurn(m, t.cfg.TurnDelay)
}

func (t *Manager) endMatch(m *engine.Match, winner, loser engine.Participant) {
	t.stopTimer(m.ID)
	delete(t.matches, m.ID)
	t.bracket = append(t.bracket, protocol.BracketEntry{Winner: winner, Loser: loser, Stage: m.Stage})

	t.reg.Broadcast(protocol.MatchOver(winner, m.Stage))
	t.reg.Broadcast(protocol.BracketState(slices.Clone(t.bracket)))
	t.reg.Broadcast(protocol.LiveMatches(t.liveViews()))
	t.log.Info("match over",
		zap.String("match_id", m.ID),
		zap.String("stage", string(m.Stage)),
		zap.String("winner", winner.Nick))

	t.progress()
}

// progress walks the stages in order after every join and match completion.
// A stage with live matches blocks everything behind it. A stage with
// recorded results is finished; the final's single record crowns the
// champion. An unstarted stage launches once its candidates are ready:
// the first 8 waiting entrants for the quarterfinals, the previous stage's
// winners afterwards, paired consecutively in order.
func (t *Manager) progress() {
	if t.resetPending {
		return
	}

	for _, s := range stageOrder {
		if t.liveCountAt(s) > 0 {
			return
		}
		if t.recordCountAt(s) > 0 {
			if s == engine.StageFinal {
				t.crown(t.winnersAt(engine.StageFinal)[0])
				return
			}
			continue
		}

		var candidates []engine.Participant
		if s == engine.StageQuarter {
			if len(t.waiting) < PoolRequired {
				return
			}
			candidates = slices.Clone(t.waiting[:PoolRequired])
			t.waiting = slices.Delete(t.waiting, 0, PoolRequired)
			t.broadcastWaiting()
		} else {
			candidates = t.winnersAt(prevStage(s))
			if len(candidates) < 2 {
				return
			}
		}

		t.startStage(s, candidates)
		return
	}
}

func (t *Manager) startStage(s engine.Stage, candidates []engine.Participant) {
	t.log.Info("stage starting",
		zap.String("stage", string(s)),
		zap.Int("candidates", len(candidates)))

	for i := 0; i+1 < len(candidates); i += 2 {
		id := fmt.Sprintf("%s%d", stagePrefix[s], i/2+1)
		m := engine.NewMatch(id, s,
			engine.NewCombatant(candidates[i], 0),
			engine.NewCombatant(candidates[i+1], 0))
		m.Turn = rand.Intn(2)
		t.matches[id] = m

		t.reg.Broadcast(protocol.StartMatch(m))
		t.scheduleTurn(m, t.cfg.StartDelay)
	}
	t.reg.Broadcast(protocol.LiveMatches(t.liveViews()))
}

func (t *Manager) crown(champion engine.Participant) {
	t.resetPending = true
	t.reg.Broadcast(protocol.TournamentOver(champion))
	t.log.Info("tournament over", zap.String("champion", champion.Nick))

	// leave the result on screen for a moment before wiping state
	t.resetTimer = time.AfterFunc(t.cfg.ResetDelay, func() {
		select {
		case t.inbox <- resetDue{}:
		case <-t.ctx.Done():
		}
	})
}

func (t *Manager) reset() {
	t.waiting = nil
	t.bracket = nil
	for id := range t.timers {
		t.stopTimer(id)
	}
	clear(t.matches)
	t.resetPending = false

	t.broadcastWaiting()
	t.reg.Broadcast(protocol.BracketState(nil))
	t.reg.Broadcast(protocol.LiveMatches(nil))
}

func (t *Manager) scheduleTurn(m *engine.Match, delay time.Duration) {
	due := turnDue{MatchID: m.ID, Seq: m.Seq}
	t.timers[m.ID] = time.AfterFunc(delay, func() {
		select {
		case t.inbox <- due:
		case <-t.ctx.Done():
		}
	})
}

func (t *Manager) stopTimer(matchID string) {
	if tm, ok := t.timers[matchID]; ok {
		tm.Stop()
		delete(t.timers, matchID)
	}
}

func (t *Manager) liveCountAt(s engine.Stage) int {
	n := 0
	for _, m := range t.matches {
		if m.Stage == s {
			n++
		}
	}
	return n
}

func (t *Manager) recordCountAt(s engine.Stage) int {
	n := 0
	for _, e := range t.bracket {
		if e.Stage == s {
			n++
		}
	}
	return n
}

func (t *Manager) winnersAt(s engine.Stage) []engine.Participant {
	var winners []engine.Participant
	for _, e := range t.bracket {
		if e.Stage == s {
			winners = append(winners, e.Winner)
		}
	}
	return winners
}

func (t *Manager) matchOf(clientID string) *engine.Match {
	for _, m := range t.matches {
		if m.PlayerIndex(clientID) >= 0 {
			return m
		}
	}
	return nil
}

func (t *Manager) nickOf(clientID string) string {
	for _, p := range t.waiting {
		if p.ID == clientID {
			return p.Nick
		}
	}
	if m := t.matchOf(clientID); m != nil {
		return m.Players[m.PlayerIndex(clientID)].Nick
	}
	return "Anon"
}

func (t *Manager) liveViews() []protocol.MatchView {
	views := make([]protocol.MatchView, 0, len(t.matches))
	for _, m := range t.matches {
		views = append(views, protocol.ViewOf(m))
	}
	slices.SortFunc(views, func(a, b protocol.MatchView) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return views
}

func (t *Manager) broadcastWaiting() {
	t.reg.Broadcast(protocol.WaitingCount(PoolRequired, slices.Clone(t.waiting)))
}

func (t *Manager) view() View {
	v := View{
		Online:       t.reg.Count(),
		Waiting:      slices.Clone(t.waiting),
		Bracket:      slices.Clone(t.bracket),
		ResetPending: t.resetPending,
	}
	for _, mv := range t.liveViews() {
		v.LiveMatches = append(v.LiveMatches, mv.ID)
	}
	return v
}

func (t *Manager) shutdown() {
	for id := range t.timers {
		t.stopTimer(id)
	}
	if t.resetTimer != nil {
		t.resetTimer.Stop()
	}
	t.reg.CloseAll()
	t.cancel()
}
