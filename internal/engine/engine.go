package engine

import "fmt"

type Stage string

const (
	StageDuel    Stage = "duel"
	StageQuarter Stage = "quarter"
	StageSemi    Stage = "semi"
	StageFinal   Stage = "final"
)

// BaseHP is the starting hit points of every combatant before bonuses.
const BaseHP = 80

// MaxRoll is the top face of the damage die; rolling it stuns the defender.
const MaxRoll = 8

// Participant is the identity a client supplies at join time. It is trusted
// as-is and lives from connect until disconnect or elimination.
type Participant struct {
	ID   string `json:"id"`
	Nick string `json:"nick"`
	Char string `json:"char"`
}

// Combatant is a participant's in-match mutable state.
type Combatant struct {
	Participant
	HP       int  `json:"hp"`
	Stunned  bool `json:"stunned"`
	LastRoll int  `json:"dice"`
}

func NewCombatant(p Participant, bonusHP int) Combatant {
	return Combatant{Participant: p, HP: BaseHP + bonusHP}
}

// Match is a two-player combat instance. Turn is the index of the next
// attacker; Seq increments once per resolved turn and guards against stale
// timer fires acting on a match that has already moved on or ended.
type Match struct {
	ID      string
	Stage   Stage
	Players [2]Combatant
	Turn    int
	Seq     int
}

func NewMatch(id string, stage Stage, a, b Combatant) *Match {
	return &Match{ID: id, Stage: stage, Players: [2]Combatant{a, b}}
}

// DuelMatchID builds a match id from the two connection ids. Connection ids
// are unique, so the composite cannot collide across live matches.
func DuelMatchID(a, b string) string {
	return a + "#" + b
}

// PlayerIndex reports which side a connection is on, or -1 if it is not in
// this match.
func (m *Match) PlayerIndex(connID string) int {
	for i := range m.Players {
		if m.Players[i].ID == connID {
			return i
		}
	}
	return -1
}

// TurnResult is the outcome of a single resolved attack.
type TurnResult struct {
	Damage             int
	Critical           bool
	AttackerWasStunned bool
	Log                string
}

// Resolve computes one attack without mutating its inputs. The damage die is
// uniform on [1,8]. An attacker who entered the turn stunned deals one less
// (never below zero) and sheds the stun. A max-damage hit stuns the defender
// for their next attack. The caller commits the returned combatants.
func Resolve(roll Roller, attacker, defender Combatant) (TurnResult, Combatant, Combatant) {
	damage := roll()

	res := TurnResult{AttackerWasStunned: attacker.Stunned}
	switch {
	case attacker.Stunned:
		damage = max(0, damage-1)
		attacker.Stunned = false
		res.Log = fmt.Sprintf("%s is stunned and deals only %d", attacker.Nick, damage)
	case damage == MaxRoll:
		defender.Stunned = true
		res.Critical = true
		res.Log = fmt.Sprintf("%s CRIT! Deals %d", attacker.Nick, damage)
	default:
		res.Log = fmt.Sprintf("%s rolls %d and deals %d", attacker.Nick, damage, damage)
	}

	res.Damage = damage
	defender.HP = max(0, defender.HP-damage)
	attacker.LastRoll = damage

	return res, attacker, defender
}

// PlayTurn resolves the current attacker's swing, commits both combatants,
// and hands the turn to the defender. It reports the winner index when the
// defender's HP hit zero, or -1 if the match continues.
func (m *Match) PlayTurn(roll Roller) (TurnResult, int) {
	att, def := m.Turn, 1-m.Turn

	res, attacker, defender := Resolve(roll, m.Players[att], m.Players[def])
	m.Players[att] = attacker
	m.Players[def] = defender
	m.Turn = def
	m.Seq++

	if defender.HP == 0 {
		return res, att
	}
	return res, -1
}
