package protocol

import (
	"encoding/json"
	"errors"
	"strings"

	"arena-server/internal/engine"
)

var (
	ErrBadPayload  = errors.New("malformed payload")
	ErrUnknownType = errors.New("unknown message type")
)

const maxNickLen = 32
const maxChatLen = 500

// Client -> server intents. One closed set of tagged variants; anything that
// fails validation is dropped at the boundary.
const (
	MsgJoin            = "join"
	MsgJoinTournament  = "joinTournament"
	MsgChooseCharacter = "chooseCharacter"
	MsgChatMessage     = "chatMessage"
)

type ClientMessage struct {
	Type        string `json:"type"`
	Nick        string `json:"nick,omitempty"`
	Char        string `json:"char,omitempty"`
	HPBonus     int    `json:"hpBonus,omitempty"`
	Name        string `json:"name,omitempty"`
	PlayerIndex int    `json:"playerIndex,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Parse decodes and validates one inbound frame. Field requirements follow
// the intent kind; clients are untrusted browsers, so failures are reported
// for logging but carry no game consequence.
func Parse(data []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ClientMessage{}, ErrBadPayload
	}

	switch m.Type {
	case MsgJoin, MsgJoinTournament:
		m.Nick = strings.TrimSpace(m.Nick)
		if m.Nick == "" || m.Char == "" {
			return ClientMessage{}, ErrBadPayload
		}
		if len(m.Nick) > maxNickLen {
			m.Nick = m.Nick[:maxNickLen]
		}
	case MsgChooseCharacter:
		if m.Name == "" || m.PlayerIndex < 0 || m.PlayerIndex > 1 {
			return ClientMessage{}, ErrBadPayload
		}
	case MsgChatMessage:
		m.Text = strings.TrimSpace(m.Text)
		if m.Text == "" {
			return ClientMessage{}, ErrBadPayload
		}
		if len(m.Text) > maxChatLen {
			m.Text = m.Text[:maxChatLen]
		}
	default:
		return ClientMessage{}, ErrUnknownType
	}
	return m, nil
}

// Server -> client events.
const (
	EvtWelcome        = "welcome"
	EvtOnlineCount    = "onlineCount"
	EvtWaiting        = "waiting"
	EvtWaitingCount   = "waitingCount"
	EvtGameStart      = "gameStart"
	EvtStartMatch     = "startMatch"
	EvtUpdateMatch    = "updateMatch"
	EvtLog            = "log"
	EvtGameOver       = "gameOver"
	EvtMatchOver      = "matchOver"
	EvtTournamentOver = "tournamentOver"
	EvtChatMessage    = "chatMessage"
	EvtBracketState   = "bracketState"
	EvtLiveMatches    = "liveMatches"
)

// MatchView is the snapshot of a live match pushed with start/update events.
type MatchView struct {
	ID      string           `json:"id"`
	Stage   engine.Stage     `json:"stage"`
	Player1 engine.Combatant `json:"player1"`
	Player2 engine.Combatant `json:"player2"`
}

func ViewOf(m *engine.Match) MatchView {
	return MatchView{ID: m.ID, Stage: m.Stage, Player1: m.Players[0], Player2: m.Players[1]}
}

// BracketEntry is one completed-match record.
type BracketEntry struct {
	Winner engine.Participant `json:"winner"`
	Loser  engine.Participant `json:"loser"`
	Stage  engine.Stage       `json:"stage"`
}

type ServerMessage struct {
	Type       string               `json:"type"`
	ClientID   string               `json:"clientId,omitempty"`
	Count      int                  `json:"count"`
	Required   int                  `json:"required,omitempty"`
	Players    []engine.Participant `json:"players,omitempty"`
	Match      *MatchView           `json:"match,omitempty"`
	Matches    []MatchView          `json:"matches,omitempty"`
	Bracket    []BracketEntry       `json:"bracket,omitempty"`
	Text       string               `json:"text,omitempty"`
	Nick       string               `json:"nick,omitempty"`
	Char       string               `json:"char,omitempty"`
	WinnerNick string               `json:"winnerNick,omitempty"`
	WinnerChar string               `json:"winnerChar,omitempty"`
	Stage      engine.Stage         `json:"stage,omitempty"`
}

func Welcome(clientID string) ServerMessage {
	return ServerMessage{Type: EvtWelcome, ClientID: clientID}
}

func OnlineCount(n int) ServerMessage {
	return ServerMessage{Type: EvtOnlineCount, Count: n}
}

func Waiting(text string) ServerMessage {
	return ServerMessage{Type: EvtWaiting, Text: text}
}

func WaitingCount(required int, players []engine.Participant) ServerMessage {
	return ServerMessage{Type: EvtWaitingCount, Count: len(players), Required: required, Players: players}
}

func GameStart(m *engine.Match) ServerMessage {
	v := ViewOf(m)
	return ServerMessage{Type: EvtGameStart, Match: &v}
}

func StartMatch(m *engine.Match) ServerMessage {
	v := ViewOf(m)
	return ServerMessage{Type: EvtStartMatch, Match: &v, Stage: m.Stage}
}

func UpdateMatch(m *engine.Match) ServerMessage {
	v := ViewOf(m)
	return ServerMessage{Type: EvtUpdateMatch, Match: &v, Stage: m.Stage}
}

func Log(line string) ServerMessage {
	return ServerMessage{Type: EvtLog, Text: line}
}

func GameOver(winner engine.Participant) ServerMessage {
	return ServerMessage{Type: EvtGameOver, WinnerNick: winner.Nick, WinnerChar: winner.Char}
}

func MatchOver(winner engine.Participant, stage engine.Stage) ServerMessage {
	return ServerMessage{Type: EvtMatchOver, WinnerNick: winner.Nick, WinnerChar: winner.Char, Stage: stage}
}

func TournamentOver(champion engine.Participant) ServerMessage {
	return ServerMessage{Type: EvtTournamentOver, Nick: champion.Nick, Char: champion.Char}
}

func Chat(nick, text string) ServerMessage {
	return ServerMessage{Type: EvtChatMessage, Nick: nick, Text: text}
}

func BracketState(entries []BracketEntry) ServerMessage {
	return ServerMessage{Type: EvtBracketState, Bracket: entries, Count: len(entries)}
}

func LiveMatches(views []MatchView) ServerMessage {
	return ServerMessage{Type: EvtLiveMatches, Matches: views, Count: len(views)}
}
