package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"arena-server/internal/duel"
	"arena-server/internal/protocol"
	"arena-server/internal/tournament"
)

const outboxSize = 32

// chat flood control, per connection
const chatPerSecond = 2
const chatBurst = 5

// DuelHandler bridges one websocket connection to the 1-vs-1 arena.
func DuelHandler(a *duel.Arena, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, log,
			func(id string, out chan protocol.ServerMessage) {
				a.Inbox() <- duel.Join{ClientID: id, Outbox: out}
			},
			func(id string) {
				a.Inbox() <- duel.Leave{ClientID: id}
			},
			func(id string, m protocol.ClientMessage, _ *rate.Limiter) bool {
				switch m.Type {
				case protocol.MsgJoin:
					a.Inbox() <- duel.Play{ClientID: id, Nick: m.Nick, Char: m.Char, BonusHP: m.HPBonus}
				case protocol.MsgChooseCharacter:
					a.Inbox() <- duel.ChooseCharacter{ClientID: id, Name: m.Name, PlayerIndex: m.PlayerIndex}
				default:
					return false
				}
				return true
			})
	}
}

// TournamentHandler bridges one websocket connection to the tournament.
func TournamentHandler(tr *tournament.Manager, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, log,
			func(id string, out chan protocol.ServerMessage) {
				tr.Inbox() <- tournament.Join{ClientID: id, Outbox: out}
			},
			func(id string) {
				tr.Inbox() <- tournament.Leave{ClientID: id}
			},
			func(id string, m protocol.ClientMessage, chat *rate.Limiter) bool {
				switch m.Type {
				case protocol.MsgJoinTournament:
					tr.Inbox() <- tournament.Enter{ClientID: id, Nick: m.Nick, Char: m.Char}
				case protocol.MsgChatMessage:
					if !chat.Allow() {
						return false
					}
					tr.Inbox() <- tournament.Chat{ClientID: id, Text: m.Text}
				default:
					return false
				}
				return true
			})
	}
}

func serve(
	w http.ResponseWriter,
	r *http.Request,
	log *zap.Logger,
	register func(id string, out chan protocol.ServerMessage),
	unregister func(id string),
	dispatch func(id string, m protocol.ClientMessage, chat *rate.Limiter) bool,
) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	clientID := uuid.NewString()
	out := make(chan protocol.ServerMessage, outboxSize)
	chat := rate.NewLimiter(rate.Limit(chatPerSecond), chatBurst)

	register(clientID, out)
	defer unregister(clientID)

	writeCtx, writeCancel := context.WithCancel(r.Context())
	defer writeCancel()
	go func() {
		for msg := range out {
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, payload)
			cancel()
		}
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			// clean close and dropped connections end up here either way;
			// the deferred unregister handles forfeits
			return
		}

		m, err := protocol.Parse(data)
		if err != nil {
			// untrusted browser input: drop, never crash
			log.Debug("dropping inbound frame",
				zap.String("client_id", clientID),
				zap.Error(err))
			continue
		}

		if !dispatch(clientID, m, chat) {
			log.Debug("unroutable intent",
				zap.String("client_id", clientID),
				zap.String("type", m.Type))
		}
	}
}
