package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"arena-server/internal/duel"
	"arena-server/internal/tournament"
)

type statusResponse struct {
	DuelOnline        int      `json:"duelOnline"`
	DuelLiveMatches   int      `json:"duelLiveMatches"`
	TournamentOnline  int      `json:"tournamentOnline"`
	TournamentWaiting int      `json:"tournamentWaiting"`
	TournamentMatches []string `json:"tournamentMatches"`
}

// Status reads both coordinators through their reply-channel views. Purely
// observational; it never mutates game state.
func Status(a *duel.Arena, tr *tournament.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		duelReply := make(chan duel.View, 1)
		tourReply := make(chan tournament.View, 1)
		a.Inbox() <- duel.GetState{Reply: duelReply}
		tr.Inbox() <- tournament.GetState{Reply: tourReply}

		var resp statusResponse
		timeout := time.After(2 * time.Second)
		for i := 0; i < 2; i++ {
			select {
			case dv := <-duelReply:
				duelReply = nil
				resp.DuelOnline = dv.Online
				resp.DuelLiveMatches = dv.LiveMatches
			case tv := <-tourReply:
				tourReply = nil
				resp.TournamentOnline = tv.Online
				resp.TournamentWaiting = len(tv.Waiting)
				resp.TournamentMatches = tv.LiveMatches
			case <-timeout:
				http.Error(w, "coordinators busy", http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
