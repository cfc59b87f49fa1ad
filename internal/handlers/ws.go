package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/notify"
	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/services"
	"github.com/rishabh19bvp/Opinify-MVP-V3/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type LiveTallyHandler struct {
	log           *slog.Logger
	votingService *services.PollVoting
}

func NewLiveTallyHandler(log *slog.Logger, votingService *services.PollVoting) *LiveTallyHandler {
	return &LiveTallyHandler{log: log, votingService: votingService}
}

// Serve upgrades the connection and streams tally snapshots: the current
// tally immediately on connect, then a fresh one per change event. Events
// carry no counts, so a duplicate or coalesced event just means one extra
// re-fetch of the same snapshot.
func (h *LiveTallyHandler) Serve(c *gin.Context) {
	pollID, err := pollIDParam(c)
	if err != nil {
		return
	}

	sub, tally, err := h.votingService.SubscribeTally(c.Request.Context(), pollID)
	if err != nil {
		rejectJSON(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		h.log.Warn("websocket upgrade failed", utils.Err(err))
		return
	}

	client := &liveClient{
		log:     h.log.With(slog.Int64("pollID", pollID)),
		service: h.votingService,
		sub:     sub,
		conn:    conn,
	}

	go client.writePump(tally)
	go client.readPump()
}

type liveClient struct {
	log     *slog.Logger
	service *services.PollVoting
	sub     *notify.Subscription
	conn    *websocket.Conn
}

// readPump only watches for the client going away; closing the
// subscription there is what releases the registry slot.
func (cl *liveClient) readPump() {
	defer func() {
		cl.sub.Close()
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.log.Debug("live tally read error", utils.Err(err))
			}
			return
		}
	}
}

func (cl *liveClient) writePump(initial interface{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.sub.Close()
		cl.conn.Close()
	}()

	if err := cl.writeJSON(initial); err != nil {
		return
	}

	for {
		select {
		case event, ok := <-cl.sub.Events():
			if !ok {
				cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Re-pull the current tally; later-committed votes may already
			// be included, which only makes the snapshot fresher.
			tally, err := cl.service.GetTally(context.Background(), event.PollID)
			if err != nil {
				cl.log.Warn("live tally refetch failed", utils.Err(err))
				continue
			}
			if err := cl.writeJSON(tally); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (cl *liveClient) writeJSON(v interface{}) error {
	cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.conn.WriteJSON(v)
}
