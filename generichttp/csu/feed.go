package csu

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	ctl "github.com/keckobservatory/instruments/csu"
)

// checkOrigin admits requests without an Origin, from the server's own
// host, or from one of FeedOrigins.  "*" in FeedOrigins admits any origin
func (h *HTTPWrapper) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, o := range h.FeedOrigins {
		if o == "*" || strings.EqualFold(o, u.Host) || strings.EqualFold(o, origin) {
			return true
		}
	}
	h.Log.Warnf("refused state feed to origin %s", origin)
	return false
}

// FeedT is one message of the state feed
type FeedT struct {
	StateT
	Status string    `json:"status"`
	Fatal  bool      `json:"fatal"`
	Time   time.Time `json:"time"`
}

func (h *HTTPWrapper) snapshot() (FeedT, error) {
	st, err := h.state()
	out := FeedT{StateT: st, Time: time.Now()}
	if errors.Is(err, ctl.ErrFatal) {
		out.Fatal = true
		err = nil
	}
	if err != nil {
		return out, err
	}
	status, err := h.CSU.Status()
	if err != nil {
		return out, err
	}
	out.Status = status.Raw
	return out, nil
}

// Feed upgrades to a websocket and sends the CSU state and status each time
// either changes, polling every FeedInterval.  The first message is sent at
// once.  The feed ends when the client goes away or the CSU cannot be read.
// Browsers on other hosts are refused unless listed in FeedOrigins
func (h *HTTPWrapper) Feed(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Error(err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var last *FeedT
	ticker := time.NewTicker(h.FeedInterval)
	defer ticker.Stop()
	for {
		snap, err := h.snapshot()
		if err != nil {
			h.Log.Warnf("state feed ended: %v", err)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
			return
		}
		if last == nil || last.State != snap.State || last.Status != snap.Status {
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
			last = &snap
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
