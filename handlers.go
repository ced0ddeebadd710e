// Huddle, October 2026
// License AGPL3

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/huddle-app/huddle/internal/hub"
	"github.com/huddle-app/huddle/store"
)

const (
	hasAuth = 1 << iota
)

type ctxKey struct{}

// reqCtx is the context injected into every request.
type reqCtx struct {
	app      *App
	identity string
}

// jsonResp is the envelope for all JSON API responses.
type jsonResp struct {
	Error *string     `json:"error"`
	Data  interface{} `json:"data"`
}

type roomResp struct {
	ID           string            `json:"id"`
	Participants int               `json:"participants"`
	LastActive   *int64            `json:"last_active,omitempty"`
	Members      []hub.Participant `json:"members,omitempty"`
}

// handleHealth is the liveness probe.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleWS upgrades the request and attaches the connection to the hub.
func handleWS(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value(ctxKey{}).(*reqCtx)
		app = ctx.app
	)

	up := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, app.cfg.AllowedOrigins)
		},
	}

	// Create the WS connection.
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		app.logger.Warnf("websocket upgrade failed: %s: %v", r.RemoteAddr, err)
		return
	}

	if _, err := app.hub.Attach(ws, ctx.identity); err != nil {
		app.logger.Errorf("error attaching connection: %v", err)
	}
}

// handleGetRooms lists the rooms in the directory, busiest first.
func handleGetRooms(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value(ctxKey{}).(*reqCtx)
		app = ctx.app
	)

	if app.hub.Store == nil {
		respondJSON(w, []roomResp{}, nil, http.StatusOK)
		return
	}

	rooms, err := app.hub.Store.ListRooms()
	if err != nil {
		app.logger.Errorf("error listing rooms: %v", err)
		respondJSON(w, nil, errors.New("error listing rooms"), http.StatusInternalServerError)
		return
	}

	out := make([]roomResp, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, makeRoomResp(rm))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Participants == out[j].Participants {
			return out[i].ID < out[j].ID
		}
		return out[i].Participants > out[j].Participants
	})

	respondJSON(w, out, nil, http.StatusOK)
}

// handleGetRoom returns the live members of a room.
func handleGetRoom(w http.ResponseWriter, r *http.Request) {
	var (
		ctx    = r.Context().Value(ctxKey{}).(*reqCtx)
		app    = ctx.app
		roomID = chi.URLParam(r, "roomID")
	)

	members, err := app.hub.Participants(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, hub.ErrRoomNotFound) {
			respondJSON(w, nil, errors.New("room not found"), http.StatusNotFound)
			return
		}
		app.logger.Errorf("error fetching room %s: %v", roomID, err)
		respondJSON(w, nil, errors.New("error fetching room"), http.StatusServiceUnavailable)
		return
	}

	out := roomResp{
		ID:           roomID,
		Participants: len(members),
		Members:      members,
	}
	if app.hub.Store != nil {
		if rm, err := app.hub.Store.GetRoom(roomID); err == nil {
			out.LastActive = makeRoomResp(rm).LastActive
		}
	}
	respondJSON(w, out, nil, http.StatusOK)
}

func makeRoomResp(rm store.Room) roomResp {
	out := roomResp{ID: rm.ID, Participants: rm.Participants}
	if !rm.LastActive.IsZero() {
		t := rm.LastActive.Unix()
		out.LastActive = &t
	}
	return out
}

// respondJSON responds to an HTTP request with a generic payload or an error.
func respondJSON(w http.ResponseWriter, data interface{}, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	out := jsonResp{Data: data}
	if err != nil {
		e := err.Error()
		out.Error = &e
	}
	b, err := json.Marshal(out)
	if err != nil {
		logger.Errorf("error marshalling JSON response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write(b)
}

// wrap is a middleware that handles auth for various HTTP handlers.
// It attaches the app context to handlers.
func wrap(next http.HandlerFunc, app *App, opts uint8) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &reqCtx{app: app}

		// Resolve the caller's identity if auth is enabled.
		if opts&hasAuth != 0 && app.auth != nil {
			id, err := app.auth.identify(r)
			if err != nil {
				app.logger.Debugf("auth failed: %s: %v", r.RemoteAddr, err)
				respondJSON(w, nil, errors.New("invalid or missing token"), http.StatusUnauthorized)
				return
			}
			req.identity = id
		}

		// Attach the request context.
		ctx := context.WithValue(r.Context(), ctxKey{}, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// checkOrigin allows requests without an Origin header, same-host origins and
// any origin in the allowed list. "*" allows everything.
func checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
