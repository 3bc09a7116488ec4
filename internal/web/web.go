// Package web exposes the flash of the current session over a small JSON API.
package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/matheus3301/flashd/internal/dispatch"
	"github.com/matheus3301/flashd/internal/flash"
	"github.com/matheus3301/flashd/internal/session"
	"go.uber.org/zap"
)

const maxBody = 64 << 10

// Entry is one flash key in a listing.
type Entry struct {
	Key   string         `json:"key"`
	Value any            `json:"value"`
	State flash.KeyState `json:"state"`
}

// Messages is the notice and alert pair of the current flash.
type Messages struct {
	Notice string `json:"notice,omitempty"`
	Alert  string `json:"alert,omitempty"`
}

// Listing is the response of GET /flash.
type Listing struct {
	SessionID string  `json:"session_id,omitempty"`
	Entries   []Entry `json:"entries"`
}

// Routes registers the flash API on mux. Handlers expect to run inside a
// dispatcher carrying the session and flash hooks.
func Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /flash", list)
	mux.HandleFunc("PATCH /flash", merge)
	mux.HandleFunc("GET /flash/{key}", get)
	mux.HandleFunc("PUT /flash/{key}", set)
	mux.HandleFunc("DELETE /flash/{key}", remove)
	mux.HandleFunc("POST /flash/keep", keep)
	mux.HandleFunc("POST /flash/keep/{key}", keep)
	mux.HandleFunc("POST /flash/discard", discard)
	mux.HandleFunc("POST /flash/discard/{key}", discard)
	mux.HandleFunc("GET /messages", messages)
	mux.HandleFunc("POST /messages", postMessages)
	mux.HandleFunc("POST /session/reset", reset)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func list(w http.ResponseWriter, r *http.Request) {
	f := flash.FromContext(r.Context())
	out := Listing{Entries: make([]Entry, 0, f.Len())}
	if sess := session.FromContext(r.Context()); sess != nil {
		out.SessionID = sess.ID
	}
	values, states := f.Values(), f.States()
	for _, k := range f.Keys() {
		out.Entries = append(out.Entries, Entry{Key: k, Value: values[k], State: states[k]})
	}
	writeJSON(w, http.StatusOK, out)
}

// merge folds a JSON object into the flash. Merged keys are readable for the
// rest of this request only, unless kept.
func merge(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if !decodeBody(w, r, &values) {
		return
	}
	if values == nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	flash.FromContext(r.Context()).BulkSet(values)
	list(w, r)
}

func messages(w http.ResponseWriter, r *http.Request) {
	f := flash.FromContext(r.Context())
	writeJSON(w, http.StatusOK, Messages{Notice: f.Notice(), Alert: f.Alert()})
}

// postMessages sets the notice and alert present in the body for the next
// request.
func postMessages(w http.ResponseWriter, r *http.Request) {
	var m Messages
	if !decodeBody(w, r, &m) {
		return
	}
	f := flash.FromContext(r.Context())
	if m.Notice != "" {
		f.SetNotice(m.Notice)
	}
	if m.Alert != "" {
		f.SetAlert(m.Alert)
	}
	list(w, r)
}

func get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	f := flash.FromContext(r.Context())
	if !f.Has(key) {
		writeError(w, http.StatusNotFound, "no flash entry "+key)
		return
	}
	v, _ := f.Get(key)
	writeJSON(w, http.StatusOK, Entry{Key: key, Value: v, State: f.State(key)})
}

// set stores the JSON request body under the key. With ?now=1 the value is
// visible only for the rest of this request.
func set(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var v any
	if !decodeBody(w, r, &v) {
		return
	}

	f := flash.FromContext(r.Context())
	if r.URL.Query().Get("now") != "" {
		f.Now().Set(key, v)
	} else {
		f.Set(key, v)
	}
	dispatch.Logger(r.Context()).Debug("flash set", zap.String("key", key), zap.Bool("now", r.URL.Query().Get("now") != ""))
	writeJSON(w, http.StatusOK, Entry{Key: key, Value: v, State: f.State(key)})
}

func remove(w http.ResponseWriter, r *http.Request) {
	flash.FromContext(r.Context()).Delete(r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

func keep(w http.ResponseWriter, r *http.Request) {
	f := flash.FromContext(r.Context())
	f.Keep(keys(r)...)
	list(w, r)
}

func discard(w http.ResponseWriter, r *http.Request) {
	f := flash.FromContext(r.Context())
	f.Discard(keys(r)...)
	list(w, r)
}

// reset moves the client to a fresh session with an empty flash.
func reset(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusConflict, "sessions are disabled")
		return
	}
	sess.Reset()
	flash.FromContext(r.Context()).Replace(nil)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.ID})
}

func keys(r *http.Request) []string {
	if k := r.PathValue("key"); k != "" {
		return []string{k}
	}
	return nil
}

// decodeBody reads one JSON value into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "empty body: send a JSON value")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
