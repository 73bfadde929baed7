// Package responders holds the reply helper every HTTP handler writes through.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes payload as an application/json body under the given status.
// A nil payload sends headers only. HTML escaping is off: bodies go to
// merchant backends and the hosted form's script, never into markup.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	// The status line is gone; an encode failure here has nowhere to go.
	_ = enc.Encode(payload)
}
