package controller

import (
	"net/http"
)

// HandleInit starts polling once. Later calls report that it already happened.
func (c *Controller) HandleInit(w http.ResponseWriter, r *http.Request) {
	message := "Already initialized"
	if c.App.Engine.StartPolling(r.Context()) {
		message = "Initialization started"
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

// HandleStatus returns the initial sync progress snapshot.
func (c *Controller) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.App.Engine.InitialSyncStatus())
}
