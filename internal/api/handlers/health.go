package handlers

import "net/http"

// Health reports liveness for load balancers and probes. There is no
// separate readiness state: the engine needs no warm-up and database outages
// degrade the graph endpoints without taking the layout API down.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "forcemap",
	})
}
