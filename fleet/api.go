// Copyright 2026 Fleexa Project - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@fleexa.io
//

/*Package fleet provides the read-only RESTful inspection interface for a
fleet of device sessions.
*/
package fleet

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/fleexa-project/devices/core/logger"
	"github.com/fleexa-project/devices/device"
)

// API is the RESTful inspection interface for the device fleet.
type API struct {
	sessions map[string]*device.Session
}

// Builder is a builder helper for the fleet API
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Sessions maps device IDs to their running sessions.
	Sessions map[string]*device.Session
}

// NewAPI realizes the actual API and adds the routes to router. The API
// only reads session snapshots, it never mutates a session.
func NewAPI(b *Builder) *API {

	if b.Router == nil {
		panic("Router is missing")
	}

	s := &API{sessions: b.Sessions}
	s.handleRoutes(b.Router)
	return s
}

func (s *API) handleRoutes(router *mux.Router) {
	logger.Default().Infoln("fleet: handle route /devices GET")
	logger.Default().Infoln("fleet: handle route /devices/{device_id} GET")

	router.Handle("/devices", handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := make([]device.Info, 0, len(s.sessions))
		for _, session := range s.sessions {
			response = append(response, session.Info())
		}
		sort.Slice(response, func(i, j int) bool {
			return response[i].DeviceID < response[j].DeviceID
		})

		w.Header().Set("Content-Type", "application/json")
		jsonData, _ := json.MarshalIndent(response, "", " ")
		w.Write(jsonData)
	}))).Methods(http.MethodGet)

	router.Handle("/devices/{device_id}", handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		ctx, _ := logger.ContextWithDevice(r.Context(), params["device_id"])
		rlog := logger.FromContext(ctx)

		session, ok := s.sessions[params["device_id"]]
		if !ok {
			rlog.Warnln("snapshot requested for unknown device")
			http.Error(w, "no such device", http.StatusNotFound)
			return
		}
		rlog.Debugln("snapshot requested")

		w.Header().Set("Content-Type", "application/json")
		jsonData, _ := json.MarshalIndent(session.Info(), "", " ")
		w.Write(jsonData)
	}))).Methods(http.MethodGet)
}
