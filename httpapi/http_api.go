// Package httpapi is the local control HTTP surface: GET /info,
// GET /log, POST /probe, POST /update/download/abort,
// POST /local-install, POST /remote-install. It never touches the
// scheduler directly -- every handler talks to the core exclusively
// through an *updateagent.Address.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/sidecar-iot/updateagent/memlog"
	"github.com/sidecar-iot/updateagent/updateagent"
)

// Version is sent along with the Info command; set once at startup by
// main.go. The version GET /info reports is the one the scheduler was
// built with (NewScheduler's version argument), not this value.
var Version = "dev"

// Api wires the control HTTP surface to the scheduler's Address and
// the shared log buffer.
type Api struct {
	address *updateagent.Address
	log     *memlog.Buffer
}

// New builds an Api bound to address and log.
func New(address *updateagent.Address, log *memlog.Buffer) *Api {
	return &Api{address: address, log: log}
}

// HttpMux returns the gorilla/mux router exposing every endpoint.
func (a *Api) HttpMux() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/info", a.infoHandler).Methods("GET")
	router.HandleFunc("/log", a.logHandler).Methods("GET")
	router.HandleFunc("/probe", a.probeHandler).Methods("POST")
	router.HandleFunc("/update/download/abort", a.abortDownloadHandler).Methods("POST")
	router.HandleFunc("/local-install", a.localInstallHandler).Methods("POST")
	router.HandleFunc("/remote-install", a.remoteInstallHandler).Methods("POST")
	return router
}

func (a *Api) infoHandler(response http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	reply, err := a.address.Info(req.Context(), Version)
	if err != nil {
		sendJSONError(response, 500, "Internal Server Error - "+err.Error())
		return
	}

	writeJSON(response, 200, struct {
		State           string      `json:"state"`
		Version         string      `json:"version"`
		Config          interface{} `json:"config"`
		Firmware        interface{} `json:"firmware"`
		RuntimeSettings interface{} `json:"runtime_settings"`
	}{
		State:           reply.Snapshot.State,
		Version:         reply.Snapshot.Version,
		Config:          reply.Snapshot.Settings,
		Firmware:        reply.Snapshot.Firmware,
		RuntimeSettings: reply.Snapshot.RuntimeSettings,
	})
}

func (a *Api) logHandler(response http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	writeJSON(response, 200, a.log.Entries())
}

func (a *Api) probeHandler(response http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	var body struct {
		ServerAddress string `json:"server-address"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)

	reply, err := a.address.Probe(req.Context(), body.ServerAddress)
	if err != nil {
		sendJSONError(response, 500, "Internal Server Error - "+err.Error())
		return
	}

	switch reply.Kind {
	case updateagent.ProbeBusy:
		writeJSON(response, 200, map[string]interface{}{"busy": true, "current-state": reply.BusyState})
	default:
		writeJSON(response, 200, map[string]interface{}{"busy": false, "current-state": "probe"})
	}
}

func (a *Api) abortDownloadHandler(response http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	reply, err := a.address.AbortDownload(req.Context())
	if err != nil {
		sendJSONError(response, 500, "Internal Server Error - "+err.Error())
		return
	}

	if !reply.Accepted {
		sendJSONError(response, 400, "there is no download to be aborted")
		return
	}

	writeJSON(response, 200, map[string]string{"message": "request accepted, download aborted"})
}

func (a *Api) localInstallHandler(response http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	var body struct {
		Path string `json:"file"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		sendJSONError(response, 400, "Bad Request - invalid JSON body")
		return
	}

	reply, err := a.address.LocalInstall(req.Context(), body.Path)
	if err != nil {
		sendJSONError(response, 500, "Internal Server Error - "+err.Error())
		return
	}

	if !reply.Accepted {
		sendJSONError(response, 400, "invalid state: "+reply.PrevState)
		return
	}

	writeJSON(response, 200, map[string]string{"state": reply.PrevState})
}

func (a *Api) remoteInstallHandler(response http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		sendJSONError(response, 400, "Bad Request - invalid JSON body")
		return
	}

	reply, err := a.address.RemoteInstall(req.Context(), body.URL)
	if err != nil {
		sendJSONError(response, 500, "Internal Server Error - "+err.Error())
		return
	}

	if !reply.Accepted {
		sendJSONError(response, 400, "invalid state: "+reply.PrevState)
		return
	}

	writeJSON(response, 200, map[string]string{"state": reply.PrevState})
}

func writeJSON(response http.ResponseWriter, status int, v interface{}) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		log.Errorf("error marshaling response: %s", err)
		http.Error(response, "Internal server error", 500)
		return
	}

	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	if _, err := response.Write(jsonBytes); err != nil {
		log.Errorf("error writing response: %s", err)
	}
}

func sendJSONError(response http.ResponseWriter, status int, message string) {
	writeJSON(response, status, map[string]string{"error": message})
}
