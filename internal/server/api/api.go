// Package api serves the daemon's JSON surface. The device logic lives
// in nitrokeyapi; this package only converts between HTTP and the API
// types. Privileged commands are deliberately not reachable from here.
package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/nitrokey-community/nitrod-go/internal/logs"
	"github.com/nitrokey-community/nitrod-go/nitrokeyapi"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

type api struct {
	mgr     *nitrokeyapi.Manager
	version string
	logger  *logs.Logger
}

func ServeAPI(r *mux.Router, mgr *nitrokeyapi.Manager, v string, dmw *logs.MemoryWriter) {
	api := &api{
		mgr:     mgr,
		version: v,
		logger:  &logs.Logger{Writer: dmw},
	}
	r.HandleFunc("/", api.Info)
	r.HandleFunc("/configure", api.Info)
	r.HandleFunc("/enumerate", api.Enumerate)
	r.Use(handlers.CORS(
		handlers.AllowedOriginValidator(corsValidator()),
		handlers.AllowedMethods([]string{"POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{
			"Accept", "Accept-Language", "Content-Language", "Origin", "Content-Type",
		}),
	))
}

// VersionInfo is the response of / and /configure.
type VersionInfo struct {
	Version string `json:"version"`
}

// EnumerateEntry is one attached device in the /enumerate response.
type EnumerateEntry struct {
	Path         string `json:"path"`
	Model        string `json:"model"`
	SerialNumber string `json:"serialNumber,omitempty"`
	InUse        bool   `json:"inUse"`
}

func (a *api) Info(w http.ResponseWriter, r *http.Request) {
	a.logger.Log("version " + a.version)

	err := json.NewEncoder(w).Encode(VersionInfo{
		Version: a.version,
	})
	a.checkJSONError(w, err)
}

func (a *api) Enumerate(w http.ResponseWriter, r *http.Request) {
	a.logger.Log("start")
	devices, err := a.mgr.ListDevices()
	if err != nil {
		a.respondError(w, err)
		return
	}
	entries := make([]EnumerateEntry, 0, len(devices))
	for _, dev := range devices {
		entries = append(entries, EnumerateEntry{
			Path:         dev.Path,
			Model:        dev.Model.String(),
			SerialNumber: dev.SerialNumber,
			InUse:        a.mgr.InUse(dev.Path),
		})
	}
	a.logger.Log("encoding and exiting")
	err = json.NewEncoder(w).Encode(entries)
	a.checkJSONError(w, err)
}

func corsValidator() handlers.OriginValidator {
	nregex := regexp.MustCompile(`^https://([[:alnum:]\-_]+\.)*nitrokey\.com$`)
	// `localhost:8xxx` and `5xxx` are added for easing local development.
	lregex := regexp.MustCompile(`^https?://localhost:[58][[:digit:]]{3}$`)
	v := func(origin string) bool {
		if lregex.MatchString(origin) {
			return true
		}

		if nregex.MatchString(origin) {
			return true
		}

		return false
	}

	return v
}

func (a *api) checkJSONError(w http.ResponseWriter, err error) {
	if err != nil {
		a.respondError(w, err)
	}
}

func (a *api) respondError(w http.ResponseWriter, err error) {
	type jsonError struct {
		Error string `json:"error"`
	}
	a.logger.Log("Returning error: " + err.Error())
	w.WriteHeader(http.StatusBadRequest)

	// if even the encoder of the error errors, just log the error
	err = json.NewEncoder(w).Encode(jsonError{
		Error: err.Error(),
	})
	if err != nil {
		a.logger.Log("Error while writing error: " + err.Error())
	}
}
