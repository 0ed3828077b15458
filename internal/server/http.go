package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/nitrokey-community/nitrod-go/internal/logs"
	"github.com/nitrokey-community/nitrod-go/internal/server/api"
	"github.com/nitrokey-community/nitrod-go/internal/server/status"
	"github.com/nitrokey-community/nitrod-go/nitrokeyapi"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Addr is the fixed listen address of the daemon. Binding to localhost
// only; the daemon never exposes devices to the network.
const Addr = "127.0.0.1:21625"

type serverPrivate struct {
	*http.Server
}

type Server struct {
	serverPrivate

	writer io.Writer
}

func New(
	mgr *nitrokeyapi.Manager,
	stderrWriter io.Writer,
	shortWriter *logs.MemoryWriter,
	longWriter *logs.MemoryWriter,
	version string,
) (*Server, error) {
	logger := &logs.Logger{Writer: longWriter}
	logger.Log("starting")

	httpSrv := &http.Server{
		Addr: Addr,
	}

	allWriter := io.MultiWriter(stderrWriter, shortWriter, longWriter)
	s := &Server{
		serverPrivate: serverPrivate{
			Server: httpSrv,
		},
		writer: allWriter,
	}

	r := mux.NewRouter()
	statusRouter := r.PathPrefix("/status").Subrouter()
	postRouter := r.Methods("POST").Subrouter()
	redirectRouter := r.Methods("GET").Path("/").Subrouter()

	status.ServeStatus(statusRouter, mgr, version, shortWriter, longWriter)
	api.ServeAPI(postRouter, mgr, version, longWriter)

	status.ServeStatusRedirect(redirectRouter)

	var h http.Handler = r

	// Log after the request is done, in the Apache format.
	h = handlers.LoggingHandler(allWriter, h)
	// Log when the request is received.
	h = s.logRequest(h)

	httpSrv.Handler = h

	logger.Log("server created")
	return s, nil
}

func (s *Server) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		text := fmt.Sprintf("%s %s\n", r.Method, r.URL)
		_, err := s.writer.Write([]byte(text))
		if err != nil {
			// give up, just print on stdout
			fmt.Println(err)
		}
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) Run() error {
	return s.ListenAndServe()
}
