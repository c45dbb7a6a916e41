package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/next-exp/sipm_daq/pkg/caen"
	"github.com/next-exp/sipm_daq/pkg/config"
	"github.com/next-exp/sipm_daq/pkg/daq"
	"github.com/next-exp/sipm_daq/pkg/indicators"
)

type statsSource interface {
	Stats() (sent, dropped uint64)
}

// controlServer is the HTTP side of the station. It only enqueues commands
// and reads the indicator board; the State record stays with the control
// goroutine.
type controlServer struct {
	commands *daq.CommandQueue
	board    *indicators.Board
	stats    statsSource
	logger   daq.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type runRequest struct {
	Dir            string `json:"dir"`
	Name           string `json:"name"`
	SiPMParameters string `json:"sipm_parameters"`
}

type statusResponse struct {
	State             string              `json:"state"`
	Indicators        indicators.Snapshot `json:"indicators"`
	Names             []string            `json:"names"`
	IndicatorsSent    uint64              `json:"indicators_sent"`
	IndicatorsDropped uint64              `json:"indicators_dropped"`
	PendingCommands   int                 `json:"pending_commands"`
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func sendError(w http.ResponseWriter, status int, err error) {
	sendJSON(w, status, errorResponse{Error: err.Error()})
}

func newRouter(s *controlServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/connect", s.enqueueHandler(func(*http.Request) (daq.Command, error) {
		return daq.Connect{}, nil
	}))
	r.Post("/mode/{mode}", s.enqueueHandler(func(r *http.Request) (daq.Command, error) {
		target, err := daq.ParseStateID(chi.URLParam(r, "mode"))
		if err != nil {
			return nil, err
		}
		return daq.SetMode{Target: target}, nil
	}))
	r.Put("/run", s.enqueueHandler(func(r *http.Request) (daq.Command, error) {
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		if req.Name == "" || req.SiPMParameters == "" {
			return nil, errors.New("name and sipm_parameters are required")
		}
		return daq.SetRunInfo{RunDir: req.Dir, RunName: req.Name, SiPMParameters: req.SiPMParameters}, nil
	}))
	r.Put("/config", s.enqueueHandler(func(r *http.Request) (daq.Command, error) {
		d := config.DigitizerConfig{Global: caen.DefaultGlobalConfig()}
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			return nil, err
		}
		if err := config.ValidateDigitizer(d); err != nil {
			return nil, err
		}
		return daq.SetConfig{Model: d.Model, PortNum: d.Port, Global: d.Global, Channels: d.Channels}, nil
	}))
	r.Post("/disconnect", s.enqueueHandler(func(*http.Request) (daq.Command, error) {
		return daq.Disconnect{}, nil
	}))
	r.Post("/close", s.enqueueHandler(func(*http.Request) (daq.Command, error) {
		return daq.Close{}, nil
	}))
	r.Get("/status", s.status)
	return r
}

// enqueueHandler answers 202 once the command is queued. Whether the
// controller accepts it shows up later in /status.
func (s *controlServer) enqueueHandler(build func(*http.Request) (daq.Command, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd, err := build(r)
		if err != nil {
			sendError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.commands.Enqueue(cmd); err != nil {
			s.logger.Warn(err.Error(), "http")
			sendError(w, http.StatusServiceUnavailable, err)
			return
		}
		sendJSON(w, http.StatusAccepted, nil)
	}
}

func (s *controlServer) status(w http.ResponseWriter, r *http.Request) {
	snap := s.board.Latest()
	state := daq.Standby.String()
	if v, ok := snap.Values[indicators.AcquisitionState.String()]; ok {
		state = daq.StateID(int(v)).String()
	}
	resp := statusResponse{
		State:           state,
		Indicators:      snap,
		Names:           s.board.Names(),
		PendingCommands: s.commands.Len(),
	}
	if s.stats != nil {
		resp.IndicatorsSent, resp.IndicatorsDropped = s.stats.Stats()
	}
	sendJSON(w, http.StatusOK, resp)
}
