package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/valorence/relayctl/internal/model"
	"github.com/valorence/relayctl/internal/timeseries"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorResponse(w, http.StatusBadRequest, "invalid login payload")
			return
		}
	} else if err := r.ParseForm(); err == nil {
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	} else {
		errorResponse(w, http.StatusBadRequest, "invalid login payload")
		return
	}

	token, _, err := s.issuer.Login(req.Username, req.Password)
	if err != nil {
		errorResponse(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	jsonResponse(w, map[string]string{"access_token": token, "token_type": "bearer"}, http.StatusOK)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.bus.GetConfig(r.Context()), http.StatusOK)
}

func (s *Server) handleGetConfigSection(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	cfg := s.bus.GetConfig(r.Context())
	raw, err := sectionJSON(cfg, section)
	if err != nil {
		errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var doc model.Config
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid config document")
		return
	}
	if err := s.bus.UpdateConfig(r.Context(), doc); err != nil {
		errorFromErr(w, err)
		return
	}
	jsonResponse(w, s.bus.GetConfig(r.Context()), http.StatusOK)
}

func (s *Server) handleUpdateConfigSection(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid section body")
		return
	}
	if err := s.bus.UpdateConfigSection(r.Context(), section, json.RawMessage(raw)); err != nil {
		errorFromErr(w, err)
		return
	}
	cfg := s.bus.GetConfig(r.Context())
	out, err := sectionJSON(cfg, section)
	if err != nil {
		errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleRevertConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.bus.RevertConfig(r.Context()); err != nil {
		errorFromErr(w, err)
		return
	}
	jsonResponse(w, s.bus.GetConfig(r.Context()), http.StatusOK)
}

// handleIO builds a handler for on/off/pulse against /io/{id}/state/{op}.
func (s *Server) handleIO(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		switch op {
		case "on":
			res, err := s.bus.TurnOn(r.Context(), id)
			if err != nil {
				errorFromErr(w, err)
				return
			}
			jsonResponse(w, map[string]string{"state": res.NewState.String()}, http.StatusOK)
		case "off":
			res, err := s.bus.TurnOff(r.Context(), id)
			if err != nil {
				errorFromErr(w, err)
				return
			}
			jsonResponse(w, map[string]string{"state": res.NewState.String()}, http.StatusOK)
		case "pulse":
			res, err := s.bus.Pulse(r.Context(), id)
			if err != nil {
				errorFromErr(w, err)
				return
			}
			jsonResponse(w, map[string]any{
				"initial_state": res.InitialState.String(),
				"duration":      res.Duration.String(),
			}, http.StatusOK)
		}
	}
}

func (s *Server) handleRelayState(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, stateStrings(s.bus.RelayStates(nil)), http.StatusOK)
}

func (s *Server) handleRelayEnabledState(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, relay := range s.bus.Relays() {
		if relay.IsEnabled() {
			ids = append(ids, relay.ID)
		}
	}
	jsonResponse(w, stateStrings(s.bus.RelayStates(ids)), http.StatusOK)
}

func stateStrings(m map[string]model.State) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

func (s *Server) handleRuleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.bus.RuleStatuses()
	type row struct {
		RuleID    string    `json:"rule_id"`
		Triggered bool      `json:"triggered"`
		Since     time.Time `json:"since,omitempty"`
	}
	out := make([]row, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, row{RuleID: st.RuleID, Triggered: st.Triggered, Since: st.Since})
	}
	jsonResponse(w, out, http.StatusOK)
}

func (s *Server) handleTimeseriesQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := timeseries.Query{SourceID: q.Get("source_id"), Field: q.Get("field")}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			query.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			query.To = t
		}
	}
	res, err := s.store.Query(r.Context(), query)
	if err != nil {
		errorFromErr(w, err)
		return
	}
	jsonResponse(w, res, http.StatusOK)
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	if err := s.bus.Reboot(r.Context()); err != nil {
		errorFromErr(w, err)
		return
	}
	jsonResponse(w, map[string]string{"message": "reboot initiated"}, http.StatusOK)
}

func sectionJSON(cfg model.Config, section string) ([]byte, error) {
	switch section {
	case "general":
		return json.Marshal(cfg.General)
	case "network":
		return json.Marshal(cfg.Network)
	case "date_time":
		return json.Marshal(cfg.DateTime)
	case "email":
		return json.Marshal(cfg.Email)
	case "relays":
		return json.Marshal(cfg.Relays)
	case "tasks":
		return json.Marshal(cfg.Tasks)
	default:
		return nil, errUnknownSection(section)
	}
}

func errUnknownSection(name string) error {
	return &sectionError{name: name}
}

type sectionError struct{ name string }

func (e *sectionError) Error() string { return "unknown config section " + strconv.Quote(e.name) }
