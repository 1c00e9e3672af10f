package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler serves the control protocol for any Bmi over HTTP. It is the
// counterpart of Client: a native Go model mounted behind a Handler looks
// exactly like a containerized one.
func Handler(model Bmi) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	s := &server{model: model}

	r.Post("/initialize", s.initialize)
	r.Post("/update", s.update)
	r.Post("/update_until", s.updateUntil)
	r.Post("/finalize", s.finalize)

	r.Get("/time/current", s.timeOf(Bmi.GetCurrentTime))
	r.Get("/time/start", s.timeOf(Bmi.GetStartTime))
	r.Get("/time/end", s.timeOf(Bmi.GetEndTime))
	r.Get("/time/step", s.timeOf(Bmi.GetTimeStep))
	r.Get("/time/units", s.timeUnits)

	r.Get("/var/{name}/value", s.getValue)
	r.Post("/var/{name}/value_at_indices", s.getValueAtIndices)
	r.Put("/var/{name}/value", s.setValue)
	r.Put("/var/{name}/value_at_indices", s.setValueAtIndices)
	r.Get("/var/{name}/grid", s.varGrid)

	r.Get("/grid/{grid}/rank", s.gridInt(Bmi.GetGridRank))
	r.Get("/grid/{grid}/size", s.gridInt(Bmi.GetGridSize))
	r.Get("/grid/{grid}/shape", s.gridShape)
	r.Get("/grid/{grid}/x", s.gridFloats(Bmi.GetGridX))
	r.Get("/grid/{grid}/y", s.gridFloats(Bmi.GetGridY))

	r.Get("/vars/input", s.names(Bmi.GetInputVarNames))
	r.Get("/vars/output", s.names(Bmi.GetOutputVarNames))

	return r
}

type server struct {
	model Bmi
}

func (s *server) initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if !decode(w, r, &req) {
		return
	}
	s.run(w, s.model.Initialize(r.Context(), req.ConfigFile))
}

func (s *server) update(w http.ResponseWriter, r *http.Request) {
	s.run(w, s.model.Update(r.Context()))
}

func (s *server) updateUntil(w http.ResponseWriter, r *http.Request) {
	var req untilRequest
	if !decode(w, r, &req) {
		return
	}
	s.run(w, s.model.UpdateUntil(r.Context(), req.Until))
}

func (s *server) finalize(w http.ResponseWriter, r *http.Request) {
	s.run(w, s.model.Finalize(r.Context()))
}

func (s *server) timeOf(get func(Bmi, context.Context) (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := get(s.model, r.Context())
		s.reply(w, timeResponse{Time: t}, err)
	}
}

func (s *server) timeUnits(w http.ResponseWriter, r *http.Request) {
	units, err := s.model.GetTimeUnits(r.Context())
	s.reply(w, unitsResponse{Units: units}, err)
}

func (s *server) getValue(w http.ResponseWriter, r *http.Request) {
	values, err := s.model.GetValue(r.Context(), chi.URLParam(r, "name"))
	s.reply(w, valuesBody{Values: values}, err)
}

func (s *server) getValueAtIndices(w http.ResponseWriter, r *http.Request) {
	var req indexedBody
	if !decode(w, r, &req) {
		return
	}
	values, err := s.model.GetValueAtIndices(r.Context(), chi.URLParam(r, "name"), req.Indices)
	s.reply(w, valuesBody{Values: values}, err)
}

func (s *server) setValue(w http.ResponseWriter, r *http.Request) {
	var req valuesBody
	if !decode(w, r, &req) {
		return
	}
	s.run(w, s.model.SetValue(r.Context(), chi.URLParam(r, "name"), req.Values))
}

func (s *server) setValueAtIndices(w http.ResponseWriter, r *http.Request) {
	var req indexedBody
	if !decode(w, r, &req) {
		return
	}
	s.run(w, s.model.SetValueAtIndices(r.Context(), chi.URLParam(r, "name"), req.Indices, req.Values))
}

func (s *server) varGrid(w http.ResponseWriter, r *http.Request) {
	grid, err := s.model.GetVarGrid(r.Context(), chi.URLParam(r, "name"))
	s.reply(w, gridResponse{Grid: grid}, err)
}

func (s *server) gridInt(get func(Bmi, context.Context, int) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grid, ok := gridParam(w, r)
		if !ok {
			return
		}
		v, err := get(s.model, r.Context(), grid)
		s.reply(w, intResponse{Value: v}, err)
	}
}

func (s *server) gridShape(w http.ResponseWriter, r *http.Request) {
	grid, ok := gridParam(w, r)
	if !ok {
		return
	}
	shape, err := s.model.GetGridShape(r.Context(), grid)
	s.reply(w, shapeResponse{Shape: shape}, err)
}

func (s *server) gridFloats(get func(Bmi, context.Context, int) ([]float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grid, ok := gridParam(w, r)
		if !ok {
			return
		}
		values, err := get(s.model, r.Context(), grid)
		s.reply(w, valuesBody{Values: values}, err)
	}
}

func (s *server) names(get func(Bmi, context.Context) ([]string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := get(s.model, r.Context())
		s.reply(w, namesResponse{Names: names}, err)
	}
}

func (s *server) run(w http.ResponseWriter, err error) {
	s.reply(w, struct{}{}, err)
}

func (s *server) reply(w http.ResponseWriter, out any, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func gridParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	grid, err := strconv.Atoi(chi.URLParam(r, "grid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return grid, true
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
