package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"observatory/config"
	"observatory/device"
)

// Commander runs commands on bridges. *dispatch.Dispatcher satisfies it.
type Commander interface {
	Dispatch(ctx context.Context, bridge, command, deviceID string, args device.Args) (json.RawMessage, error)
	DispatchAll(ctx context.Context, bridge, command, tag string, args device.Args) (json.RawMessage, error)
	GetDevice(ctx context.Context, bridge, deviceID string) (json.RawMessage, error)
	GetDevices(ctx context.Context, bridge, tag string) (json.RawMessage, error)
}

// Gateway is the bridge connection endpoint. *gateway.Server satisfies it.
type Gateway interface {
	http.Handler
	Connected(bridge string) bool
	Bridges() []string
}

// Managers provides access to shared backend components.
type Managers interface {
	GetConfig() *config.Config
	GetCommander() Commander
	GetGateway() Gateway
}

// BridgeResponse is the JSON response for one bridge.
type BridgeResponse struct {
	Name       string `json:"name"`
	Online     bool   `json:"online"`
	Configured bool   `json:"configured"`
}

type handlers struct {
	managers Managers
}

// NewRouter creates the REST API router.
func NewRouter(managers Managers) chi.Router {
	r := chi.NewRouter()
	h := &handlers{managers: managers}

	r.Get("/bridges", h.handleListBridges)
	r.Route("/bridges/{bridge}", func(r chi.Router) {
		r.Get("/devices", h.handleListDevices)
		r.Get("/devices/{device}", h.handleGetDevice)
		r.Post("/devices/{device}/{command}", h.handleCommand)
		r.Post("/all/{command}", h.handleCommandAll)
	})
	r.Handle("/hardware", managers.GetGateway())

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
	w.Write([]byte("\n"))
}

// writeError renders err as {"oveError": "..."} with a status derived from its kind.
func writeError(w http.ResponseWriter, err error) {
	de := device.Failed(err)
	status := http.StatusBadGateway
	switch de.Kind {
	case device.KindValidation, device.KindUnsupported:
		status = http.StatusBadRequest
	case device.KindRouting:
		status = http.StatusNotFound
	}
	writeJSON(w, status, de)
}

func (h *handlers) handleListBridges(w http.ResponseWriter, r *http.Request) {
	cfg := h.managers.GetConfig()
	gw := h.managers.GetGateway()

	seen := make(map[string]bool)
	var out []BridgeResponse

	cfg.Lock()
	for _, b := range cfg.Bridges {
		seen[b.Name] = true
		out = append(out, BridgeResponse{Name: b.Name, Configured: true})
	}
	cfg.Unlock()

	for i := range out {
		out[i].Online = gw.Connected(out[i].Name)
	}
	for _, name := range gw.Bridges() {
		if !seen[name] {
			out = append(out, BridgeResponse{Name: name, Online: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if out == nil {
		out = []BridgeResponse{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleListDevices(w http.ResponseWriter, r *http.Request) {
	bridge := chi.URLParam(r, "bridge")
	res, err := h.managers.GetCommander().GetDevices(r.Context(), bridge, r.URL.Query().Get("tag"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, res)
}

func (h *handlers) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	bridge := chi.URLParam(r, "bridge")
	res, err := h.managers.GetCommander().GetDevice(r.Context(), bridge, chi.URLParam(r, "device"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, res)
}

func (h *handlers) handleCommand(w http.ResponseWriter, r *http.Request) {
	args, err := readArgs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.managers.GetCommander().Dispatch(r.Context(),
		chi.URLParam(r, "bridge"), chi.URLParam(r, "command"), chi.URLParam(r, "device"), args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, res)
}

func (h *handlers) handleCommandAll(w http.ResponseWriter, r *http.Request) {
	args, err := readArgs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.managers.GetCommander().DispatchAll(r.Context(),
		chi.URLParam(r, "bridge"), chi.URLParam(r, "command"), r.URL.Query().Get("tag"), args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, res)
}

// readArgs decodes an optional JSON object body.
func readArgs(r *http.Request) (device.Args, error) {
	var args device.Args
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&args)
	if errors.Is(err, io.EOF) {
		return device.Args{}, nil
	}
	if err != nil {
		return nil, device.Validationf("Invalid request body: %v", err)
	}
	if args == nil {
		args = device.Args{}
	}
	return args, nil
}
