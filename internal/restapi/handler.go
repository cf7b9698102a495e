package restapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/storage"
	"github.com/taggeddeploy/tds/pkg/logger"
)

// Handler wires a minimal gorilla/mux router over the deployment write
// resources; JSON encoding and response shaping stay deliberately bare,
// the rules live in Validators.
type Handler struct {
	gw         storage.Gateway
	validators *Validators
	authz      *Authorizer
	log        *logger.Logger
}

// NewHandler builds a Handler bound to gw and authz.
func NewHandler(gw storage.Gateway, authz *Authorizer, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("restapi")
	}
	return &Handler{gw: gw, validators: NewValidators(gw), authz: authz, log: log}
}

// Router builds the *mux.Router for the deployment resources.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/tier_deployments", h.createAppDeployment).Methods(http.MethodPost)
	r.HandleFunc("/tier_deployments/{id}", h.updateAppDeployment).Methods(http.MethodPut, http.MethodPatch)
	r.HandleFunc("/host_deployments", h.createHostDeployment).Methods(http.MethodPost)
	r.HandleFunc("/host_deployments/{id}", h.updateHostDeployment).Methods(http.MethodPut, http.MethodPatch)
	r.HandleFunc("/applications/{app}/tiers/{tier}/environments/{env}/current_deployment", h.currentTierDeployment).Methods(http.MethodGet)
	r.HandleFunc("/applications/{app}/hosts/{host}/current_deployment", h.currentHostDeployment).Methods(http.MethodGet)
	r.HandleFunc("/search/{objType}", h.search).Methods(http.MethodGet)
	return r
}

func (h *Handler) createAppDeployment(w http.ResponseWriter, r *http.Request) {
	if err := h.authz.Authorize(r, OpCreateTierDeployment); err != nil {
		writeError(w, err)
		return
	}
	var ad domain.AppDeployment
	if !decodeJSON(w, r, &ad) {
		return
	}
	created, err := h.validators.CreateAppDeployment(r.Context(), ad)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) updateAppDeployment(w http.ResponseWriter, r *http.Request) {
	if err := h.authz.Authorize(r, OpUpdateTierDeployment); err != nil {
		writeError(w, err)
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var ad domain.AppDeployment
	if !decodeJSON(w, r, &ad) {
		return
	}
	ad.ID = id
	updated, err := h.validators.UpdateAppDeployment(r.Context(), ad)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) createHostDeployment(w http.ResponseWriter, r *http.Request) {
	if err := h.authz.Authorize(r, OpCreateHostDeployment); err != nil {
		writeError(w, err)
		return
	}
	var hd domain.HostDeployment
	if !decodeJSON(w, r, &hd) {
		return
	}
	created, err := h.validators.CreateHostDeployment(r.Context(), hd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) updateHostDeployment(w http.ResponseWriter, r *http.Request) {
	if err := h.authz.Authorize(r, OpUpdateHostDeployment); err != nil {
		writeError(w, err)
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var hd domain.HostDeployment
	if !decodeJSON(w, r, &hd) {
		return
	}
	hd.ID = id
	updated, err := h.validators.UpdateHostDeployment(r.Context(), hd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) currentTierDeployment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tier, err := h.gw.GetTierByName(r.Context(), vars["tier"])
	if err != nil {
		writeError(w, err)
		return
	}
	env, err := h.gw.GetEnvironmentByName(r.Context(), vars["env"])
	if err != nil {
		writeError(w, err)
		return
	}
	ad, err := h.gw.MostRecentAppDeploymentAnyPackage(r.Context(), tier.ID, env.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("must_be_validated") == "true" && ad.Status != domain.AppDeploymentValidated {
		writeError(w, domain.NewError(domain.KindNotFound, "current deployment is not validated"))
		return
	}
	writeJSON(w, http.StatusOK, ad)
}

func (h *Handler) currentHostDeployment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	host, err := h.gw.GetHostByHostname(r.Context(), vars["host"])
	if err != nil {
		writeError(w, err)
		return
	}
	hds, err := h.gw.ListHostDeploymentsByHost(r.Context(), host.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(hds) == 0 {
		writeError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, hds[len(hds)-1])
}

// search is a read-only endpoint paging the gateway's list finders with
// limit/start.
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	start := queryInt(r, "start", 0)

	var rows []any
	var err error
	switch mux.Vars(r)["objType"] {
	case "projects":
		var projects []domain.Project
		if projects, err = h.gw.ListProjects(r.Context()); err == nil {
			for _, p := range projects {
				rows = append(rows, p)
			}
		}
	case "applications":
		var apps []domain.Application
		if apps, err = h.gw.ListApplications(r.Context()); err == nil {
			for _, a := range apps {
				rows = append(rows, a)
			}
		}
	case "tiers":
		var tiers []domain.Tier
		if tiers, err = h.gw.ListTiers(r.Context()); err == nil {
			for _, t := range tiers {
				rows = append(rows, t)
			}
		}
	case "environments":
		var envs []domain.Environment
		if envs, err = h.gw.ListEnvironments(r.Context()); err == nil {
			for _, e := range envs {
				rows = append(rows, e)
			}
		}
	default:
		writeError(w, domain.NewError(domain.KindInvalidInput, "unsearchable object type %q", mux.Vars(r)["objType"]))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": pageRows(rows, start, limit)})
}

// pageRows applies start/limit windowing to a result set.
func pageRows(rows []any, start, limit int) []any {
	if start < 0 {
		start = 0
	}
	if start >= len(rows) {
		return []any{}
	}
	end := len(rows)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return rows[start:end]
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeError(w, domain.NewError(domain.KindInvalidInput, "invalid %s", name))
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, domain.Wrap(domain.KindInvalidInput, err, "malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.Is(err, domain.KindNotFound):
		status = http.StatusNotFound
	case domain.Is(err, domain.KindInvalidInput):
		status = http.StatusBadRequest
	case domain.Is(err, domain.KindInvariantViolation), domain.Is(err, domain.KindConflict):
		status = http.StatusConflict
	case domain.Is(err, domain.KindAuthorizationDenied):
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
