package recovery

import (
	"embed"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/helm-recovery/pkg/api"
	"github.com/Mindburn-Labs/helm-recovery/pkg/auth"
	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	setGuardiansSchema = mustSchema("set_guardians")
	initiateSchema     = mustSchema("initiate_recovery")
	updateResultSchema = mustSchema("update_result")
)

func mustSchema(name string) *api.Schema {
	doc, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
	if err != nil {
		panic(err)
	}
	return api.MustCompileSchema(name, string(doc))
}

// CallbackTokenHeader carries the callback token when the body does not.
const CallbackTokenHeader = "X-Callback-Token"

// Handler exposes the coordinator over HTTP.
type Handler struct {
	coord *Coordinator
}

// NewHandler creates a new recovery handler.
func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

// RegisterRoutes registers recovery API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/guardians", h.handleSetGuardians)
	mux.HandleFunc("GET /api/v1/guardians/{account}", h.handleGetGuardians)
	mux.HandleFunc("POST /api/v1/recoveries", h.handleInitiate)
	mux.HandleFunc("GET /api/v1/recoveries/{id}", h.handleGetRequest)
	mux.HandleFunc("POST /api/v1/recoveries/{id}/approvals", h.handleApprove)
	mux.HandleFunc("GET /api/v1/recoveries/{id}/approvals/count", h.handleApprovalCount)
	mux.HandleFunc("POST /api/v1/recoveries/{id}/execute", h.handleExecute)
	mux.HandleFunc("POST /internal/v1/recoveries/{id}/result", h.handleResult)
}

// caller resolves the authenticated account or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (identity.AccountRef, bool) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil || p.Account().IsZero() {
		api.WriteUnauthorized(w, "")
		return "", false
	}
	return p.Account(), true
}

type setGuardiansBody struct {
	Guardians []string `json:"guardians"`
}

func (h *Handler) handleSetGuardians(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var body setGuardiansBody
	if err := api.DecodeJSON(r, setGuardiansSchema, &body); err != nil {
		api.WriteFault(w, r, err)
		return
	}
	if err := h.coord.SetGuardians(r.Context(), who, identity.AccountRefs(body.Guardians)); err != nil {
		api.WriteFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type guardiansResponse struct {
	Account   identity.AccountRef   `json:"account"`
	Guardians []identity.AccountRef `json:"guardians"`
}

func (h *Handler) handleGetGuardians(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	account := identity.NewAccountRef(r.PathValue("account"))
	list, err := h.coord.GetGuardians(r.Context(), account)
	if err != nil {
		api.WriteFault(w, r, err)
		return
	}
	if list == nil {
		api.WriteNotFound(w, "no guardians registered for "+string(account))
		return
	}
	api.WriteJSON(w, http.StatusOK, guardiansResponse{Account: account, Guardians: list})
}

type initiateBody struct {
	Account       string `json:"account"`
	NewCredential string `json:"new_credential"`
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var body initiateBody
	if err := api.DecodeJSON(r, initiateSchema, &body); err != nil {
		api.WriteFault(w, r, err)
		return
	}
	id, err := h.coord.InitiateRecovery(r.Context(), who, identity.NewAccountRef(body.Account), body.NewCredential)
	if err != nil {
		api.WriteFault(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/recoveries/"+id)
	api.WriteJSON(w, http.StatusCreated, map[string]string{"request_id": id})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.coord.ApproveRecovery(r.Context(), who, r.PathValue("id")); err != nil {
		api.WriteFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	handle, err := h.coord.ExecuteRecovery(r.Context(), who, r.PathValue("id"))
	if err != nil {
		api.WriteFault(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusAccepted, map[string]string{
		"request_id": handle.RequestID,
		"attempt_id": handle.AttemptID,
	})
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	id := r.PathValue("id")
	view, found, err := h.coord.GetRecoveryRequest(r.Context(), id)
	if err != nil {
		api.WriteFault(w, r, err)
		return
	}
	if !found {
		api.WriteNotFound(w, "recovery request "+id+" not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleApprovalCount(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	n, err := h.coord.GetApprovalCount(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteFault(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int{"count": n})
}

// ResultBody is the payload external updaters post to the callback route.
type ResultBody struct {
	UpdateResult
	CallbackToken string `json:"callback_token,omitempty"`
}

// handleResult is authenticated by the per-attempt callback token rather than
// a bearer JWT.
func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	var body ResultBody
	if err := api.DecodeJSON(r, updateResultSchema, &body); err != nil {
		api.WriteFault(w, r, err)
		return
	}
	token := body.CallbackToken
	if token == "" {
		token = strings.TrimSpace(r.Header.Get(CallbackTokenHeader))
	}
	if token == "" {
		api.WriteUnauthorized(w, "callback token required")
		return
	}
	if err := h.coord.DeliverResult(r.Context(), r.PathValue("id"), token, body.UpdateResult); err != nil {
		api.WriteFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
