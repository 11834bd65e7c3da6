package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"rotasave.org/internal/auth"
	"rotasave.org/internal/rosca"
)

type createGroupRequest struct {
	ID                   *uint64 `json:"id,omitempty"`
	Creator              string  `json:"creator"`
	ContributionAmount   int64   `json:"contribution_amount"`
	CycleDurationSeconds uint64  `json:"cycle_duration_seconds"`
	MaxMembers           uint32  `json:"max_members"`
	CreatedAt            *int64  `json:"created_at,omitempty"`
}

type joinRequest struct {
	Member string `json:"member"`
}

type contributeRequest struct {
	Member    string `json:"member"`
	Amount    int64  `json:"amount"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

type advanceRequest struct {
	Timestamp *int64 `json:"timestamp,omitempty"`
}

type cancelRequest struct {
	Principal string `json:"principal"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// groupView is a group snapshot plus derived fields.
type groupView struct {
	rosca.Group
	PayoutAmount  int64 `json:"payout_amount"`
	NextCycleDue  int64 `json:"next_cycle_due"`
	Complete      bool  `json:"complete"`
	MembersJoined int   `json:"members_joined"`
}

func newGroupView(g rosca.Group) groupView {
	return groupView{
		Group:         g,
		PayoutAmount:  g.PayoutAmount(),
		NextCycleDue:  g.NextCycleDue(),
		Complete:      g.IsComplete(),
		MembersJoined: len(g.Members),
	}
}

func (a *API) registerGroupRoutes() {
	a.mux.HandleFunc("POST /v1/groups", a.createGroup)
	a.mux.HandleFunc("GET /v1/groups/{id}", a.getGroup)
	a.mux.HandleFunc("GET /v1/groups/{id}/cycle", a.getCurrentCycle)
	a.mux.HandleFunc("GET /v1/groups/{id}/status", a.getGroupStatus)
	a.mux.HandleFunc("POST /v1/groups/{id}/members", a.joinGroup)
	a.mux.HandleFunc("POST /v1/groups/{id}/contributions", a.contribute)
	a.mux.HandleFunc("POST /v1/groups/{id}/advance", a.advanceCycle)
	a.mux.HandleFunc("POST /v1/groups/{id}/cancel", a.cancelGroup)
	a.mux.HandleFunc("GET /v1/groups/{id}/payouts", a.listPayouts)
	a.mux.HandleFunc("GET /v1/groups/{id}/cycles/{cycle}/payout", a.getPayout)
	a.mux.HandleFunc("GET /v1/groups/{id}/cycles/{cycle}/contributions/{member}", a.getContribution)
	a.mux.HandleFunc("GET /v1/groups/{id}/cycles/{cycle}/complete", a.contributionsComplete)
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, auth.PermGroupWrite) {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	creator, ok := a.resolveActor(w, r, req.Creator)
	if !ok {
		return
	}
	createdAt := a.timestamp(req.CreatedAt)

	ctx := r.Context()
	var (
		id  uint64
		err error
	)
	if req.ID != nil {
		id = *req.ID
		err = a.engine.CreateGroupWithID(ctx, id, creator, req.ContributionAmount, req.CycleDurationSeconds, req.MaxMembers, createdAt)
	} else {
		id, err = a.engine.CreateGroup(ctx, creator, req.ContributionAmount, req.CycleDurationSeconds, req.MaxMembers, createdAt)
	}
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	g, err := a.engine.GetGroup(ctx, id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/groups/"+strconv.FormatUint(id, 10))
	writeJSON(w, http.StatusCreated, newGroupView(g))
}

func (a *API) getGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := a.readGroup(w, r)
	if !ok {
		return
	}
	g, err := a.engine.GetGroup(r.Context(), id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupView(g))
}

func (a *API) getCurrentCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := a.readGroup(w, r)
	if !ok {
		return
	}
	cycle, err := a.engine.GetCurrentCycle(r.Context(), id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": id, "current_cycle": cycle})
}

func (a *API) getGroupStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := a.readGroup(w, r)
	if !ok {
		return
	}
	status, err := a.engine.GetGroupStatus(r.Context(), id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": id, "status": status})
}

func (a *API) joinGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := a.writeGroup(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	member, ok := a.resolveActor(w, r, req.Member)
	if !ok {
		return
	}
	if err := a.engine.JoinGroup(r.Context(), id, member); err != nil {
		handleEngineError(w, r, err)
		return
	}
	g, err := a.engine.GetGroup(r.Context(), id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupView(g))
}

func (a *API) contribute(w http.ResponseWriter, r *http.Request) {
	id, ok := a.writeGroup(w, r)
	if !ok {
		return
	}
	var req contributeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	member, ok := a.resolveActor(w, r, req.Member)
	if !ok {
		return
	}
	rec, err := a.engine.Contribute(r.Context(), id, member, req.Amount, a.timestamp(req.Timestamp))
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) advanceCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := a.writeGroup(w, r)
	if !ok {
		return
	}
	var req advanceRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	payout, err := a.engine.AdvanceCycle(r.Context(), id, a.timestamp(req.Timestamp))
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

func (a *API) cancelGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := a.writeGroup(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	by, ok := a.resolveActor(w, r, req.Principal)
	if !ok {
		return
	}
	if err := a.engine.CancelGroup(r.Context(), id, by, a.timestamp(req.Timestamp)); err != nil {
		handleEngineError(w, r, err)
		return
	}
	g, err := a.engine.GetGroup(r.Context(), id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupView(g))
}

func (a *API) listPayouts(w http.ResponseWriter, r *http.Request) {
	id, ok := a.readGroup(w, r)
	if !ok {
		return
	}
	items, err := a.engine.ListPayouts(r.Context(), id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	if items == nil {
		items = []rosca.PayoutRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": id, "items": items})
}

func (a *API) getPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := a.readGroup(w, r)
	if !ok {
		return
	}
	cycle, ok := parseCycle(w, r)
	if !ok {
		return
	}
	rec, err := a.engine.GetPayout(r.Context(), id, cycle)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) getContribution(w http.ResponseWriter, r *http.Request) {
	id, ok := a.readGroup(w, r)
	if !ok {
		return
	}
	cycle, ok := parseCycle(w, r)
	if !ok {
		return
	}
	rec, err := a.engine.GetContribution(r.Context(), id, cycle, rosca.Principal(r.PathValue("member")))
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) contributionsComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := a.readGroup(w, r)
	if !ok {
		return
	}
	cycle, ok := parseCycle(w, r)
	if !ok {
		return
	}
	complete, err := a.engine.ContributionsCompleteForCycle(r.Context(), id, cycle)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": id, "cycle": cycle, "complete": complete})
}

// --- helpers ---

func (a *API) authorize(w http.ResponseWriter, r *http.Request, perm string) bool {
	if err := a.requirePermission(r.Context(), perm); err != nil {
		handleAuthError(w, r, err)
		return false
	}
	return true
}

func (a *API) readGroup(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	if !a.authorize(w, r, auth.PermGroupRead) {
		return 0, false
	}
	return parseGroupID(w, r)
}

func (a *API) writeGroup(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	if !a.authorize(w, r, auth.PermGroupWrite) {
		return 0, false
	}
	return parseGroupID(w, r)
}

func (a *API) resolveActor(w http.ResponseWriter, r *http.Request, claimed string) (rosca.Principal, bool) {
	p, err := a.actor(r.Context(), strings.TrimSpace(claimed))
	if err == nil {
		return p, true
	}
	if rosca.CodeOf(err) != "" {
		handleEngineError(w, r, err)
	} else {
		handleAuthError(w, r, err)
	}
	return "", false
}

// timestamp returns the caller-supplied time or the current unix time.
func (a *API) timestamp(ts *int64) int64 {
	if ts != nil {
		return *ts
	}
	return a.now().Unix()
}

func parseGroupID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "group id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

func parseCycle(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	c, err := strconv.ParseUint(r.PathValue("cycle"), 10, 32)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "cycle must be a non-negative integer")
		return 0, false
	}
	return uint32(c), true
}
