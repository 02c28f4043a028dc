package reward

import (
	"net/http"

	"github.com/starfall/economy-engine/internal/account"
	"github.com/starfall/economy-engine/internal/httpx"
)

// DrawRequest is the JSON body for POST .../rewards/draw.
type DrawRequest struct {
	TableID string `json:"table_id"`
}

// LuckRequest is the JSON body for POST .../luck.
type LuckRequest struct {
	ItemID string `json:"item_id"`
}

// HandleDraw handles POST /api/v1/realms/{realmID}/accounts/{userID}/rewards/draw
func (s *Service) HandleDraw(w http.ResponseWriter, r *http.Request) {
	var req DrawRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	res, err := s.Draw(r.Context(), account.KeyFromRequest(r), req.TableID)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleActivateLuck handles POST /api/v1/realms/{realmID}/accounts/{userID}/luck
func (s *Service) HandleActivateLuck(w http.ResponseWriter, r *http.Request) {
	var req LuckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	mod, err := s.ActivateLuck(r.Context(), account.KeyFromRequest(r), req.ItemID)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, mod)
}

// OpenRequest is the JSON body for POST .../containers/open.
type OpenRequest struct {
	ItemID string `json:"item_id"`
}

// HandleOpenContainer handles POST /api/v1/realms/{realmID}/accounts/{userID}/containers/open
func (s *Service) HandleOpenContainer(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	res, err := s.OpenContainer(r.Context(), account.KeyFromRequest(r), req.ItemID)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleListTables handles GET /api/v1/loot-tables
func (s *Service) HandleListTables(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.catalog.Tables())
}
