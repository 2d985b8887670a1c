package httpapi

import (
	"net/http"
	"strings"

	"github.com/havenlab/haven"
	"github.com/havenlab/haven/vault"
)

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if s.teams == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "teams not configured"))
		return
	}
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		s.writeErr(w, haven.E(haven.CodeValidation, "name is required"))
		return
	}
	now := haven.NowUnix()
	team := haven.Team{
		ID:          teamID(in.Name),
		Name:        in.Name,
		Description: in.Description,
		CreatedAt:   now,
		CreatedBy:   userID,
	}
	if err := s.teams.CreateTeam(r.Context(), team); err != nil {
		s.writeErr(w, err)
		return
	}
	// The creator joins as the team's first super_admin.
	member := haven.Member{
		TeamID:   team.ID,
		UserID:   userID,
		Role:     haven.RoleSuperAdmin,
		JoinedAt: now,
		LastSeen: now,
	}
	if err := s.teams.AddMember(r.Context(), member); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, team, "team created")
}

// teamID derives a stable slug-plus-suffix identifier from the name.
func teamID(name string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ' || r == '-' || r == '_':
			return '-'
		default:
			return -1
		}
	}, name)
	slug = strings.Trim(slug, "-")
	if len(slug) > 24 {
		slug = slug[:24]
	}
	suffix := haven.NewID()
	return slug + "-" + suffix[len(suffix)-8:]
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	teamID := r.PathValue("id")
	if s.teams == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "teams not configured"))
		return
	}
	d, err := s.fabric.RequireRole(r.Context(), teamID, userID, haven.RoleGuest, "members_listed")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
		return
	}
	members, err := s.teams.ListMembers(r.Context(), teamID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, members, "")
}

func (s *Server) handleGenerateInvite(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	inv, err := s.fabric.GenerateInvite(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"code":       inv.Code,
		"expires_at": iso(inv.ExpiresAt),
	}, "invite generated")
}

func (s *Server) handleRedeemInvite(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	var in struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	d, err := s.fabric.RedeemInvite(r.Context(), strings.TrimSpace(in.Code), userID, clientIP(r))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
		return
	}
	s.writeJSON(w, http.StatusOK, d, "invite redeemed")
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	var in struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	d, err := s.fabric.Promote(r.Context(), r.PathValue("id"), userID, in.UserID, haven.Role(in.Role))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
		return
	}
	s.writeJSON(w, http.StatusOK, d, "role updated")
}

func (s *Server) handleScheduleDelayed(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	teamID := r.PathValue("id")
	var in struct {
		UserID string `json:"user_id"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	d, err := s.fabric.RequireRole(r.Context(), teamID, userID, haven.RoleAdmin, "promotion_requested")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
		return
	}
	p, err := s.fabric.ScheduleDelayedPromotion(r.Context(), teamID, in.UserID, in.Reason)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"id":         p.ID,
		"execute_at": iso(p.ExecuteAt),
	}, "promotion scheduled")
}

func (s *Server) handleTempPromotion(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	teamID := r.PathValue("id")
	d, err := s.fabric.RequireRole(r.Context(), teamID, userID, haven.RoleAdmin, "temp_promotion_requested")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
		return
	}
	p, d, err := s.fabric.PromoteTempSuperAdmin(r.Context(), teamID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeConflict, d.Reason))
		return
	}
	s.writeJSON(w, http.StatusCreated, p, "temporary promotion created")
}

func (s *Server) handleApproveTemp(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	d, err := s.fabric.ApproveTempPromotion(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
		return
	}
	s.writeJSON(w, http.StatusOK, d, "temporary promotion approved")
}

func (s *Server) handleRevertTemp(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	d, err := s.fabric.RevertTempPromotion(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
		return
	}
	s.writeJSON(w, http.StatusOK, d, "temporary promotion reverted")
}

type grantRequest struct {
	ResourceID string `json:"resource_id"`
	Kind       string `json:"resource_kind"`
	Permission string `json:"permission_type"`
	Type       string `json:"grant_type"`
	Value      string `json:"grant_value"`
}

func (s *Server) handleAddGrant(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	teamID := r.PathValue("id")
	if s.teams == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "teams not configured"))
		return
	}
	var in grantRequest
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	d, err := s.fabric.RequireRole(r.Context(), teamID, userID, haven.RoleAdmin, "grant_added")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
		return
	}
	g := haven.Grant{
		ResourceID: in.ResourceID,
		Kind:       haven.ResourceKind(in.Kind),
		TeamID:     teamID,
		Permission: in.Permission,
		Type:       haven.GrantType(in.Type),
		Value:      in.Value,
		CreatedAt:  haven.NowUnix(),
		CreatedBy:  userID,
	}
	if err := s.teams.AddGrant(r.Context(), g); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, g, "grant added")
}

func (s *Server) handleRemoveGrant(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	teamID := r.PathValue("id")
	if s.teams == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "teams not configured"))
		return
	}
	var in grantRequest
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	d, err := s.fabric.RequireRole(r.Context(), teamID, userID, haven.RoleAdmin, "grant_removed")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
		return
	}
	g := haven.Grant{
		ResourceID: in.ResourceID,
		Kind:       haven.ResourceKind(in.Kind),
		TeamID:     teamID,
		Permission: in.Permission,
		Type:       haven.GrantType(in.Type),
		Value:      in.Value,
	}
	if err := s.teams.RemoveGrant(r.Context(), g); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"resource_id": in.ResourceID}, "grant removed")
}

// handleAudit lists recent audit entries. With a team_id query the
// caller must be that team's super_admin; without one only founders may
// read the global log.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if s.audit == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "audit not configured"))
		return
	}
	if teamID := r.URL.Query().Get("team_id"); teamID != "" {
		d, err := s.fabric.RequireRole(r.Context(), teamID, userID, haven.RoleSuperAdmin, "audit_viewed")
		if err != nil {
			s.writeErr(w, err)
			return
		}
		if !d.Allow {
			s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
			return
		}
	} else if !s.fabric.IsFounder(userID) {
		s.writeErr(w, haven.E(haven.CodeForbidden, "global audit access requires Founder rights"))
		return
	}
	entries, err := s.audit.Recent(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries, "")
}

// --- Vault ---

// vaultCan runs the audited permission cascade for one vault operation.
func (s *Server) vaultCan(w http.ResponseWriter, r *http.Request, teamID, userID, resourceID, permission string) bool {
	d, err := s.fabric.Can(r.Context(), teamID, userID, haven.ResourceVault, resourceID, permission)
	if err != nil {
		s.writeErr(w, err)
		return false
	}
	if !d.Allow {
		s.writeErr(w, haven.E(haven.CodeForbidden, d.Reason))
		return false
	}
	return true
}

func (s *Server) handleVaultPut(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	teamID := r.PathValue("id")
	if s.vault == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "vault not configured"))
		return
	}
	var in struct {
		ID         string            `json:"id"`
		Name       string            `json:"name"`
		Type       string            `json:"type"`
		MimeType   string            `json:"mime_type"`
		Metadata   map[string]string `json:"metadata"`
		Content    string            `json:"content"`
		Passphrase string            `json:"passphrase"`
	}
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	if in.Name == "" || in.Content == "" || in.Passphrase == "" {
		s.writeErr(w, haven.E(haven.CodeValidation, "name, content, and passphrase are required"))
		return
	}
	if !s.vaultCan(w, r, teamID, userID, in.ID, "write") {
		return
	}
	item, err := s.vault.Put(r.Context(), teamID, in.Passphrase, userID, vault.PutRequest{
		ID:       in.ID,
		Name:     in.Name,
		Type:     in.Type,
		MimeType: in.MimeType,
		Metadata: in.Metadata,
		Plain:    []byte(in.Content),
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item, "item stored")
}

func (s *Server) handleVaultList(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	teamID := r.PathValue("id")
	if s.vault == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "vault not configured"))
		return
	}
	if !s.vaultCan(w, r, teamID, userID, "vault", "read") {
		return
	}
	items, err := s.vault.List(r.Context(), teamID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items, "")
}

func (s *Server) handleVaultOpen(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	teamID := r.PathValue("id")
	itemID := r.PathValue("item")
	if s.vault == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "vault not configured"))
		return
	}
	var in struct {
		Passphrase string `json:"passphrase"`
	}
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	if !s.vaultCan(w, r, teamID, userID, itemID, "read") {
		return
	}
	plain, item, err := s.vault.Open(r.Context(), teamID, in.Passphrase, itemID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"item":    item,
		"content": string(plain),
	}, "")
}

func (s *Server) handleVaultDelete(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	teamID := r.PathValue("id")
	itemID := r.PathValue("item")
	if s.vault == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "vault not configured"))
		return
	}
	if !s.vaultCan(w, r, teamID, userID, itemID, "admin") {
		return
	}
	if err := s.vault.Delete(r.Context(), teamID, itemID, userID); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"item_id": itemID}, "item deleted")
}
