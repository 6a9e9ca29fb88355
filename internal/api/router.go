package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openreach/trialconsent/internal/middleware"
	"github.com/openreach/trialconsent/internal/services"
)

type Router struct {
	store       Store
	audit       *services.AuditService
	auth        *services.AuthService
	studies     *services.StudyService
	categories  *services.CategoryService
	enrollments *services.EnrollmentService
	consents    *services.ConsentService
	exports     *services.ExportService
}

func NewRouter(store Store) *Router {
	audit := services.NewAuditService(newAuditStoreAdapter(store))
	return &Router{
		store:       store,
		audit:       audit,
		auth:        services.NewAuthService(newAuthStoreAdapter(store), middleware.SignToken),
		studies:     services.NewStudyService(newStudyStoreAdapter(store), audit),
		categories:  services.NewCategoryService(newCategoryStoreAdapter(store), audit),
		enrollments: services.NewEnrollmentService(newEnrollmentStoreAdapter(store), audit),
		consents:    services.NewConsentService(newConsentStoreAdapter(store), audit),
		exports:     services.NewExportService(newExportStoreAdapter(store)),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleRegister)
	mux.HandleFunc("/api/auth/login", rt.handleLogin)
	mux.HandleFunc("/api/studies", rt.handleStudies)
	mux.HandleFunc("/api/studies/", rt.handleStudyScoped)
	mux.HandleFunc("/api/public/studies/", rt.handlePublicStudyScoped)
	mux.HandleFunc("/api/public/consents/", rt.handleReceipt)
	mux.HandleFunc("/api/public/participants/", rt.handleParticipantScoped)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status := http.StatusInternalServerError
	switch se.Code {
	case services.ErrorInvalid:
		status = http.StatusBadRequest
	case services.ErrorUnauthorized:
		status = http.StatusUnauthorized
	case services.ErrorForbidden:
		status = http.StatusForbidden
	case services.ErrorNotFound:
		status = http.StatusNotFound
	case services.ErrorConflict:
		status = http.StatusConflict
	case services.ErrorIntegrity:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": string(se.Code), "message": se.Message})
}

// researcherID returns the authenticated researcher or writes 401.
func researcherID(w http.ResponseWriter, r *http.Request) (string, bool) {
	c := middleware.ClaimsFromContext(r.Context())
	if c == nil || c.Role != "researcher" || c.UID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return c.UID, true
}

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Register(req.Email, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user_id": res.UserID})
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user_id": res.UserID})
}

type studyPayload struct {
	Title                string                  `json:"title"`
	Summary              string                  `json:"summary"`
	Purpose              string                  `json:"purpose"`
	Contact              string                  `json:"contact"`
	Status               string                  `json:"status"`
	RetentionDefaultDays int                     `json:"retention_default_days"`
	Categories           []services.CategoryEdit `json:"categories"`
}

// POST /api/studies (create), GET /api/studies (list own)
func (rt *Router) handleStudies(w http.ResponseWriter, r *http.Request) {
	uid, ok := researcherID(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req studyPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		st, err := rt.studies.CreateStudy(uid, services.StudyInput{
			Title:                req.Title,
			Summary:              req.Summary,
			Purpose:              req.Purpose,
			Contact:              req.Contact,
			Status:               req.Status,
			RetentionDefaultDays: req.RetentionDefaultDays,
		}, req.Categories)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case http.MethodGet:
		list, err := rt.studies.ListStudies(uid)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"studies": list})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// /api/studies/{id}[/...]
func (rt *Router) handleStudyScoped(w http.ResponseWriter, r *http.Request) {
	uid, ok := researcherID(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/studies/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		rt.handleStudy(w, r, uid, id)
		return
	}
	switch {
	case len(parts) == 2 && parts[1] == "categories" && r.Method == http.MethodPut:
		rt.handleCategoryEdits(w, r, uid, id)
	case len(parts) == 2 && parts[1] == "clone" && r.Method == http.MethodPost:
		rt.handleClone(w, r, uid, id)
	case len(parts) == 2 && parts[1] == "joincode" && r.Method == http.MethodPost:
		rt.handleJoinCode(w, uid, id)
	case len(parts) == 2 && parts[1] == "audit" && r.Method == http.MethodGet:
		rt.handleAuditList(w, uid, id)
	case len(parts) == 3 && parts[1] == "audit" && parts[2] == "verify" && r.Method == http.MethodGet:
		rt.handleAuditVerify(w, uid, id)
	case len(parts) == 2 && parts[1] == "enrollments" && r.Method == http.MethodGet:
		rt.handleEnrollmentsList(w, uid, id)
	case len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodGet:
		rt.handleExport(w, r, uid, id)
	case len(parts) == 3 && parts[1] == "participants" && r.Method == http.MethodGet:
		rt.handleStudyConsents(w, uid, id, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleStudy(w http.ResponseWriter, r *http.Request, uid, id string) {
	switch r.Method {
	case http.MethodGet:
		st, err := rt.studies.GetOwnedStudy(id, uid)
		if err != nil {
			writeErr(w, err)
			return
		}
		cats, err := rt.categories.EnsureMinimumCategories(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"study": st, "categories": cats})
	case http.MethodPut:
		var req studyPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		st, err := rt.studies.UpdateStudy(id, uid, services.StudyInput{
			Title:                req.Title,
			Summary:              req.Summary,
			Purpose:              req.Purpose,
			Contact:              req.Contact,
			Status:               req.Status,
			RetentionDefaultDays: req.RetentionDefaultDays,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case http.MethodDelete:
		if err := rt.studies.DeleteStudy(id, uid); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) handleCategoryEdits(w http.ResponseWriter, r *http.Request, uid, id string) {
	var req struct {
		Categories []services.CategoryEdit `json:"categories"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Categories) == 0 {
		http.Error(w, "categories required", http.StatusBadRequest)
		return
	}
	cats, err := rt.categories.ApplyEdits(id, uid, req.Categories)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (rt *Router) handleClone(w http.ResponseWriter, r *http.Request, uid, id string) {
	// categories are topped up first so the clone never starts short
	if _, err := rt.categories.EnsureMinimumCategories(id); err != nil {
		writeErr(w, err)
		return
	}
	clone, err := rt.studies.CloneStudy(id, uid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clone)
}

func (rt *Router) handleJoinCode(w http.ResponseWriter, uid, id string) {
	code, err := rt.enrollments.RegenerateJoinCode(id, uid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"join_code": code})
}

func (rt *Router) handleAuditList(w http.ResponseWriter, uid, id string) {
	if _, err := rt.studies.GetOwnedStudy(id, uid); err != nil {
		writeErr(w, err)
		return
	}
	entries, err := rt.audit.List(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (rt *Router) handleAuditVerify(w http.ResponseWriter, uid, id string) {
	if _, err := rt.studies.GetOwnedStudy(id, uid); err != nil {
		writeErr(w, err)
		return
	}
	report, err := rt.audit.Verify(id)
	if err != nil {
		if se, ok := services.AsServiceError(err); ok && se.Code == services.ErrorIntegrity && report != nil {
			// a broken chain is a finding, not a request failure
			writeJSON(w, http.StatusOK, report)
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) handleEnrollmentsList(w http.ResponseWriter, uid, id string) {
	list, err := rt.enrollments.ListEnrollments(id, uid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enrollments": list})
}

func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request, uid, id string) {
	format := r.URL.Query().Get("format")
	var data []byte
	var err error
	var filename string
	switch format {
	case "", "consents":
		data, err = rt.exports.ConsentMatrixCSV(id, uid)
		filename = "consents.csv"
	case "audit":
		data, err = rt.exports.AuditChainCSV(id, uid)
		filename = "audit.csv"
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	_, _ = w.Write(data)
}

func (rt *Router) handleStudyConsents(w http.ResponseWriter, uid, id, pid string) {
	list, err := rt.consents.StudyConsents(id, uid, pid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consents": list})
}

// /api/public/studies/{slug}[/join|consent|withdraw|unenroll]
func (rt *Router) handlePublicStudyScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/public/studies/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	st := rt.store.GetStudyBySlug(parts[0])
	if st == nil || st.Status == services.StudyStatusDraft {
		http.Error(w, "study not found", http.StatusNotFound)
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		cats, err := rt.categories.EnsureMinimumCategories(st.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		view := *st
		view.JoinCode = ""
		view.OwnerID = ""
		writeJSON(w, http.StatusOK, map[string]any{"study": view, "categories": cats})
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ParticipantID string          `json:"participant_id"`
		Token         string          `json:"token"`
		Code          string          `json:"code"`
		Choices       map[string]bool `json:"choices"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch parts[1] {
	case "join":
		res, err := rt.enrollments.Join(st.ID, req.ParticipantID, req.Code)
		if err != nil {
			writeErr(w, err)
			return
		}
		out := map[string]any{"study_id": st.ID, "participant_id": res.Participant.ID}
		if res.Created {
			out["self_token"] = res.Participant.SelfToken
		}
		writeJSON(w, http.StatusOK, out)
	case "consent":
		// a direct POST may arrive before any render topped categories up
		if _, err := rt.categories.EnsureMinimumCategories(st.ID); err != nil {
			writeErr(w, err)
			return
		}
		c, err := rt.consents.RecordDecision(st.ID, req.ParticipantID, req.Choices, false)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case "withdraw":
		if _, err := rt.categories.EnsureMinimumCategories(st.ID); err != nil {
			writeErr(w, err)
			return
		}
		c, err := rt.consents.Withdraw(st.ID, req.ParticipantID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case "unenroll":
		if err := rt.enrollments.Unenroll(st.ID, req.ParticipantID); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.NotFound(w, r)
	}
}

// GET /api/public/consents/{id}/receipt?participant_id=&token=
func (rt *Router) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/public/consents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "receipt" {
		http.NotFound(w, r)
		return
	}
	pid := r.URL.Query().Get("participant_id")
	token := r.URL.Query().Get("token")
	c, err := rt.consents.Receipt(parts[0], pid, token)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(c.ReceiptJSON))
}

// GET /api/public/participants/{id}/consents?study_id=&token=
func (rt *Router) handleParticipantScoped(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/public/participants/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "consents" {
		http.NotFound(w, r)
		return
	}
	studyID := r.URL.Query().Get("study_id")
	token := r.URL.Query().Get("token")
	list, err := rt.consents.History(studyID, parts[0], token)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consents": list})
}
