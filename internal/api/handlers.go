// Package api exposes HTTP handlers for the activity admin service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/activityadmin/internal/auth"
	"example.com/activityadmin/internal/domain"
)

// APIPrefix is the common path prefix for all service routes.
const APIPrefix = "/api"

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(APIPrefix+"/activities", h.activities)
	mux.HandleFunc(APIPrefix+"/activities/", h.activityByPath)
	mux.HandleFunc("/healthz", healthz)
}

// PublicRoute reports whether the path is served without identity resolution.
func PublicRoute(r *http.Request) bool {
	switch {
	case r.URL.Path == "/healthz", r.URL.Path == "/metrics":
		return true
	case strings.HasPrefix(r.URL.Path, APIPrefix+"/activities/slug/"):
		return true
	case strings.HasPrefix(r.URL.Path, APIPrefix+"/auth/"):
		return true
	}
	return false
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, APIPrefix+"/activities/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	if slug, ok := strings.CutPrefix(rest, "slug/"); ok {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.getActivityBySlug(w, r, slug)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, rest)
	case http.MethodPatch:
		h.updateActivity(w, r, rest)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	if !requireManage(w, r) {
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activity, err := h.service.CreateActivity(r.Context(), domain.CreateActivityInput{
		Name:               req.Name,
		Slug:               req.Slug,
		StartAt:            req.StartAt,
		EndAt:              req.EndAt,
		ClosedAt:           req.ClosedAt,
		SupportedLanguages: req.SupportedLanguages,
		Contents:           toContentInputs(req.Contents),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toActivityView(*activity, true))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if !requireManage(w, r) {
		return
	}

	activities, err := h.service.ListActivities(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity, false))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: items})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	if !requireManage(w, r) {
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed activity id")
		return
	}

	activity, err := h.service.GetActivity(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity, true))
}

func (h *Handler) getActivityBySlug(w http.ResponseWriter, r *http.Request, slug string) {
	lang := r.URL.Query().Get("lang")

	activity, err := h.service.GetActivityBySlug(r.Context(), slug, lang)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicActivityView(*activity))
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request, id string) {
	if !requireManage(w, r) {
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed activity id")
		return
	}

	var req UpdateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	input, err := req.ToInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activity, err := h.service.UpdateActivity(r.Context(), id, input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity, true))
}

// requireManage enforces the activity:manage permission on admin routes.
func requireManage(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasAllPermissions(auth.PermissionActivityManage) {
		writeError(w, http.StatusForbidden, "forbidden", "permission "+auth.PermissionActivityManage+" required")
		return false
	}
	return true
}

// ContentPayload carries one language rendition in a request body.
type ContentPayload struct {
	Lang        string `json:"lang"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// CreateActivityRequest is the payload for POST /api/activities.
type CreateActivityRequest struct {
	Name               string           `json:"name"`
	Slug               string           `json:"slug"`
	StartAt            time.Time        `json:"start_at"`
	EndAt              time.Time        `json:"end_at"`
	ClosedAt           *time.Time       `json:"closed_at,omitempty"`
	SupportedLanguages []string         `json:"supported_languages"`
	Contents           []ContentPayload `json:"contents"`
}

// Validate ensures request completeness before the domain rules run.
func (r CreateActivityRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(r.Slug) == "" {
		return errors.New("slug is required")
	}
	if r.StartAt.IsZero() {
		return errors.New("start_at is required")
	}
	if r.EndAt.IsZero() {
		return errors.New("end_at is required")
	}
	if len(r.SupportedLanguages) == 0 {
		return errors.New("supported_languages must not be empty")
	}
	if len(r.Contents) == 0 {
		return errors.New("contents must not be empty")
	}
	return nil
}

// UpdateActivityRequest is the partial payload for PATCH. closed_at is kept
// raw so that an explicit null (clear) is distinguishable from an absent key.
type UpdateActivityRequest struct {
	Name               *string          `json:"name"`
	Slug               *string          `json:"slug"`
	StartAt            *time.Time       `json:"start_at"`
	EndAt              *time.Time       `json:"end_at"`
	ClosedAt           json.RawMessage  `json:"closed_at"`
	SupportedLanguages []string         `json:"supported_languages"`
	Contents           []ContentPayload `json:"contents"`
}

// ToInput converts the request to the domain's presence-based update input.
func (r UpdateActivityRequest) ToInput() (domain.UpdateActivityInput, error) {
	input := domain.UpdateActivityInput{
		Name:               r.Name,
		Slug:               r.Slug,
		StartAt:            r.StartAt,
		EndAt:              r.EndAt,
		SupportedLanguages: r.SupportedLanguages,
	}
	if r.Contents != nil {
		input.Contents = toContentInputs(r.Contents)
	}

	if len(r.ClosedAt) > 0 {
		input.ClosedAtSet = true
		if string(r.ClosedAt) != "null" {
			var closedAt time.Time
			if err := json.Unmarshal(r.ClosedAt, &closedAt); err != nil {
				return domain.UpdateActivityInput{}, errors.New("closed_at must be an RFC 3339 timestamp or null")
			}
			input.ClosedAt = &closedAt
		}
	}
	return input, nil
}

// ActivityView exposes full details about an activity for admin callers.
type ActivityView struct {
	ActivityID         string        `json:"activity_id"`
	Name               string        `json:"name"`
	Slug               string        `json:"slug"`
	StartAt            time.Time     `json:"start_at"`
	EndAt              time.Time     `json:"end_at"`
	ClosedAt           *time.Time    `json:"closed_at,omitempty"`
	SupportedLanguages []string      `json:"supported_languages"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	Contents           []ContentView `json:"contents,omitempty"`
}

// ContentView represents one stored content row.
type ContentView struct {
	Lang        string `json:"lang"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// PublicActivityView is the projection served on the public slug route.
type PublicActivityView struct {
	Slug               string        `json:"slug"`
	StartAt            time.Time     `json:"start_at"`
	EndAt              time.Time     `json:"end_at"`
	ClosedAt           *time.Time    `json:"closed_at,omitempty"`
	SupportedLanguages []string      `json:"supported_languages"`
	Contents           []ContentView `json:"contents"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items []ActivityView `json:"items"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrSlugTaken):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toContentInputs(payloads []ContentPayload) []domain.ContentInput {
	out := make([]domain.ContentInput, 0, len(payloads))
	for _, payload := range payloads {
		out = append(out, domain.ContentInput{
			Lang:        payload.Lang,
			Title:       payload.Title,
			Description: payload.Description,
		})
	}
	return out
}

func toContentViews(contents []domain.ActivityContent) []ContentView {
	out := make([]ContentView, 0, len(contents))
	for _, content := range contents {
		out = append(out, ContentView{
			Lang:        content.Lang,
			Title:       content.Title,
			Description: content.Description,
		})
	}
	return out
}

func toActivityView(activity domain.Activity, withContents bool) ActivityView {
	view := ActivityView{
		ActivityID:         activity.ID,
		Name:               activity.Name,
		Slug:               activity.Slug,
		StartAt:            activity.StartAt,
		EndAt:              activity.EndAt,
		ClosedAt:           activity.ClosedAt,
		SupportedLanguages: activity.SupportedLanguages,
		CreatedAt:          activity.CreatedAt,
		UpdatedAt:          activity.UpdatedAt,
	}
	if withContents {
		view.Contents = toContentViews(activity.Contents)
	}
	return view
}

func toPublicActivityView(activity domain.Activity) PublicActivityView {
	return PublicActivityView{
		Slug:               activity.Slug,
		StartAt:            activity.StartAt,
		EndAt:              activity.EndAt,
		ClosedAt:           activity.ClosedAt,
		SupportedLanguages: activity.SupportedLanguages,
		Contents:           toContentViews(activity.Contents),
	}
}
