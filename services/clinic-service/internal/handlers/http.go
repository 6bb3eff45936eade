package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/SamuelAtedla/heartcare/services/clinic-service/internal/articles"
	"github.com/SamuelAtedla/heartcare/services/clinic-service/internal/storage"
	"github.com/SamuelAtedla/heartcare/services/clinic-service/internal/uploads"
)

type Handler struct {
	repo     *storage.Repository
	articles *articles.Repository
	docs     *uploads.Store
}

func New(repo *storage.Repository, articlesRepo *articles.Repository, docs *uploads.Store) *Handler {
	return &Handler{repo: repo, articles: articlesRepo, docs: docs}
}

// The gateway verifies the JWT and forwards identity in these headers.
func userIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	specialty := strings.TrimSpace(r.URL.Query().Get("specialty"))
	doctors, err := h.repo.ListDoctors(r.Context(), specialty, 100)
	if err != nil {
		http.Error(w, "failed to list doctors", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(doctors))
	for _, d := range doctors {
		out = append(out, map[string]any{
			"doctor_id":              d.DoctorID,
			"full_name":              d.FullName,
			"specialty":              d.Specialty,
			"bio":                    d.Bio,
			"consultation_fee_cents": d.ConsultationFeeCents,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if doctorID == "" {
		http.Error(w, "doctor_id is required", http.StatusBadRequest)
		return
	}

	d, err := h.repo.GetProfile(r.Context(), doctorID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load doctor", http.StatusInternalServerError)
		return
	}
	if !d.Active {
		http.Error(w, "doctor not found", http.StatusNotFound)
		return
	}

	windows, err := h.repo.ListAvailability(r.Context(), doctorID)
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"doctor_id":              d.DoctorID,
		"full_name":              d.FullName,
		"specialty":              d.Specialty,
		"bio":                    d.Bio,
		"consultation_fee_cents": d.ConsultationFeeCents,
		"availability":           availabilityJSON(windows),
	})
}

func availabilityJSON(windows []storage.AvailabilityWindow) []map[string]any {
	out := make([]map[string]any, 0, len(windows))
	for _, v := range windows {
		out = append(out, map[string]any{
			"weekday":      v.Weekday,
			"is_active":    v.Active,
			"start_minute": v.StartMinute,
			"end_minute":   v.EndMinute,
			"slot_minutes": v.SlotMinutes,
		})
	}
	return out
}

func (h *Handler) GetMyProfile(w http.ResponseWriter, r *http.Request) {
	doctorID := userIDFromHeader(r)
	if doctorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	p, err := h.repo.GetOrCreateProfile(r.Context(), doctorID)
	if err != nil {
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doctor_id":              p.DoctorID,
		"full_name":              p.FullName,
		"specialty":              p.Specialty,
		"bio":                    p.Bio,
		"consultation_fee_cents": p.ConsultationFeeCents,
		"active":                 p.Active,
	})
}

func (h *Handler) UpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	doctorID := userIDFromHeader(r)
	if doctorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		FullName             string `json:"full_name"`
		Specialty            string `json:"specialty"`
		Bio                  string `json:"bio"`
		ConsultationFeeCents int64  `json:"consultation_fee_cents"`
		Active               *bool  `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Specialty = strings.TrimSpace(req.Specialty)
	if req.FullName == "" {
		http.Error(w, "full_name is required", http.StatusBadRequest)
		return
	}
	if req.ConsultationFeeCents < 0 {
		http.Error(w, "consultation_fee_cents must not be negative", http.StatusBadRequest)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	if err := h.repo.UpdateProfile(r.Context(), storage.DoctorProfile{
		DoctorID:             doctorID,
		FullName:             req.FullName,
		Specialty:            req.Specialty,
		Bio:                  strings.TrimSpace(req.Bio),
		ConsultationFeeCents: req.ConsultationFeeCents,
		Active:               active,
	}); err != nil {
		http.Error(w, "failed to update profile", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if doctorID == "" {
		doctorID = userIDFromHeader(r)
	}
	if doctorID == "" {
		http.Error(w, "doctor_id is required", http.StatusBadRequest)
		return
	}

	windows, err := h.repo.ListAvailability(r.Context(), doctorID)
	if err != nil {
		http.Error(w, "failed to list availability", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, availabilityJSON(windows))
}

func (h *Handler) UpsertAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID := userIDFromHeader(r)
	if doctorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Weekday     int  `json:"weekday"`
		IsActive    bool `json:"is_active"`
		StartMinute int  `json:"start_minute"`
		EndMinute   int  `json:"end_minute"`
		SlotMinutes int  `json:"slot_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Weekday < 0 || req.Weekday > 6 {
		http.Error(w, "weekday must be between 0 and 6", http.StatusBadRequest)
		return
	}
	if req.SlotMinutes <= 0 {
		http.Error(w, "slot_minutes must be positive", http.StatusBadRequest)
		return
	}

	startMin := req.StartMinute
	endMin := req.EndMinute
	if !req.IsActive {
		startMin = 0
		endMin = 0
	} else if startMin < 0 || startMin >= 1440 || endMin <= 0 || endMin > 1440 || startMin >= endMin {
		http.Error(w, "invalid start_minute/end_minute", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpsertAvailability(r.Context(), storage.AvailabilityWindow{
		DoctorID:    doctorID,
		Weekday:     req.Weekday,
		Active:      req.IsActive,
		StartMinute: startMin,
		EndMinute:   endMin,
		SlotMinutes: req.SlotMinutes,
	}); err != nil {
		http.Error(w, "failed to upsert availability", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateTimeOff(w http.ResponseWriter, r *http.Request) {
	doctorID := userIDFromHeader(r)
	if doctorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(req.EndTime))
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	if !end.After(start) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}

	id, err := h.repo.CreateTimeOff(r.Context(), doctorID, start.UTC(), end.UTC(), strings.TrimSpace(req.Reason))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			http.Error(w, "time off overlaps existing entry", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create time off", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListTimeOff(w http.ResponseWriter, r *http.Request) {
	doctorID := userIDFromHeader(r)
	if doctorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	fromStr := strings.TrimSpace(r.URL.Query().Get("from"))
	toStr := strings.TrimSpace(r.URL.Query().Get("to"))
	if fromStr == "" || toStr == "" {
		http.Error(w, "from and to are required (RFC3339)", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	items, err := h.repo.ListTimeOff(r.Context(), doctorID, from.UTC(), to.UTC(), 100)
	if err != nil {
		http.Error(w, "failed to list time off", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) DeleteTimeOff(w http.ResponseWriter, r *http.Request) {
	doctorID := userIDFromHeader(r)
	if doctorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeleteTimeOff(r.Context(), doctorID, id); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "time off not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete time off", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.repo.GetSettings(r.Context())
	if err != nil {
		http.Error(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":                     s.Name,
		"timezone":                 s.Timezone,
		"reminder_offsets_minutes": s.ReminderOffsetsMinutes,
	})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name                   string `json:"name"`
		Timezone               string `json:"timezone"`
		ReminderOffsetsMinutes []int  `json:"reminder_offsets_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		http.Error(w, "invalid timezone", http.StatusBadRequest)
		return
	}
	for _, v := range req.ReminderOffsetsMinutes {
		if v <= 0 || v > 365*24*60 {
			http.Error(w, "invalid reminder_offsets_minutes", http.StatusBadRequest)
			return
		}
	}

	if err := h.repo.UpdateSettings(r.Context(), storage.ClinicSettings{
		Name:                   strings.TrimSpace(req.Name),
		Timezone:               req.Timezone,
		ReminderOffsetsMinutes: req.ReminderOffsetsMinutes,
	}); err != nil {
		http.Error(w, "failed to update settings", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateArticle(w http.ResponseWriter, r *http.Request) {
	authorID := userIDFromHeader(r)
	if authorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || strings.TrimSpace(req.Body) == "" {
		http.Error(w, "title and body required", http.StatusBadRequest)
		return
	}

	id, err := h.articles.Create(r.Context(), authorID, req.Title, req.Body)
	if err != nil {
		http.Error(w, "failed to create article", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListMyArticles(w http.ResponseWriter, r *http.Request) {
	authorID := userIDFromHeader(r)
	if authorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	items, err := h.articles.ListByAuthor(r.Context(), authorID, 50)
	if err != nil {
		http.Error(w, "failed to list articles", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) PublishArticle(w http.ResponseWriter, r *http.Request) {
	authorID := userIDFromHeader(r)
	if authorID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		ID        string `json:"id"`
		Published bool   `json:"published"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.articles.SetPublished(r.Context(), authorID, req.ID, req.Published); err != nil {
		if articles.IsNotFound(err) {
			http.Error(w, "article not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update article", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListPublishedArticles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items, err := h.articles.ListPublished(r.Context(), 50)
	if err != nil {
		http.Error(w, "failed to list articles", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetArticle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	a, err := h.articles.Get(r.Context(), id, userIDFromHeader(r))
	if err != nil {
		if articles.IsNotFound(err) {
			http.Error(w, "article not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load article", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	ownerID := userIDFromHeader(r)
	if ownerID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(uploads.MaxFileSize); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	doc, err := h.docs.Save(r.Context(), ownerID, header.Filename, contentType, file)
	if err != nil {
		switch {
		case errors.Is(err, uploads.ErrInvalidContentType):
			http.Error(w, "content type not allowed", http.StatusUnsupportedMediaType)
		case errors.Is(err, uploads.ErrFileTooLarge):
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		default:
			http.Error(w, "failed to store document", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ownerID := userIDFromHeader(r)
	if ownerID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	docs, err := h.docs.List(r.Context(), ownerID, 100)
	if err != nil {
		http.Error(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	ownerID := userIDFromHeader(r)
	if ownerID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	content, doc, err := h.docs.Open(r.Context(), ownerID, id)
	if err != nil {
		if errors.Is(err, uploads.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to open document", http.StatusInternalServerError)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.FileName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, content)
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ownerID := userIDFromHeader(r)
	if ownerID == "" {
		http.Error(w, "missing X-User-Id", http.StatusBadRequest)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := h.docs.Delete(r.Context(), ownerID, id); err != nil {
		if errors.Is(err, uploads.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete document", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
