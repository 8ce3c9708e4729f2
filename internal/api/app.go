package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"agrisync/internal/gateway"
	"agrisync/internal/metrics"
	"agrisync/internal/models"
	"agrisync/internal/service"
)

// SubmissionAPI is the field mutation surface.
type SubmissionAPI interface {
	CreateField(ctx context.Context, in models.FieldCreate) service.SubmitResult
	UpdateField(ctx context.Context, in models.FieldUpdate) service.SubmitResult
	DeleteField(ctx context.Context, in models.FieldDelete) service.SubmitResult
}

// AuthAPI is the sign-in surface.
type AuthAPI interface {
	RequestOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, code string) (*models.Session, error)
	Login(ctx context.Context, phone, password string) (*models.Session, error)
	Register(ctx context.Context, user models.User, password string) (*models.Session, error)
	Logout(ctx context.Context) error
}

// ChatAPI is the crop assistant surface.
type ChatAPI interface {
	Ask(ctx context.Context, conversationID, message, lang, imageName string, image io.Reader) (*service.ChatResult, error)
	Reset(ctx context.Context, conversationID string) error
}

// ForecastAPI is the read-only advisory surface proxied to the backend.
type ForecastAPI interface {
	DetectDisease(ctx context.Context, filename string, image io.Reader) (*gateway.DetectionResult, error)
	MarketForecast(ctx context.Context, payload any) (json.RawMessage, error)
	WeatherForecast(ctx context.Context, lat, lon float64, days int) (json.RawMessage, error)
}

// PreferencesAPI is the local UI preference surface.
type PreferencesAPI interface {
	Theme(ctx context.Context) (string, error)
	SetTheme(ctx context.Context, theme string) error
	Language(ctx context.Context) (string, error)
	SetLanguage(ctx context.Context, lang string) error
}

func (s *Server) registerAppRoutes(mux *http.ServeMux) {
	if s.deps.Submissions != nil {
		mux.HandleFunc("/api/v1/fields", s.handleFields)
		mux.HandleFunc("/api/v1/fields/", s.handleFieldByID)
	}
	if s.deps.Chat != nil {
		mux.HandleFunc("/api/v1/chat", s.handleChat)
	}
	if s.deps.Auth != nil {
		mux.HandleFunc("/api/v1/auth/otp/request", s.handleOTPRequest)
		mux.HandleFunc("/api/v1/auth/otp/verify", s.handleOTPVerify)
		mux.HandleFunc("/api/v1/auth/login", s.handleLogin)
		mux.HandleFunc("/api/v1/auth/register", s.handleRegister)
		mux.HandleFunc("/api/v1/auth/logout", s.handleLogout)
	}
	if s.deps.Prefs != nil {
		mux.HandleFunc("/api/v1/preferences", s.handlePreferences)
	}
	if s.deps.Forecast != nil {
		mux.HandleFunc("/api/v1/detect", s.handleDetect)
		mux.HandleFunc("/api/v1/markets/forecast", s.handleMarketForecast)
		mux.HandleFunc("/api/v1/weather/forecast", s.handleWeatherForecast)
	}
}

// writeSubmitResult maps a submission outcome to a status code. Queued is a
// success from the farmer's side, hence 202 rather than an error status.
func writeSubmitResult(w http.ResponseWriter, res service.SubmitResult) {
	switch res.Outcome {
	case service.OutcomeSaved:
		writeJSON(w, http.StatusOK, map[string]any{
			"outcome": res.Outcome,
			"field":   res.Field,
		})
	case service.OutcomeQueued:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"outcome":     res.Outcome,
			"mutation_id": res.MutationID,
		})
	case service.OutcomeRejected:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"outcome": res.Outcome,
			"error":   res.Err.Error(),
		})
	default: // lost
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"outcome": res.Outcome,
			"error":   res.Err.Error(),
		})
	}
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("field_create")

	var in models.FieldCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	writeSubmitResult(w, s.deps.Submissions.CreateField(r.Context(), in))
}

func (s *Server) handleFieldByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/fields/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		metrics.IncControl("field_update")
		patch, err := io.ReadAll(r.Body)
		if err != nil || !json.Valid(patch) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		writeSubmitResult(w, s.deps.Submissions.UpdateField(r.Context(), models.FieldUpdate{ID: id, Patch: patch}))

	case http.MethodDelete:
		metrics.IncControl("field_delete")
		writeSubmitResult(w, s.deps.Submissions.DeleteField(r.Context(), models.FieldDelete{ID: id}))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		metrics.IncControl("chat")
		s.handleChatAsk(w, r)
	case http.MethodDelete:
		metrics.IncControl("chat_reset")
		conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))
		if conversationID == "" {
			writeError(w, http.StatusBadRequest, "conversation_id is required")
			return
		}
		if err := s.deps.Chat.Reset(r.Context(), conversationID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to reset conversation")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleChatAsk(w http.ResponseWriter, r *http.Request) {
	var (
		conversationID, message, lang string
		imageName                     string
		image                         io.Reader
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		conversationID = r.FormValue("conversation_id")
		message = r.FormValue("message")
		lang = r.FormValue("lang")
		if file, header, err := r.FormFile("image"); err == nil {
			defer file.Close()
			imageName = header.Filename
			image = file
		}
	} else {
		var body struct {
			ConversationID string `json:"conversation_id"`
			Message        string `json:"message"`
			Lang           string `json:"lang"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		conversationID, message, lang = body.ConversationID, body.Message, body.Lang
	}

	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if conversationID == "" {
		conversationID = "default"
	}

	res, err := s.deps.Chat.Ask(r.Context(), conversationID, message, lang, imageName, image)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if res.Queued {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"queued":      true,
			"mutation_id": res.MutationID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": res.Reply})
}

func (s *Server) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("auth_otp_request")

	var body struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	if err := s.deps.Auth.RequestOTP(r.Context(), body.Phone); err != nil {
		if errors.Is(err, service.ErrOTPThrottled) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("auth_otp_verify")

	var body struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Phone == "" || body.Code == "" {
		writeError(w, http.StatusBadRequest, "phone and code are required")
		return
	}

	sess, err := s.deps.Auth.VerifyOTP(r.Context(), body.Phone, body.Code)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signed_in": true, "user": sess.User})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("auth_login")

	var body struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Phone == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "phone and password are required")
		return
	}

	sess, err := s.deps.Auth.Login(r.Context(), body.Phone, body.Password)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signed_in": true, "user": sess.User})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("auth_register")

	var body struct {
		models.User
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Phone == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "phone and password are required")
		return
	}

	sess, err := s.deps.Auth.Register(r.Context(), body.User, body.Password)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signed_in": true, "user": sess.User})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("auth_logout")

	if err := s.deps.Auth.Logout(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signed_in": false})
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		metrics.IncControl("preferences_get")
		theme, err := s.deps.Prefs.Theme(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read preferences")
			return
		}
		lang, err := s.deps.Prefs.Language(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read preferences")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"theme": theme, "lang": lang})

	case http.MethodPut:
		metrics.IncControl("preferences_set")
		var body struct {
			Theme string `json:"theme"`
			Lang  string `json:"lang"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if body.Theme != "" {
			if err := s.deps.Prefs.SetTheme(r.Context(), body.Theme); err != nil {
				if errors.Is(err, service.ErrUnknownTheme) {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
				writeError(w, http.StatusInternalServerError, "failed to save preferences")
				return
			}
		}
		if body.Lang != "" {
			if err := s.deps.Prefs.SetLanguage(r.Context(), body.Lang); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to save preferences")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("detect")

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	defer file.Close()

	result, err := s.deps.Forecast.DetectDisease(r.Context(), header.Filename, file)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMarketForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("market_forecast")

	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.deps.Forecast.MarketForecast(r.Context(), payload)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeRaw(w, result)
}

func (s *Server) handleWeatherForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncControl("weather_forecast")

	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lat is required")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lon is required")
		return
	}
	days, _ := strconv.Atoi(q.Get("days"))

	result, err := s.deps.Forecast.WeatherForecast(r.Context(), lat, lon, days)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeRaw(w, result)
}

// writeGatewayError maps backend failures onto this surface: rejections keep
// their status and message, connectivity failures become 502.
func writeGatewayError(w http.ResponseWriter, err error) {
	var he *gateway.HTTPError
	if errors.As(err, &he) {
		writeError(w, he.Status, he.Message)
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func writeRaw(w http.ResponseWriter, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
