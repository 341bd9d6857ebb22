package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"decisionlens/internal/auth"
	"decisionlens/internal/ident"
	"decisionlens/internal/store"
)

type registerRequest struct {
	UserName string `json:"userName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserName == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "userName, email and password required.")
		return
	}

	u, err := s.auth.Register(r.Context(), req.UserName, req.Email, req.Password)
	if errors.Is(err, auth.ErrEmailTaken) {
		writeError(w, http.StatusConflict, "Email already taken.")
		return
	}
	if err != nil {
		log.Printf("register: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":       u.ID,
		"userName": u.UserName,
		"email":    u.Email,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password required.")
		return
	}

	res, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusBadRequest, "Invalid credentials.")
		return
	}
	if err != nil {
		log.Printf("login: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "refreshToken",
		Value:    res.RefreshToken,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"accessToken": res.AccessToken,
		"userName":    res.UserName,
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("refreshToken")
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "No refresh token.")
		return
	}
	access, err := s.auth.Refresh(r.Context(), cookie.Value)
	if err != nil {
		writeError(w, http.StatusForbidden, "Invalid refresh token.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("refreshToken"); err == nil && cookie.Value != "" {
		if err := s.auth.Logout(r.Context(), cookie.Value); err != nil {
			log.Printf("logout: %v", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "refreshToken",
		Value:    "",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"email":    claims.Email,
		"userName": claims.UserName,
	})
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}

	c := store.Conversation{
		ID:        ident.New(),
		Title:     req.Title,
		UserID:    claims.UserID(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateConversation(r.Context(), c); err != nil {
		log.Printf("create conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"conversationId": c.ID})
}

type conversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdDateTime"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	convs, err := s.store.Conversations(r.Context(), claims.UserID())
	if err != nil {
		log.Printf("list conversations: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	out := make([]conversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationSummary{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

type responseView struct {
	ID                  string    `json:"id"`
	DecisionCategory    string    `json:"decisionCategory"`
	CognitiveBiases     []string  `json:"cognitiveBiases"`
	Version             int       `json:"version"`
	MissingAlternatives []string  `json:"missingAlternatives"`
	CreatedAt           time.Time `json:"createdDateTime"`
}

type messageView struct {
	ID              string        `json:"id"`
	ParentMessageID *string       `json:"parentMessageId"`
	Status          store.Status  `json:"status"`
	Description     string        `json:"description"`
	Decision        string        `json:"decision"`
	Considerations  []string      `json:"considerations"`
	CreatedAt       time.Time     `json:"createdDateTime"`
	AiResponse      *responseView `json:"aiResponse"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id := r.PathValue("id")
	if !ident.IsValid(id) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	conv, err := s.store.Conversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.UserID != claims.UserID()) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		log.Printf("get conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	rows, err := s.store.MessagesWithLatest(r.Context(), id)
	if err != nil {
		log.Printf("list messages: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	out := make([]messageView, 0, len(rows))
	for _, row := range rows {
		mv := messageView{
			ID:              row.Message.ID,
			ParentMessageID: row.Message.ParentMessageID,
			Status:          row.Message.Status,
			Description:     row.Message.Description,
			Decision:        row.Message.Decision,
			Considerations:  row.Message.Considerations,
			CreatedAt:       row.Message.CreatedAt,
		}
		if row.AiResponse != nil {
			mv.AiResponse = &responseView{
				ID:                  row.AiResponse.ID,
				DecisionCategory:    row.AiResponse.DecisionCategory,
				CognitiveBiases:     row.AiResponse.CognitiveBiases,
				Version:             row.AiResponse.Version,
				MissingAlternatives: row.AiResponse.MissingAlternatives,
				CreatedAt:           row.AiResponse.CreatedAt,
			}
		}
		out = append(out, mv)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	err := s.store.DeleteConversation(r.Context(), r.PathValue("id"), claims.UserID())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		log.Printf("delete conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, true)
}
