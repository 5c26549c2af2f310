package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"mindsync-backend/internal/middleware"
	"mindsync-backend/internal/models"
)

type questionService interface {
	GetQuestions(ctx context.Context, userID string) (*models.QuestionSet, error)
	SubmitAnswer(ctx context.Context, userID string, questionID int64, answer string) (*models.Answer, error)
}

// AnswerRequest is the body of an answer submission
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// QuestionHandler handles weekly question HTTP requests
type QuestionHandler struct {
	questionService questionService
}

// NewQuestionHandler creates a new question handler
func NewQuestionHandler(questionService questionService) *QuestionHandler {
	return &QuestionHandler{questionService: questionService}
}

// GetQuestions handles GET /api/v1/questions
func (h *QuestionHandler) GetQuestions(w http.ResponseWriter, r *http.Request) {
	set, err := h.questionService.GetQuestions(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondServiceError(w, err, "get questions")
		return
	}
	respondJSON(w, http.StatusOK, set)
}

// SubmitAnswer handles PUT /api/v1/questions/{question_id}/answer
func (h *QuestionHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	questionID, ok := urlID(r, "question_id")
	if !ok {
		respondError(w, "Invalid question id", http.StatusBadRequest)
		return
	}

	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	answer, err := h.questionService.SubmitAnswer(r.Context(), middleware.GetUserID(r.Context()), questionID, req.Answer)
	if err != nil {
		respondServiceError(w, err, "submit answer")
		return
	}
	respondJSON(w, http.StatusOK, answer)
}
