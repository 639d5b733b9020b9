package quizzes

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quizforge-backend/documents"
	mailer "quizforge-backend/email"
	"quizforge-backend/generation"
	"quizforge-backend/login"
	"quizforge-backend/migrations"
	"quizforge-backend/quota"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Generator is what the handler needs from the generation side.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) ([]generation.Question, error)
	ModelUsed() string
}

// Reserver is what the handler needs from the quota side.
type Reserver interface {
	CheckAndReserve(ctx context.Context, userID int, plan string) (*quota.Reservation, error)
}

// Store is the persistence surface the handler works against. *Repository
// is the real implementation.
type Store interface {
	Create(q *Quiz) error
	GetByID(id int, withQuestions bool) (*Quiz, error)
	GetByShareToken(token string) (*Quiz, error)
	ListForUser(userID int, status, search string, page, perPage int) ([]Quiz, int, error)
	UpdateMeta(id int, title, description string) error
	Publish(id int, shareToken string) (bool, error)
	Archive(id int) (bool, error)
	Delete(id int) error
	IncrementViewCount(id int) error
	AddQuestion(qs *Question) error
	GetQuestion(quizID, questionID int) (*Question, error)
	UpdateQuestion(qs *Question) error
	DeleteQuestion(quizID, questionID int) error
	ReorderQuestions(quizID int, ids []int) error
}

// DocumentStore resolves uploaded files used as generation sources.
type DocumentStore interface {
	GetByID(id int) (*documents.Document, error)
}

type Handler struct {
	repo   Store
	docs   DocumentStore
	ledger Reserver
	gen    Generator

	// planOf resolves the caller's plan; swapped out in tests.
	planOf func(userID int) (plan, email string)
}

func NewHandler(repo Store, docs DocumentStore, ledger Reserver, gen Generator) *Handler {
	return &Handler{
		repo:   repo,
		docs:   docs,
		ledger: ledger,
		gen:    gen,
		planOf: func(userID int) (string, string) {
			u := migrations.GetUserByID(userID)
			if u == nil {
				return "free", ""
			}
			return u.Plan, u.Email
		},
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	grp := r.Group("/api/quizzes", login.AuthRequired())
	grp.POST("", h.create)
	grp.GET("", h.list)
	grp.GET("/:id", h.get)
	grp.PUT("/:id", h.update)
	grp.DELETE("/:id", h.delete)
	grp.POST("/:id/publish", h.publish)
	grp.POST("/:id/archive", h.archive)
	grp.POST("/:id/share", h.share)
	grp.POST("/:id/questions", h.addQuestion)
	grp.POST("/:id/questions/reorder", h.reorderQuestions)
	grp.PUT("/:id/questions/:qid", h.updateQuestion)
	grp.DELETE("/:id/questions/:qid", h.deleteQuestion)

	// Public, unauthenticated access by share token.
	r.GET("/api/quiz/:token", h.getShared)
}

type createPayload struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	SourceText    string   `json:"source_text"`
	SourceFileID  *int     `json:"source_file_id"`
	QuestionCount int      `json:"question_count"`
	QuestionTypes []string `json:"question_types"`
	Difficulty    string   `json:"difficulty_level"`
}

// create runs the whole generation pipeline: resolve source text, reserve a
// quota slot, generate, persist as draft. A failed generation refunds the
// slot; a partial one does not.
func (h *Handler) create(c *gin.Context) {
	userID, _ := login.UserID(c)
	var p createPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid body"})
		return
	}
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "title required"})
		return
	}
	if p.QuestionCount == 0 {
		p.QuestionCount = 5
	}

	sourceText := strings.TrimSpace(p.SourceText)
	if p.SourceFileID != nil {
		doc, err := h.docs.GetByID(*p.SourceFileID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not load source file"})
			return
		}
		if doc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "source file not found"})
			return
		}
		if doc.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your file"})
			return
		}
		if doc.ExtractionStatus != documents.StatusSuccess {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_error", "message": "source file has no extracted text"})
			return
		}
		sourceText = doc.ExtractedText
	}

	req := generation.Request{
		Text:       sourceText,
		Count:      p.QuestionCount,
		Types:      p.QuestionTypes,
		Difficulty: p.Difficulty,
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}

	plan, userEmail := h.planOf(userID)
	res, err := h.ledger.CheckAndReserve(c.Request.Context(), userID, plan)
	if err != nil {
		if errors.Is(err, quota.ErrLimitExceeded) {
			if userEmail != "" {
				go func() {
					if err := mailer.SendUpgradeSuggestion(userEmail); err != nil {
						log.Printf("[quizzes][quota] upgrade email failed for %s: %v", userEmail, err)
					}
				}()
			}
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "limit_exceeded", "message": "monthly quiz limit reached; upgrade to keep generating"})
			return
		}
		log.Printf("[quizzes][quota] reserve failed user=%d: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not check quota"})
		return
	}

	start := time.Now()
	generated, err := h.gen.Generate(c.Request.Context(), req)
	if err != nil {
		if rerr := res.Refund(c.Request.Context()); rerr != nil {
			log.Printf("[quizzes][quota] refund failed user=%d: %v", userID, rerr)
		}
		switch {
		case errors.Is(err, generation.ErrTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout", "message": "question generation timed out"})
		case errors.Is(err, generation.ErrGenerationFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": "generation_failed", "message": "could not generate questions from the source text"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		}
		return
	}

	params, _ := json.Marshal(gin.H{
		"question_count": req.Count,
		"question_types": req.Types,
		"difficulty":     req.Difficulty,
	})
	quiz := &Quiz{
		UserID:               userID,
		Title:                p.Title,
		Description:          strings.TrimSpace(p.Description),
		SourceText:           sourceText,
		SourceFileID:         p.SourceFileID,
		DifficultyLevel:      req.Difficulty,
		QuestionTypes:        req.Types,
		AIModelUsed:          h.gen.ModelUsed(),
		GenerationTime:       time.Since(start).Seconds(),
		GenerationParameters: string(params),
	}
	for i, g := range generated {
		quiz.Questions = append(quiz.Questions, fromGenerated(g, i))
	}
	if err := h.repo.Create(quiz); err != nil {
		log.Printf("[quizzes][create] insert failed user=%d: %v", userID, err)
		if rerr := res.Refund(c.Request.Context()); rerr != nil {
			log.Printf("[quizzes][quota] refund failed user=%d: %v", userID, rerr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not save quiz"})
		return
	}
	quiz.SourceText = ""
	c.JSON(http.StatusCreated, gin.H{
		"quiz":  quiz,
		"quota": gin.H{"plan": res.Plan, "remaining": res.Remaining},
	})
}

func (h *Handler) list(c *gin.Context) {
	userID, _ := login.UserID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	status := c.Query("status")
	if status != "" && status != StatusDraft && status != StatusPublished && status != StatusArchived {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid status filter"})
		return
	}
	quizzes, total, err := h.repo.ListForUser(userID, status, c.Query("search"), page, perPage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not list quizzes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"quizzes":  quizzes,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// loadOwned fetches the quiz and enforces ownership; it writes the error
// response itself and returns nil when the caller should stop.
func (h *Handler) loadOwned(c *gin.Context, withQuestions bool) *Quiz {
	userID, _ := login.UserID(c)
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid id"})
		return nil
	}
	quiz, err := h.repo.GetByID(id, withQuestions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not load quiz"})
		return nil
	}
	if quiz == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "quiz not found"})
		return nil
	}
	if quiz.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your quiz"})
		return nil
	}
	return quiz
}

func (h *Handler) get(c *gin.Context) {
	quiz := h.loadOwned(c, true)
	if quiz == nil {
		return
	}
	if c.Query("include_source") != "1" {
		quiz.SourceText = ""
	}
	c.JSON(http.StatusOK, gin.H{"quiz": quiz})
}

type updatePayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *Handler) update(c *gin.Context) {
	quiz := h.loadOwned(c, false)
	if quiz == nil {
		return
	}
	if quiz.Status == StatusArchived {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "archived quizzes are read-only"})
		return
	}
	var p updatePayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid body"})
		return
	}
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		p.Title = quiz.Title
	}
	if err := h.repo.UpdateMeta(quiz.ID, p.Title, strings.TrimSpace(p.Description)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not update quiz"})
		return
	}
	quiz.Title = p.Title
	quiz.Description = strings.TrimSpace(p.Description)
	quiz.SourceText = ""
	c.JSON(http.StatusOK, gin.H{"quiz": quiz})
}

// delete removes drafts outright. A published quiz is archived instead so
// its share links die gracefully; an archived one can be deleted for real.
func (h *Handler) delete(c *gin.Context) {
	quiz := h.loadOwned(c, false)
	if quiz == nil {
		return
	}
	if quiz.Status == StatusPublished {
		if _, err := h.repo.Archive(quiz.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not archive quiz"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "quiz archived", "status": StatusArchived})
		return
	}
	if err := h.repo.Delete(quiz.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not delete quiz"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "quiz deleted"})
}

func newShareToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (h *Handler) publish(c *gin.Context) {
	quiz := h.loadOwned(c, false)
	if quiz == nil {
		return
	}
	if !CanTransition(quiz.Status, StatusPublished) {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "only drafts can be published"})
		return
	}
	if quiz.QuestionCount == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "cannot publish a quiz without questions"})
		return
	}
	token := newShareToken()
	ok, err := h.repo.Publish(quiz.ID, token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not publish quiz"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "quiz is no longer a draft"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "quiz published",
		"status":      StatusPublished,
		"share_token": token,
		"share_url":   "/api/quiz/" + token,
	})
}

func (h *Handler) archive(c *gin.Context) {
	quiz := h.loadOwned(c, false)
	if quiz == nil {
		return
	}
	if !CanTransition(quiz.Status, StatusArchived) {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "quiz is already archived"})
		return
	}
	ok, err := h.repo.Archive(quiz.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not archive quiz"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "quiz is already archived"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "quiz archived", "status": StatusArchived})
}

func (h *Handler) share(c *gin.Context) {
	quiz := h.loadOwned(c, false)
	if quiz == nil {
		return
	}
	if quiz.Status != StatusPublished || quiz.ShareToken == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "publish the quiz before sharing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"share_token": quiz.ShareToken,
		"share_url":   "/api/quiz/" + quiz.ShareToken,
		"view_count":  quiz.ViewCount,
	})
}

// getShared serves a published quiz to anyone holding the link. Correct
// answers and explanations are stripped; this is the taker's view.
func (h *Handler) getShared(c *gin.Context) {
	token := c.Param("token")
	quiz, err := h.repo.GetByShareToken(token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not load quiz"})
		return
	}
	if quiz == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "quiz not found"})
		return
	}
	if err := h.repo.IncrementViewCount(quiz.ID); err != nil {
		log.Printf("[quizzes][share] view count failed quiz=%d: %v", quiz.ID, err)
	}
	quiz.ViewCount++
	quiz.SourceText = ""
	for i := range quiz.Questions {
		quiz.Questions[i].CorrectAnswer = ""
		quiz.Questions[i].Explanation = ""
		quiz.Questions[i].SourceSentence = ""
	}
	c.JSON(http.StatusOK, gin.H{"quiz": quiz})
}

type questionPayload struct {
	QuestionText    string   `json:"question_text"`
	QuestionType    string   `json:"question_type"`
	DifficultyLevel string   `json:"difficulty_level"`
	Options         []string `json:"options"`
	CorrectAnswer   string   `json:"correct_answer"`
	Explanation     string   `json:"explanation"`
	Topic           string   `json:"topic"`
	Keywords        []string `json:"keywords"`
}

func (p *questionPayload) validate() (string, string) {
	p.QuestionText = strings.TrimSpace(p.QuestionText)
	p.CorrectAnswer = strings.TrimSpace(p.CorrectAnswer)
	if p.QuestionText == "" || p.CorrectAnswer == "" {
		return "", "question_text and correct_answer required"
	}
	qt := generation.CanonicalType(p.QuestionType)
	if qt == "" {
		return "", "unsupported question type"
	}
	if qt == generation.TypeMultipleChoice {
		if len(p.Options) < 2 {
			return "", "multiple choice questions need at least two options"
		}
		found := false
		for _, opt := range p.Options {
			if strings.EqualFold(strings.TrimSpace(opt), p.CorrectAnswer) {
				found = true
				break
			}
		}
		if !found {
			return "", "correct_answer must be one of the options"
		}
	}
	switch p.DifficultyLevel {
	case "":
		p.DifficultyLevel = generation.DifficultyMedium
	case generation.DifficultyEasy, generation.DifficultyMedium, generation.DifficultyHard:
	default:
		return "", "unsupported difficulty"
	}
	return qt, ""
}

// editableQuiz loads the quiz and rejects edits on archived ones.
func (h *Handler) editableQuiz(c *gin.Context) *Quiz {
	quiz := h.loadOwned(c, false)
	if quiz == nil {
		return nil
	}
	if quiz.Status == StatusArchived {
		c.JSON(http.StatusConflict, gin.H{"error": "validation_error", "message": "archived quizzes are read-only"})
		return nil
	}
	return quiz
}

func (h *Handler) addQuestion(c *gin.Context) {
	quiz := h.editableQuiz(c)
	if quiz == nil {
		return
	}
	var p questionPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid body"})
		return
	}
	qt, msg := p.validate()
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": msg})
		return
	}
	qs := &Question{
		QuizID:          quiz.ID,
		QuestionText:    p.QuestionText,
		QuestionType:    qt,
		DifficultyLevel: p.DifficultyLevel,
		Options:         p.Options,
		CorrectAnswer:   p.CorrectAnswer,
		Explanation:     p.Explanation,
		Topic:           p.Topic,
		Keywords:        p.Keywords,
	}
	if err := h.repo.AddQuestion(qs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not add question"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"question": qs})
}

func (h *Handler) updateQuestion(c *gin.Context) {
	quiz := h.editableQuiz(c)
	if quiz == nil {
		return
	}
	qid, err := strconv.Atoi(c.Param("qid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid question id"})
		return
	}
	existing, err := h.repo.GetQuestion(quiz.ID, qid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not load question"})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "question not found"})
		return
	}
	var p questionPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid body"})
		return
	}
	qt, msg := p.validate()
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": msg})
		return
	}
	existing.QuestionText = p.QuestionText
	existing.QuestionType = qt
	existing.DifficultyLevel = p.DifficultyLevel
	existing.Options = p.Options
	existing.CorrectAnswer = p.CorrectAnswer
	existing.Explanation = p.Explanation
	existing.Topic = p.Topic
	existing.Keywords = p.Keywords
	if err := h.repo.UpdateQuestion(existing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not update question"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"question": existing})
}

func (h *Handler) deleteQuestion(c *gin.Context) {
	quiz := h.editableQuiz(c)
	if quiz == nil {
		return
	}
	qid, err := strconv.Atoi(c.Param("qid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid question id"})
		return
	}
	existing, err := h.repo.GetQuestion(quiz.ID, qid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not load question"})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "question not found"})
		return
	}
	if err := h.repo.DeleteQuestion(quiz.ID, qid); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not delete question"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "question deleted"})
}

type reorderPayload struct {
	QuestionIDs []int `json:"question_ids"`
}

func (h *Handler) reorderQuestions(c *gin.Context) {
	quiz := h.editableQuiz(c)
	if quiz == nil {
		return
	}
	var p reorderPayload
	if err := c.ShouldBindJSON(&p); err != nil || len(p.QuestionIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "question_ids required"})
		return
	}
	if err := h.repo.ReorderQuestions(quiz.ID, p.QuestionIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "questions reordered"})
}
