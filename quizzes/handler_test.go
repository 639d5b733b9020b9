package quizzes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"quizforge-backend/documents"
	"quizforge-backend/generation"
	"quizforge-backend/quota"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testSourceText = `The mitochondrion is the powerhouse of the cell and produces most of its chemical energy. ` +
	`Photosynthesis converts light energy into chemical energy stored in glucose molecules. ` +
	`Ribosomes assemble proteins by translating messenger RNA sequences.`

// fakeStore is an in-memory Store; enough behavior for handler tests.
type fakeStore struct {
	quizzes   map[int]*Quiz
	questions map[int]map[int]*Question
	nextQuiz  int
	nextQ     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{quizzes: map[int]*Quiz{}, questions: map[int]map[int]*Question{}, nextQuiz: 1, nextQ: 1}
}

func (s *fakeStore) Create(q *Quiz) error {
	q.ID = s.nextQuiz
	s.nextQuiz++
	q.Status = StatusDraft
	s.questions[q.ID] = map[int]*Question{}
	for i := range q.Questions {
		q.Questions[i].ID = s.nextQ
		s.nextQ++
		q.Questions[i].QuizID = q.ID
		q.Questions[i].OrderIndex = i
		cp := q.Questions[i]
		s.questions[q.ID][cp.ID] = &cp
	}
	q.QuestionCount = len(q.Questions)
	cp := *q
	cp.Questions = nil
	s.quizzes[q.ID] = &cp
	return nil
}

func (s *fakeStore) GetByID(id int, withQuestions bool) (*Quiz, error) {
	q, ok := s.quizzes[id]
	if !ok {
		return nil, nil
	}
	cp := *q
	cp.QuestionCount = len(s.questions[id])
	if withQuestions {
		for _, qs := range s.questions[id] {
			cp.Questions = append(cp.Questions, *qs)
		}
	}
	return &cp, nil
}

func (s *fakeStore) GetByShareToken(token string) (*Quiz, error) {
	for id, q := range s.quizzes {
		if q.ShareToken == token && q.Status == StatusPublished {
			return s.GetByID(id, true)
		}
	}
	return nil, nil
}

func (s *fakeStore) ListForUser(userID int, status, search string, page, perPage int) ([]Quiz, int, error) {
	out := []Quiz{}
	for _, q := range s.quizzes {
		if q.UserID == userID && (status == "" || q.Status == status) {
			out = append(out, *q)
		}
	}
	return out, len(out), nil
}

func (s *fakeStore) UpdateMeta(id int, title, description string) error {
	s.quizzes[id].Title = title
	s.quizzes[id].Description = description
	return nil
}

func (s *fakeStore) Publish(id int, shareToken string) (bool, error) {
	q := s.quizzes[id]
	if q.Status != StatusDraft {
		return false, nil
	}
	q.Status = StatusPublished
	q.ShareToken = shareToken
	q.IsPublic = true
	return true, nil
}

func (s *fakeStore) Archive(id int) (bool, error) {
	q := s.quizzes[id]
	if q.Status == StatusArchived {
		return false, nil
	}
	q.Status = StatusArchived
	q.ShareToken = ""
	q.IsPublic = false
	return true, nil
}

func (s *fakeStore) Delete(id int) error {
	delete(s.quizzes, id)
	delete(s.questions, id)
	return nil
}

func (s *fakeStore) IncrementViewCount(id int) error {
	s.quizzes[id].ViewCount++
	return nil
}

func (s *fakeStore) AddQuestion(qs *Question) error {
	qs.ID = s.nextQ
	s.nextQ++
	qs.OrderIndex = len(s.questions[qs.QuizID])
	cp := *qs
	s.questions[qs.QuizID][qs.ID] = &cp
	return nil
}

func (s *fakeStore) GetQuestion(quizID, questionID int) (*Question, error) {
	qs, ok := s.questions[quizID][questionID]
	if !ok {
		return nil, nil
	}
	cp := *qs
	return &cp, nil
}

func (s *fakeStore) UpdateQuestion(qs *Question) error {
	cp := *qs
	s.questions[qs.QuizID][qs.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteQuestion(quizID, questionID int) error {
	delete(s.questions[quizID], questionID)
	return nil
}

func (s *fakeStore) ReorderQuestions(quizID int, ids []int) error {
	if len(ids) != len(s.questions[quizID]) {
		return fmt.Errorf("reorder needs all %d question ids", len(s.questions[quizID]))
	}
	for i, id := range ids {
		qs, ok := s.questions[quizID][id]
		if !ok {
			return fmt.Errorf("unknown or duplicate question id %d", id)
		}
		qs.OrderIndex = i
	}
	return nil
}

type fakeDocs struct {
	docs map[int]*documents.Document
}

func (f *fakeDocs) GetByID(id int) (*documents.Document, error) {
	return f.docs[id], nil
}

type stubGenerator struct {
	questions []generation.Question
	err       error
}

func (g *stubGenerator) ModelUsed() string { return "stub" }

func (g *stubGenerator) Generate(ctx context.Context, req generation.Request) ([]generation.Question, error) {
	if g.err != nil {
		return nil, g.err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return g.questions, nil
}

func stubQuestions(n int) []generation.Question {
	out := make([]generation.Question, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, generation.Question{
			QuestionText:    fmt.Sprintf("Question %d?", i+1),
			QuestionType:    generation.TypeMultipleChoice,
			Options:         []string{"a", "b", "c", "d"},
			CorrectAnswer:   "a",
			DifficultyLevel: generation.DifficultyMedium,
			Confidence:      0.8,
		})
	}
	return out
}

type testEnv struct {
	store  *fakeStore
	docs   *fakeDocs
	ledger *quota.Ledger
	gen    *stubGenerator
	router *gin.Engine
}

// newTestEnv wires the handler behind routes that authenticate everything
// as the given user id.
func newTestEnv(t *testing.T, userID int, plan string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	env := &testEnv{
		store:  newFakeStore(),
		docs:   &fakeDocs{docs: map[int]*documents.Document{}},
		ledger: quota.NewLedger(rdb),
		gen:    &stubGenerator{questions: stubQuestions(3)},
	}
	h := NewHandler(env.store, env.docs, env.ledger, env.gen)
	h.planOf = func(int) (string, string) { return plan, "" }

	r := gin.New()
	auth := func(c *gin.Context) { c.Set("user_id", userID) }
	grp := r.Group("/api/quizzes", auth)
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
	r.GET("/api/quiz/:token", h.getShared)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func createBody(title string) gin.H {
	return gin.H{
		"title":          title,
		"source_text":    testSourceText,
		"question_count": 3,
		"question_types": []string{"multiple_choice"},
	}
}

func TestCreateQuiz(t *testing.T) {
	env := newTestEnv(t, 1, "free")

	w := env.do(t, http.MethodPost, "/api/quizzes", createBody("Cell Biology"))
	require.Equal(t, http.StatusCreated, w.Code)

	body := decodeBody(t, w)
	quiz := body["quiz"].(map[string]any)
	require.Equal(t, "draft", quiz["status"])
	require.Equal(t, "stub", quiz["ai_model_used"])
	require.Len(t, quiz["questions"], 3)
	require.Empty(t, quiz["source_text"])

	quotaInfo := body["quota"].(map[string]any)
	require.Equal(t, float64(4), quotaInfo["remaining"])

	used, err := env.ledger.Used(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, used)
}

func TestCreateQuizQuotaDenied(t *testing.T) {
	env := newTestEnv(t, 1, "free")
	for i := 0; i < 5; i++ {
		w := env.do(t, http.MethodPost, "/api/quizzes", createBody(fmt.Sprintf("Quiz %d", i)))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/quizzes", createBody("One too many"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "limit_exceeded", decodeBody(t, w)["error"])
}

func TestCreateQuizFailureRefundsQuota(t *testing.T) {
	env := newTestEnv(t, 1, "free")
	env.gen.err = generation.ErrGenerationFailed

	w := env.do(t, http.MethodPost, "/api/quizzes", createBody("Doomed"))
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Equal(t, "generation_failed", decodeBody(t, w)["error"])

	used, err := env.ledger.Used(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 0, used)
}

func TestCreateQuizTimeout(t *testing.T) {
	env := newTestEnv(t, 1, "free")
	env.gen.err = generation.ErrTimeout

	w := env.do(t, http.MethodPost, "/api/quizzes", createBody("Slow"))
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Equal(t, "timeout", decodeBody(t, w)["error"])
}

func TestCreateQuizValidationDoesNotConsumeQuota(t *testing.T) {
	env := newTestEnv(t, 1, "free")

	w := env.do(t, http.MethodPost, "/api/quizzes", gin.H{
		"title":          "Too thin",
		"source_text":    "short",
		"question_count": 3,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "validation_error", decodeBody(t, w)["error"])

	used, err := env.ledger.Used(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 0, used)
}

func TestCreateQuizFromDocument(t *testing.T) {
	env := newTestEnv(t, 1, "premium")
	env.docs.docs[7] = &documents.Document{
		ID: 7, UserID: 1, ExtractionStatus: documents.StatusSuccess, ExtractedText: testSourceText,
	}

	w := env.do(t, http.MethodPost, "/api/quizzes", gin.H{
		"title":          "From upload",
		"source_file_id": 7,
		"question_count": 2,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Someone else's file is off limits.
	env.docs.docs[8] = &documents.Document{
		ID: 8, UserID: 99, ExtractionStatus: documents.StatusSuccess, ExtractedText: testSourceText,
	}
	w = env.do(t, http.MethodPost, "/api/quizzes", gin.H{
		"title":          "Stolen upload",
		"source_file_id": 8,
		"question_count": 2,
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	// A file whose extraction failed cannot feed generation.
	env.docs.docs[9] = &documents.Document{ID: 9, UserID: 1, ExtractionStatus: documents.StatusFailed}
	w = env.do(t, http.MethodPost, "/api/quizzes", gin.H{
		"title":          "Broken upload",
		"source_file_id": 9,
		"question_count": 2,
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func (e *testEnv) mustCreate(t *testing.T, title string) int {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/quizzes", createBody(title))
	require.Equal(t, http.StatusCreated, w.Code)
	quiz := decodeBody(t, w)["quiz"].(map[string]any)
	return int(quiz["id"].(float64))
}

func TestPublishArchiveLifecycle(t *testing.T) {
	env := newTestEnv(t, 1, "premium")
	id := env.mustCreate(t, "Lifecycle")
	path := fmt.Sprintf("/api/quizzes/%d", id)

	w := env.do(t, http.MethodPost, path+"/publish", nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeBody(t, w)["share_token"].(string)
	require.NotEmpty(t, token)

	// Publishing twice is rejected.
	w = env.do(t, http.MethodPost, path+"/publish", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	// Published quizzes archive; the share link dies with it.
	w = env.do(t, http.MethodPost, path+"/archive", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/quiz/"+token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// Archived is terminal.
	w = env.do(t, http.MethodPost, path+"/archive", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, http.MethodPost, path+"/publish", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestDraftCanArchiveDirectly(t *testing.T) {
	env := newTestEnv(t, 1, "premium")
	id := env.mustCreate(t, "Straight to the attic")

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/archive", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDeletePublishedArchivesInstead(t *testing.T) {
	env := newTestEnv(t, 1, "premium")
	id := env.mustCreate(t, "Sticky")
	path := fmt.Sprintf("/api/quizzes/%d", id)

	w := env.do(t, http.MethodPost, path+"/publish", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "archived", decodeBody(t, w)["status"])

	// Still there, just archived. A second delete removes it for real.
	w = env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSharedViewStripsAnswers(t *testing.T) {
	env := newTestEnv(t, 1, "premium")
	id := env.mustCreate(t, "Public one")

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/publish", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeBody(t, w)["share_token"].(string)

	w = env.do(t, http.MethodGet, "/api/quiz/"+token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	quiz := decodeBody(t, w)["quiz"].(map[string]any)
	require.Equal(t, float64(1), quiz["view_count"])
	for _, raw := range quiz["questions"].([]any) {
		qs := raw.(map[string]any)
		require.Empty(t, qs["correct_answer"])
		require.Empty(t, qs["explanation"])
	}

	// Each visit counts.
	w = env.do(t, http.MethodGet, "/api/quiz/"+token, nil)
	quiz = decodeBody(t, w)["quiz"].(map[string]any)
	require.Equal(t, float64(2), quiz["view_count"])
}

func TestShareRequiresPublished(t *testing.T) {
	env := newTestEnv(t, 1, "premium")
	id := env.mustCreate(t, "Not yet public")

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/share", id), nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestArchivedQuizIsReadOnly(t *testing.T) {
	env := newTestEnv(t, 1, "premium")
	id := env.mustCreate(t, "Frozen")
	path := fmt.Sprintf("/api/quizzes/%d", id)

	w := env.do(t, http.MethodPost, path+"/archive", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPut, path, gin.H{"title": "New title"})
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, path+"/questions", gin.H{
		"question_text":  "Late addition?",
		"question_type":  "short_answer",
		"correct_answer": "no",
	})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestQuestionCRUD(t *testing.T) {
	env := newTestEnv(t, 1, "premium")
	id := env.mustCreate(t, "Editable")
	path := fmt.Sprintf("/api/quizzes/%d/questions", id)

	w := env.do(t, http.MethodPost, path, gin.H{
		"question_text":  "Extra question?",
		"question_type":  "true_false",
		"correct_answer": "true",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	qs := decodeBody(t, w)["question"].(map[string]any)
	qid := int(qs["id"].(float64))

	w = env.do(t, http.MethodPut, fmt.Sprintf("%s/%d", path, qid), gin.H{
		"question_text":  "Extra question, reworded?",
		"question_type":  "true_false",
		"correct_answer": "false",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The answer of a multiple choice question must be one of its options.
	w = env.do(t, http.MethodPost, path, gin.H{
		"question_text":  "Pick one?",
		"question_type":  "multiple_choice",
		"options":        []string{"a", "b"},
		"correct_answer": "z",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", path, qid), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", path, qid), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReorderQuestions(t *testing.T) {
	env := newTestEnv(t, 1, "premium")
	id := env.mustCreate(t, "Shuffled")

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/quizzes/%d", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	quiz := decodeBody(t, w)["quiz"].(map[string]any)
	raw := quiz["questions"].([]any)
	ids := make([]int, 0, len(raw))
	for _, item := range raw {
		ids = append(ids, int(item.(map[string]any)["id"].(float64)))
	}
	require.Len(t, ids, 3)

	// Reverse the order.
	reversed := []int{ids[2], ids[1], ids[0]}
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/questions/reorder", id), gin.H{"question_ids": reversed})
	require.Equal(t, http.StatusOK, w.Code)

	// Partial id lists are rejected.
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/quizzes/%d/questions/reorder", id), gin.H{"question_ids": ids[:2]})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t, 1, "premium")
	id := env.mustCreate(t, "Mine")

	// Rebuild the router as user 2 against the same store.
	other := newTestEnv(t, 2, "premium")
	other.store = env.store
	h := NewHandler(env.store, other.docs, other.ledger, other.gen)
	h.planOf = func(int) (string, string) { return "premium", "" }
	r := gin.New()
	grp := r.Group("/api/quizzes", func(c *gin.Context) { c.Set("user_id", 2) })
	grp.GET("/:id", h.get)
	grp.DELETE("/:id", h.delete)
	other.router = r

	w := other.do(t, http.MethodGet, fmt.Sprintf("/api/quizzes/%d", id), nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	w = other.do(t, http.MethodDelete, fmt.Sprintf("/api/quizzes/%d", id), nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusDraft, StatusPublished))
	require.True(t, CanTransition(StatusDraft, StatusArchived))
	require.True(t, CanTransition(StatusPublished, StatusArchived))
	require.False(t, CanTransition(StatusPublished, StatusDraft))
	require.False(t, CanTransition(StatusArchived, StatusDraft))
	require.False(t, CanTransition(StatusArchived, StatusPublished))
}
