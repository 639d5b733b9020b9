package quizzes

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"quizforge-backend/generation"
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// legalTransitions is the whole lifecycle: drafts publish or archive,
// published quizzes archive, archived quizzes stay archived.
var legalTransitions = map[string][]string{
	StatusDraft:     {StatusPublished, StatusArchived},
	StatusPublished: {StatusArchived},
	StatusArchived:  {},
}

func CanTransition(from, to string) bool {
	for _, t := range legalTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type Quiz struct {
	ID                   int        `json:"id"`
	UserID               int        `json:"user_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	SourceText           string     `json:"source_text,omitempty"`
	SourceFileID         *int       `json:"source_file_id,omitempty"`
	DifficultyLevel      string     `json:"difficulty_level"`
	QuestionTypes        []string   `json:"question_types"`
	Status               string     `json:"status"`
	IsPublic             bool       `json:"is_public"`
	ShareToken           string     `json:"share_token,omitempty"`
	ViewCount            int        `json:"view_count"`
	AIModelUsed          string     `json:"ai_model_used,omitempty"`
	GenerationTime       float64    `json:"generation_time"`
	GenerationParameters string     `json:"generation_parameters,omitempty"`
	PublishedAt          *time.Time `json:"published_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	QuestionCount        int        `json:"question_count"`
	Questions            []Question `json:"questions,omitempty"`
}

type Question struct {
	ID              int      `json:"id"`
	QuizID          int      `json:"quiz_id"`
	QuestionText    string   `json:"question_text"`
	QuestionType    string   `json:"question_type"`
	DifficultyLevel string   `json:"difficulty_level"`
	Options         []string `json:"options,omitempty"`
	CorrectAnswer   string   `json:"correct_answer"`
	Explanation     string   `json:"explanation,omitempty"`
	Topic           string   `json:"topic,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	BloomLevel      string   `json:"bloom_taxonomy_level,omitempty"`
	Confidence      float64  `json:"confidence_score"`
	SourceSentence  string   `json:"source_sentence,omitempty"`
	OrderIndex      int      `json:"order_index"`
}

// fromGenerated maps a canonical generated question into a stored one.
func fromGenerated(g generation.Question, order int) Question {
	return Question{
		QuestionText:    g.QuestionText,
		QuestionType:    g.QuestionType,
		DifficultyLevel: g.DifficultyLevel,
		Options:         g.Options,
		CorrectAnswer:   g.CorrectAnswer,
		Explanation:     g.Explanation,
		Topic:           g.Topic,
		Keywords:        g.Keywords,
		BloomLevel:      g.BloomLevel,
		Confidence:      g.Confidence,
		SourceSentence:  g.SourceSentence,
		OrderIndex:      order,
	}
}

// String slices live in TEXT columns as JSON arrays.
func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create stores the quiz and its questions in one transaction.
func (r *Repository) Create(q *Quiz) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO quizzes (user_id, title, description, source_text, source_file_id, difficulty_level,
		question_types, status, ai_model_used, generation_time, generation_parameters)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		q.UserID, q.Title, q.Description, q.SourceText, q.SourceFileID, q.DifficultyLevel,
		encodeList(q.QuestionTypes), StatusDraft, q.AIModelUsed, q.GenerationTime, q.GenerationParameters)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	q.ID = int(id)
	q.Status = StatusDraft

	for i := range q.Questions {
		q.Questions[i].QuizID = q.ID
		q.Questions[i].OrderIndex = i
		qid, err := insertQuestion(tx, &q.Questions[i])
		if err != nil {
			return err
		}
		q.Questions[i].ID = qid
	}
	q.QuestionCount = len(q.Questions)
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertQuestion(e execer, qs *Question) (int, error) {
	res, err := e.Exec(`INSERT INTO questions (quiz_id, question_text, question_type, difficulty_level, options,
		correct_answer, explanation, topic, keywords, bloom_taxonomy_level, confidence_score, source_sentence, order_index)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		qs.QuizID, qs.QuestionText, qs.QuestionType, qs.DifficultyLevel, encodeList(qs.Options),
		qs.CorrectAnswer, qs.Explanation, qs.Topic, encodeList(qs.Keywords), qs.BloomLevel,
		qs.Confidence, qs.SourceSentence, qs.OrderIndex)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return int(id), err
}

const quizColumns = `id, user_id, title, IFNULL(description,''), IFNULL(source_text,''), source_file_id,
	difficulty_level, IFNULL(question_types,''), status, is_public, IFNULL(share_token,''), view_count,
	IFNULL(ai_model_used,''), generation_time, IFNULL(generation_parameters,''), published_at, created_at, updated_at`

func scanQuiz(row interface{ Scan(...any) error }) (*Quiz, error) {
	var q Quiz
	var sourceFileID sql.NullInt64
	var questionTypes string
	var publishedAt sql.NullTime
	if err := row.Scan(&q.ID, &q.UserID, &q.Title, &q.Description, &q.SourceText, &sourceFileID,
		&q.DifficultyLevel, &questionTypes, &q.Status, &q.IsPublic, &q.ShareToken, &q.ViewCount,
		&q.AIModelUsed, &q.GenerationTime, &q.GenerationParameters, &publishedAt, &q.CreatedAt, &q.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if sourceFileID.Valid {
		id := int(sourceFileID.Int64)
		q.SourceFileID = &id
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		q.PublishedAt = &t
	}
	q.QuestionTypes = decodeList(questionTypes)
	return &q, nil
}

func (r *Repository) GetByID(id int, withQuestions bool) (*Quiz, error) {
	row := r.db.QueryRow(`SELECT `+quizColumns+` FROM quizzes WHERE id=? LIMIT 1`, id)
	q, err := scanQuiz(row)
	if err != nil || q == nil {
		return q, err
	}
	if withQuestions {
		if q.Questions, err = r.questionsFor(q.ID); err != nil {
			return nil, err
		}
		q.QuestionCount = len(q.Questions)
	} else if err := r.db.QueryRow(`SELECT COUNT(1) FROM questions WHERE quiz_id=?`, q.ID).Scan(&q.QuestionCount); err != nil {
		return nil, err
	}
	return q, nil
}

func (r *Repository) GetByShareToken(token string) (*Quiz, error) {
	row := r.db.QueryRow(`SELECT `+quizColumns+` FROM quizzes WHERE share_token=? AND status=? LIMIT 1`, token, StatusPublished)
	q, err := scanQuiz(row)
	if err != nil || q == nil {
		return q, err
	}
	if q.Questions, err = r.questionsFor(q.ID); err != nil {
		return nil, err
	}
	q.QuestionCount = len(q.Questions)
	return q, nil
}

func (r *Repository) questionsFor(quizID int) ([]Question, error) {
	rows, err := r.db.Query(`SELECT id, quiz_id, question_text, question_type, difficulty_level, IFNULL(options,''),
		IFNULL(correct_answer,''), IFNULL(explanation,''), IFNULL(topic,''), IFNULL(keywords,''),
		IFNULL(bloom_taxonomy_level,''), confidence_score, IFNULL(source_sentence,''), order_index
		FROM questions WHERE quiz_id=? ORDER BY order_index, id`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		var qs Question
		var options, keywords string
		if err := rows.Scan(&qs.ID, &qs.QuizID, &qs.QuestionText, &qs.QuestionType, &qs.DifficultyLevel, &options,
			&qs.CorrectAnswer, &qs.Explanation, &qs.Topic, &keywords, &qs.BloomLevel, &qs.Confidence,
			&qs.SourceSentence, &qs.OrderIndex); err != nil {
			return nil, err
		}
		qs.Options = decodeList(options)
		qs.Keywords = decodeList(keywords)
		out = append(out, qs)
	}
	return out, rows.Err()
}

// ListForUser pages through a user's quizzes, optionally filtered by status
// and a title substring. Source text is not loaded for listings.
func (r *Repository) ListForUser(userID int, status, search string, page, perPage int) ([]Quiz, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	where := "WHERE user_id=?"
	args := []any{userID}
	if status != "" {
		where += " AND status=?"
		args = append(args, status)
	}
	if search != "" {
		where += " AND title LIKE ?"
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(1) FROM quizzes "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listArgs := append(args, perPage, (page-1)*perPage)
	rows, err := r.db.Query(`SELECT `+quizColumns+` FROM quizzes `+where+` ORDER BY id DESC LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	quizzes := []Quiz{}
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, 0, err
		}
		q.SourceText = ""
		quizzes = append(quizzes, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range quizzes {
		if err := r.db.QueryRow(`SELECT COUNT(1) FROM questions WHERE quiz_id=?`, quizzes[i].ID).Scan(&quizzes[i].QuestionCount); err != nil {
			return nil, 0, err
		}
	}
	return quizzes, total, nil
}

func (r *Repository) UpdateMeta(id int, title, description string) error {
	_, err := r.db.Exec(`UPDATE quizzes SET title=?, description=? WHERE id=?`, title, description, id)
	return err
}

// Publish flips draft->published and mints the share metadata. The WHERE
// clause keeps concurrent transitions from double-applying.
func (r *Repository) Publish(id int, shareToken string) (bool, error) {
	res, err := r.db.Exec(`UPDATE quizzes SET status=?, share_token=?, is_public=1, published_at=NOW() WHERE id=? AND status=?`,
		StatusPublished, shareToken, id, StatusDraft)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Archive moves a draft or published quiz to archived and withdraws its
// public link.
func (r *Repository) Archive(id int) (bool, error) {
	res, err := r.db.Exec(`UPDATE quizzes SET status=?, is_public=0, share_token=NULL WHERE id=? AND status IN (?,?)`,
		StatusArchived, id, StatusDraft, StatusPublished)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repository) Delete(id int) error {
	_, err := r.db.Exec(`DELETE FROM quizzes WHERE id=?`, id)
	return err
}

func (r *Repository) IncrementViewCount(id int) error {
	_, err := r.db.Exec(`UPDATE quizzes SET view_count=view_count+1 WHERE id=?`, id)
	return err
}

func (r *Repository) AddQuestion(qs *Question) error {
	var maxOrder sql.NullInt64
	if err := r.db.QueryRow(`SELECT MAX(order_index) FROM questions WHERE quiz_id=?`, qs.QuizID).Scan(&maxOrder); err != nil {
		return err
	}
	if maxOrder.Valid {
		qs.OrderIndex = int(maxOrder.Int64) + 1
	} else {
		qs.OrderIndex = 0
	}
	id, err := insertQuestion(r.db, qs)
	if err != nil {
		return err
	}
	qs.ID = id
	return nil
}

func (r *Repository) GetQuestion(quizID, questionID int) (*Question, error) {
	row := r.db.QueryRow(`SELECT id, quiz_id, question_text, question_type, difficulty_level, IFNULL(options,''),
		IFNULL(correct_answer,''), IFNULL(explanation,''), IFNULL(topic,''), IFNULL(keywords,''),
		IFNULL(bloom_taxonomy_level,''), confidence_score, IFNULL(source_sentence,''), order_index
		FROM questions WHERE id=? AND quiz_id=? LIMIT 1`, questionID, quizID)
	var qs Question
	var options, keywords string
	if err := row.Scan(&qs.ID, &qs.QuizID, &qs.QuestionText, &qs.QuestionType, &qs.DifficultyLevel, &options,
		&qs.CorrectAnswer, &qs.Explanation, &qs.Topic, &keywords, &qs.BloomLevel, &qs.Confidence,
		&qs.SourceSentence, &qs.OrderIndex); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	qs.Options = decodeList(options)
	qs.Keywords = decodeList(keywords)
	return &qs, nil
}

func (r *Repository) UpdateQuestion(qs *Question) error {
	_, err := r.db.Exec(`UPDATE questions SET question_text=?, question_type=?, difficulty_level=?, options=?,
		correct_answer=?, explanation=?, topic=?, keywords=?, bloom_taxonomy_level=?, confidence_score=?, source_sentence=?
		WHERE id=? AND quiz_id=?`,
		qs.QuestionText, qs.QuestionType, qs.DifficultyLevel, encodeList(qs.Options),
		qs.CorrectAnswer, qs.Explanation, qs.Topic, encodeList(qs.Keywords), qs.BloomLevel,
		qs.Confidence, qs.SourceSentence, qs.ID, qs.QuizID)
	return err
}

func (r *Repository) DeleteQuestion(quizID, questionID int) error {
	_, err := r.db.Exec(`DELETE FROM questions WHERE id=? AND quiz_id=?`, questionID, quizID)
	return err
}

// ReorderQuestions assigns order_index following the given id order. Every
// question of the quiz must appear exactly once.
func (r *Repository) ReorderQuestions(quizID int, ids []int) error {
	existing, err := r.questionsFor(quizID)
	if err != nil {
		return err
	}
	if len(ids) != len(existing) {
		return fmt.Errorf("reorder needs all %d question ids", len(existing))
	}
	known := map[int]bool{}
	for _, qs := range existing {
		known[qs.ID] = true
	}
	seen := map[int]bool{}
	for _, id := range ids {
		if !known[id] || seen[id] {
			return fmt.Errorf("unknown or duplicate question id %d", id)
		}
		seen[id] = true
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, id := range ids {
		if _, err := tx.Exec(`UPDATE questions SET order_index=? WHERE id=? AND quiz_id=?`, i, id, quizID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
