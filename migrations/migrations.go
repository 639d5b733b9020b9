package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

type User struct {
	ID               int        `db:"id"`
	FirstName        string     `db:"first_name"`
	LastName         string     `db:"last_name"`
	Email            string     `db:"email"`
	PasswordHash     string     `db:"password_hash"`
	Role             string     `db:"role"`
	Plan             string     `db:"plan"`
	PlanStatus       string     `db:"plan_status"`
	PlanExpiresAt    *time.Time `db:"plan_expires_at"`
	StripeCustomerID string     `db:"stripe_customer_id"`
	SchoolName       string     `db:"school_name"`
	SubjectAreas     string     `db:"subject_areas"`
	Bio              string     `db:"bio"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

var db *sql.DB

// Init sets the DB connection for migrations and queries
func Init(database *sql.DB) {
	db = database
}

// Migrate creates required tables if they do not exist
func Migrate() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		email VARCHAR(191) NOT NULL UNIQUE,
		password_hash VARCHAR(191) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'teacher',
		plan VARCHAR(20) NOT NULL DEFAULT 'free',
		plan_status VARCHAR(20) NOT NULL DEFAULT 'active',
		plan_expires_at DATETIME NULL,
		stripe_customer_id VARCHAR(100) DEFAULT '',
		school_name VARCHAR(200) DEFAULT '',
		subject_areas TEXT,
		bio TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsers); err != nil {
		return err
	}

	createFiles := `
	CREATE TABLE IF NOT EXISTS files (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL,
		filename VARCHAR(255) NOT NULL,
		original_filename VARCHAR(255) NOT NULL,
		file_size INT NOT NULL DEFAULT 0,
		file_extension VARCHAR(10) NOT NULL DEFAULT '',
		extracted_text MEDIUMTEXT,
		extraction_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		extraction_error TEXT,
		word_count INT NOT NULL DEFAULT 0,
		character_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createFiles); err != nil {
		return err
	}

	createQuizzes := `
	CREATE TABLE IF NOT EXISTS quizzes (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL,
		title VARCHAR(200) NOT NULL,
		description TEXT,
		source_text MEDIUMTEXT,
		source_file_id INT NULL,
		difficulty_level VARCHAR(20) NOT NULL DEFAULT 'medium',
		question_types TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'draft',
		is_public TINYINT(1) NOT NULL DEFAULT 0,
		share_token VARCHAR(100) NULL UNIQUE,
		view_count INT NOT NULL DEFAULT 0,
		ai_model_used VARCHAR(100) DEFAULT '',
		generation_time DOUBLE NOT NULL DEFAULT 0,
		generation_parameters TEXT,
		published_at DATETIME NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (source_file_id) REFERENCES files(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createQuizzes); err != nil {
		return err
	}

	createQuestions := `
	CREATE TABLE IF NOT EXISTS questions (
		id INT AUTO_INCREMENT PRIMARY KEY,
		quiz_id INT NOT NULL,
		question_text TEXT NOT NULL,
		question_type VARCHAR(50) NOT NULL,
		difficulty_level VARCHAR(20) NOT NULL DEFAULT 'medium',
		options TEXT,
		correct_answer TEXT,
		explanation TEXT,
		topic VARCHAR(200) DEFAULT '',
		keywords TEXT,
		bloom_taxonomy_level VARCHAR(50) DEFAULT '',
		confidence_score DOUBLE NOT NULL DEFAULT 0,
		source_sentence TEXT,
		order_index INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createQuestions); err != nil {
		return err
	}

	// Applied billing event ids; the primary key is what makes webhook
	// replays no-ops.
	createBillingEvents := `
	CREATE TABLE IF NOT EXISTS billing_events (
		event_id VARCHAR(100) PRIMARY KEY,
		event_type VARCHAR(100) NOT NULL,
		user_id INT NULL,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createBillingEvents); err != nil {
		return err
	}
	return nil
}

// GetUserByEmail retrieves a user from DB by email
func GetUserByEmail(email string) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow(`SELECT id, first_name, last_name, email, password_hash, role, plan, plan_status, plan_expires_at,
		IFNULL(stripe_customer_id,''), IFNULL(school_name,''), IFNULL(subject_areas,''), IFNULL(bio,''), created_at, updated_at
		FROM users WHERE email = ? LIMIT 1`, email)
	return scanUser(row)
}

// GetUserByID retrieves a user by its ID
func GetUserByID(id int) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow(`SELECT id, first_name, last_name, email, password_hash, role, plan, plan_status, plan_expires_at,
		IFNULL(stripe_customer_id,''), IFNULL(school_name,''), IFNULL(subject_areas,''), IFNULL(bio,''), created_at, updated_at
		FROM users WHERE id = ? LIMIT 1`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) *User {
	var u User
	var expires sql.NullTime
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.Role, &u.Plan, &u.PlanStatus,
		&expires, &u.StripeCustomerID, &u.SchoolName, &u.SubjectAreas, &u.Bio, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	if expires.Valid {
		t := expires.Time
		u.PlanExpiresAt = &t
	}
	return &u
}

// CreateUser inserts a new user record and returns its id
func CreateUser(firstName, lastName, email, passwordHash, role string) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("db is not initialized")
	}
	res, err := db.Exec(
		"INSERT INTO users (first_name, last_name, email, password_hash, role) VALUES (?, ?, ?, ?, ?)",
		firstName, lastName, email, passwordHash, role,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

// EmailExists checks if a user with the given email exists
func EmailExists(email string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM users WHERE email = ?", email).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateUserPassword updates the password hash for the given user id
func UpdateUserPassword(id int, passwordHash string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	_, err := db.Exec("UPDATE users SET password_hash = ?, updated_at = NOW() WHERE id = ?", passwordHash, id)
	return err
}

// UpdateUserProfile updates name and optional school/subject areas/bio,
// keeping current values for empty fields
func UpdateUserProfile(id int, firstName, lastName, schoolName, subjectAreas, bio string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	cur := GetUserByID(id)
	if cur == nil {
		return fmt.Errorf("user not found")
	}
	if firstName == "" {
		firstName = cur.FirstName
	}
	if lastName == "" {
		lastName = cur.LastName
	}
	if schoolName == "" {
		schoolName = cur.SchoolName
	}
	if subjectAreas == "" {
		subjectAreas = cur.SubjectAreas
	}
	if bio == "" {
		bio = cur.Bio
	}
	_, err := db.Exec("UPDATE users SET first_name = ?, last_name = ?, school_name = ?, subject_areas = ?, bio = ?, updated_at = NOW() WHERE id = ?",
		firstName, lastName, schoolName, subjectAreas, bio, id)
	return err
}
