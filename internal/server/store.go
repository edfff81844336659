package server

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

type userRecord struct {
	ID          int64
	FirebaseUID string
	Email       string
	Name        *string
	AvatarURL   *string
	CreatedAt   time.Time
}

type chatRecord struct {
	ID        int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type messageRecord struct {
	ID        int64
	Role      string
	Content   string
	CreatedAt time.Time
}

type userSearchRow struct {
	userRecord
	ChatCount    int
	LastActivity *time.Time
}

type userDetailRow struct {
	userRecord
	FinancialInfoID        *int64
	Gender                 *string
	Birthdate              *time.Time
	EstimatedSalary        *float64
	Country                *string
	Domicile               *string
	ActiveLoan             *int
	BICheckingStatus       *string
	FinancialInfoCreatedAt *time.Time
	FinancialInfoUpdatedAt *time.Time
}

// getOrCreateUser is a read-then-insert without a uniqueness constraint, so
// two concurrent first contacts for the same identity can race. Calling it
// twice sequentially always yields the same row.
func (a *App) getOrCreateUser(ctx context.Context, firebaseUID, email string, name, avatarURL *string) (userRecord, error) {
	user := userRecord{}
	err := a.db.QueryRow(
		ctx,
		`SELECT id, firebase_uid, email, name, avatar_url, created_at
		 FROM users
		 WHERE firebase_uid = $1`,
		firebaseUID,
	).Scan(&user.ID, &user.FirebaseUID, &user.Email, &user.Name, &user.AvatarURL, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return userRecord{}, err
	}

	err = a.db.QueryRow(
		ctx,
		`INSERT INTO users (firebase_uid, email, name, avatar_url)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, firebase_uid, email, name, avatar_url, created_at`,
		firebaseUID,
		email,
		name,
		avatarURL,
	).Scan(&user.ID, &user.FirebaseUID, &user.Email, &user.Name, &user.AvatarURL, &user.CreatedAt)
	if err != nil {
		return userRecord{}, err
	}
	return user, nil
}

func (a *App) createChat(ctx context.Context, userID int64) (int64, error) {
	var chatID int64
	err := a.db.QueryRow(
		ctx,
		`INSERT INTO chats (user_id) VALUES ($1) RETURNING id`,
		userID,
	).Scan(&chatID)
	return chatID, err
}

// insertMessage also bumps the owning chat's updated_at; the 7-day activity
// stat reads that column.
func (a *App) insertMessage(ctx context.Context, chatID int64, role, content string) error {
	if _, err := a.db.Exec(
		ctx,
		`INSERT INTO messages (chat_id, role, content) VALUES ($1, $2, $3)`,
		chatID,
		role,
		content,
	); err != nil {
		return err
	}
	_, err := a.db.Exec(
		ctx,
		`UPDATE chats SET updated_at = NOW() WHERE id = $1`,
		chatID,
	)
	return err
}

func (a *App) latestSummary(ctx context.Context, chatID int64) (string, error) {
	var summary string
	err := a.db.QueryRow(
		ctx,
		`SELECT summary FROM summaries
		 WHERE chat_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		chatID,
	).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return summary, nil
}

// lastMessages returns up to n of the newest turns in chronological order.
func (a *App) lastMessages(ctx context.Context, chatID int64, n int) ([]ChatTurn, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT role, content FROM messages
		 WHERE chat_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		chatID,
		n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := make([]ChatTurn, 0, n)
	for rows.Next() {
		turn := ChatTurn{}
		if err := rows.Scan(&turn.Role, &turn.Content); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (a *App) chatsForUser(ctx context.Context, userID int64) ([]chatRecord, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT id, created_at, updated_at FROM chats
		 WHERE user_id = $1
		 ORDER BY updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := make([]chatRecord, 0, 8)
	for rows.Next() {
		chat := chatRecord{}
		if err := rows.Scan(&chat.ID, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (a *App) messagesForChat(ctx context.Context, chatID int64, limit, offset int) ([]messageRecord, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT id, role, content, created_at FROM messages
		 WHERE chat_id = $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2 OFFSET $3`,
		chatID,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]messageRecord, 0, limit)
	for rows.Next() {
		message := messageRecord{}
		if err := rows.Scan(&message.ID, &message.Role, &message.Content, &message.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// recentMessagesForUser flattens messages across all of the user's chats,
// newest first up to limit, then reverses to chronological order.
func (a *App) recentMessagesForUser(ctx context.Context, userID int64, limit int) ([]messageRecord, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT m.id, m.role, m.content, m.created_at
		 FROM messages m
		 JOIN chats c ON m.chat_id = c.id
		 WHERE c.user_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]messageRecord, 0, limit)
	for rows.Next() {
		message := messageRecord{}
		if err := rows.Scan(&message.ID, &message.Role, &message.Content, &message.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (a *App) loadAdminStats(ctx context.Context) (totalUsers, activeUsers int, err error) {
	if err = a.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&totalUsers); err != nil {
		return 0, 0, err
	}
	err = a.db.QueryRow(
		ctx,
		`SELECT COUNT(DISTINCT u.id)
		 FROM users u
		 JOIN chats c ON u.id = c.user_id
		 WHERE c.updated_at >= NOW() - INTERVAL '7 days'`,
	).Scan(&activeUsers)
	if err != nil {
		return 0, 0, err
	}
	return totalUsers, activeUsers, nil
}

func (a *App) searchUsers(ctx context.Context, search string, limit, offset int) ([]userSearchRow, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT u.id, u.firebase_uid, u.email, u.name, u.avatar_url, u.created_at,
		        COUNT(c.id)::int AS chat_count,
		        MAX(c.updated_at) AS last_activity
		 FROM users u
		 LEFT JOIN chats c ON u.id = c.user_id
		 WHERE $1 = '' OR u.email ILIKE '%' || $1 || '%' OR u.name ILIKE '%' || $1 || '%'
		 GROUP BY u.id, u.firebase_uid, u.email, u.name, u.avatar_url, u.created_at
		 ORDER BY u.created_at DESC, u.id DESC
		 LIMIT $2 OFFSET $3`,
		search,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]userSearchRow, 0, limit)
	for rows.Next() {
		row := userSearchRow{}
		if err := rows.Scan(
			&row.ID,
			&row.FirebaseUID,
			&row.Email,
			&row.Name,
			&row.AvatarURL,
			&row.CreatedAt,
			&row.ChatCount,
			&row.LastActivity,
		); err != nil {
			return nil, err
		}
		users = append(users, row)
	}
	return users, rows.Err()
}

func (a *App) countUsers(ctx context.Context, search string) (int, error) {
	var total int
	err := a.db.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM users
		 WHERE $1 = '' OR email ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%'`,
		search,
	).Scan(&total)
	return total, err
}

// userWithFinancialInfo returns nil when the user does not exist.
func (a *App) userWithFinancialInfo(ctx context.Context, userID int64) (*userDetailRow, error) {
	row := userDetailRow{}
	err := a.db.QueryRow(
		ctx,
		`SELECT u.id, u.firebase_uid, u.email, u.name, u.avatar_url, u.created_at,
		        f.id, f.gender, f.birthdate, f.estimated_salary,
		        f.country, f.domicile, f.active_loan, f.bi_checking_status,
		        f.created_at, f.updated_at
		 FROM users u
		 LEFT JOIN user_financial_info f ON u.id = f.user_id
		 WHERE u.id = $1`,
		userID,
	).Scan(
		&row.ID,
		&row.FirebaseUID,
		&row.Email,
		&row.Name,
		&row.AvatarURL,
		&row.CreatedAt,
		&row.FinancialInfoID,
		&row.Gender,
		&row.Birthdate,
		&row.EstimatedSalary,
		&row.Country,
		&row.Domicile,
		&row.ActiveLoan,
		&row.BICheckingStatus,
		&row.FinancialInfoCreatedAt,
		&row.FinancialInfoUpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// upsertFinancialInfo merges field-by-field: a nil field never overwrites a
// stored value. At most one row exists per user.
func (a *App) upsertFinancialInfo(ctx context.Context, userID int64, update financialInfoUpdate) error {
	var existingID int64
	err := a.db.QueryRow(
		ctx,
		`SELECT id FROM user_financial_info WHERE user_id = $1`,
		userID,
	).Scan(&existingID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		_, err = a.db.Exec(
			ctx,
			`INSERT INTO user_financial_info
			 (user_id, gender, birthdate, estimated_salary, country, domicile, active_loan, bi_checking_status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			userID,
			update.Gender,
			update.Birthdate,
			update.EstimatedSalary,
			update.Country,
			update.Domicile,
			update.ActiveLoan,
			update.BICheckingStatus,
		)
		return err
	}

	_, err = a.db.Exec(
		ctx,
		`UPDATE user_financial_info
		 SET gender = COALESCE($2, gender),
		     birthdate = COALESCE($3, birthdate),
		     estimated_salary = COALESCE($4, estimated_salary),
		     country = COALESCE($5, country),
		     domicile = COALESCE($6, domicile),
		     active_loan = COALESCE($7, active_loan),
		     bi_checking_status = COALESCE($8, bi_checking_status),
		     updated_at = NOW()
		 WHERE user_id = $1`,
		userID,
		update.Gender,
		update.Birthdate,
		update.EstimatedSalary,
		update.Country,
		update.Domicile,
		update.ActiveLoan,
		update.BICheckingStatus,
	)
	return err
}
