package store

import (
	"database/sql"
	"fmt"

	"github.com/fennwick/calbridge/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountCols = `id, email, reconnect_required, created_at, updated_at`

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	err := scanner.Scan(&a.ID, &a.Email, &a.ReconnectRequired, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AccountStore) Create(email string) (*model.Account, error) {
	result, err := s.db.Exec(`INSERT INTO accounts (email) VALUES (?)`, email)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *AccountStore) GetByID(id int64) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// SetReconnectRequired flags the account as needing re-authorization with the
// provider (or clears the flag once it has re-authorized).
func (s *AccountStore) SetReconnectRequired(id int64, required bool) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET reconnect_required = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		required, id,
	)
	if err != nil {
		return fmt.Errorf("set reconnect required: %w", err)
	}
	return nil
}
