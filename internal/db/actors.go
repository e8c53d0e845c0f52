package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/redline/internal/fault"
)

// Actor is a principal: a human writer/reviewer/admin or a service account.
// role=system implies is_human=false; the CHECK constraint backs this up.
type Actor struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsHuman   bool      `json:"is_human"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateActorInput struct {
	Email        string
	Role         string
	IsHuman      bool
	PasswordHash string
}

func (db *DB) CreateActor(input CreateActorInput) (*Actor, error) {
	if input.Email == "" {
		return nil, fault.New(fault.Validation, "email is required")
	}
	if input.Role == "" {
		input.Role = "writer"
	}
	id := NewID()
	_, err := db.Exec(`
		INSERT INTO actors (id, email, role, is_human, password_hash)
		VALUES (?, ?, ?, ?, ?)`,
		id, input.Email, input.Role, boolToInt(input.IsHuman), input.PasswordHash)
	if err != nil {
		return nil, mapErr(err, "creating actor")
	}
	return db.GetActor(id)
}

func (db *DB) GetActor(id string) (*Actor, error) {
	a := &Actor{}
	var isHuman int
	err := db.QueryRow(`
		SELECT id, email, role, is_human, created_at
		FROM actors WHERE id = ?`, id).Scan(
		&a.ID, &a.Email, &a.Role, &isHuman, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.Validation, "actor %s not found", id)
	}
	if err != nil {
		return nil, mapErr(err, "loading actor")
	}
	a.IsHuman = isHuman == 1
	return a, nil
}

// GetActorByEmail returns the actor and its password hash for login.
func (db *DB) GetActorByEmail(email string) (*Actor, string, error) {
	a := &Actor{}
	var isHuman int
	var passwordHash string
	err := db.QueryRow(`
		SELECT id, email, role, is_human, password_hash, created_at
		FROM actors WHERE email = ?`, email).Scan(
		&a.ID, &a.Email, &a.Role, &isHuman, &passwordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fault.New(fault.Validation, "unknown email")
	}
	if err != nil {
		return nil, "", mapErr(err, "loading actor by email")
	}
	a.IsHuman = isHuman == 1
	return a, passwordHash, nil
}

// SetActorHuman toggles the is_human flag. Only admins may do this; the
// caller's role is checked here so the rule holds at the storage boundary.
func (db *DB) SetActorHuman(actorID string, isHuman bool, changedBy string) error {
	admin, err := db.GetActor(changedBy)
	if err != nil {
		return err
	}
	if admin.Role != "admin" {
		return fault.New(fault.Forbidden, "only admins may change is_human")
	}
	target, err := db.GetActor(actorID)
	if err != nil {
		return err
	}
	if target.Role == "system" && isHuman {
		return fault.New(fault.Validation, "system actors cannot be marked human")
	}
	_, err = db.Exec(`UPDATE actors SET is_human = ? WHERE id = ?`, boolToInt(isHuman), actorID)
	if err != nil {
		return mapErr(err, "updating is_human")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
