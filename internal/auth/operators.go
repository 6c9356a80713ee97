package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kiwari-pos/alert-console/internal/enum"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Operator is a person allowed to use the console.
type Operator struct {
	Name         string
	Role         string
	PasswordHash string
}

// Operators is an in-memory operator directory loaded from configuration.
type Operators map[string]Operator

// ParseOperators reads "name:role:bcrypt-hash" entries separated by commas.
// bcrypt hashes contain no commas, and the hash is everything after the second colon.
func ParseOperators(raw string) (Operators, error) {
	ops := make(Operators)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid operator entry %q", entry)
		}
		role := strings.ToUpper(parts[1])
		if role != enum.RoleAdmin && role != enum.RoleStaff {
			return nil, fmt.Errorf("invalid role %q for operator %q", parts[1], parts[0])
		}
		ops[parts[0]] = Operator{Name: parts[0], Role: role, PasswordHash: parts[2]}
	}
	return ops, nil
}

// Lookup returns the operator called name.
func (o Operators) Lookup(name string) (Operator, bool) {
	op, ok := o[name]
	return op, ok
}

// Authenticate checks name and password.
func (o Operators) Authenticate(name, password string) (Operator, error) {
	op, ok := o[name]
	if !ok {
		return Operator{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return Operator{}, ErrInvalidCredentials
	}
	return op, nil
}

// HashPassword returns a bcrypt hash suitable for an operator entry.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
