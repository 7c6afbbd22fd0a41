package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrGateRejected = errors.New("incorrect passphrase")

// Gate holds the shared passphrase of the restricted view. It is a casual
// deterrent, not a security boundary: one phrase for everybody, compared
// exactly.
type Gate struct {
	hash []byte
}

func NewGate(passphrase string) (*Gate, error) {
	if passphrase == "" {
		return nil, errors.New("gate passphrase is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash gate passphrase: %w", err)
	}
	return &Gate{hash: hash}, nil
}

func (g *Gate) Check(passphrase string) error {
	if passphrase == "" {
		return ErrGateRejected
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(passphrase)); err != nil {
		return ErrGateRejected
	}
	return nil
}
