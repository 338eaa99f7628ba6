// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const (
	MaxUserIDLen   = 64
	MaxUserNameLen = 64
	MaxRoomIDLen   = 64
)

var (
	ErrUserNameEmpty   = errors.New("user name empty")
	ErrUserNameTooLong = errors.New("user name too long")
	ErrRoomIDEmpty     = errors.New("room id empty")
	ErrRoomIDTooLong   = errors.New("room id too long")
)

// ConnID is the transport-owned connection identifier. It changes whenever a
// client reconnects; it is never reused across identities.
type ConnID string

// RoomID is an opaque room identifier. Rooms exist implicitly: created on the
// first join, deleted when the last member leaves.
type RoomID string

func (id RoomID) Validate() error {
	if id == "" {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}

// Identity is the external identity a participant announces on join.
// Ownership of user accounts lives outside this system.
type Identity struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

func (i Identity) Validate() error {
	if i.UserName == "" {
		return ErrUserNameEmpty
	}
	if len(i.UserName) > MaxUserNameLen {
		return ErrUserNameTooLong
	}
	return nil
}
