package domain

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Turn is a single exchanged message kept in short-term memory.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}
