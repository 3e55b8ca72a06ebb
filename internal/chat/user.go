package chat

import "time"

// User is the public profile returned by the account and message surfaces.
type User struct {
	ID         Identity  `json:"_id"`
	Email      string    `json:"email"`
	FullName   string    `json:"fullName"`
	ProfilePic string    `json:"profilePic"`
	CreatedAt  time.Time `json:"createdAt"`
}
