package services

import "github.com/google/uuid"

// GenerateUniqueCode returns a random version 4 UUID in its canonical
// 36 character form. Codes carry 122 bits of entropy from crypto/rand.
func GenerateUniqueCode() string {
	return uuid.NewString()
}
