//go:build integration

package integration

import (
	"fmt"
	"time"
)

const (
	testPassword    = "Str0ngP@ssword2024"
	newTestPassword = "N3w-Grid#Position99"
	testResetSecret = "integration-reset-secret-32-chars!"
	testAdminKey    = "integration-admin-key-32-chars!!!!"
)

// TestUser generates a unique test email using the current time
func TestUser(suffix string) (email, password string) {
	email = fmt.Sprintf("test-%d-%s@example.com", time.Now().UnixNano(), suffix)
	password = testPassword
	return
}
