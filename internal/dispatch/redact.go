package dispatch

import "fmt"

// redactUser hides most of a user ID in production logs.
func redactUser(redact bool, userID string) string {
	if !redact {
		return userID
	}
	if len(userID) > 4 {
		userID = userID[:4]
	}
	return "user_" + userID + "***"
}

// redactText replaces a message body by its length in production logs.
func redactText(redact bool, text string) string {
	if !redact {
		return text
	}
	return fmt.Sprintf("[%d chars]", len(text))
}
