package models

// User represents an application user looked up after a federated login.
// The directory only stores what the downstream application needs to bind
// a SAML subject to a local account.
type User struct {
	ID       string `json:"user_id"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// Profile is the payload returned by the profile endpoint for a valid
// session token.
type Profile struct {
	Claims map[string]interface{} `json:"profile"`
}
