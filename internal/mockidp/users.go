package mockidp

// Subject is a canned identity the mock IdP asserts for demo logins.
type Subject struct {
	NameID     string
	Email      string
	Attributes map[string][]string
}

// Subjects returns the demo identities keyed by provider name. The okta
// subject mirrors a real tenant user; azure asserts a generic directory
// member.
func Subjects() map[string]Subject {
	return map[string]Subject{
		"okta": {
			NameID: "user.passify.io@gmail.com",
			Email:  "user.passify.io@gmail.com",
			Attributes: map[string][]string{
				"firstName": {"Passify"},
				"lastName":  {"User"},
			},
		},
		"azure": {
			NameID: "member@passify.onmicrosoft.com",
			Email:  "member@passify.onmicrosoft.com",
			Attributes: map[string][]string{
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name": {"Passify Member"},
			},
		},
	}
}
