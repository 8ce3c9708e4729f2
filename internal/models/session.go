package models

// User is the profile returned by the auth endpoints.
type User struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Village string `json:"village,omitempty"`
	Lang    string `json:"lang,omitempty"`
}

// Session holds the opaque auth token and the signed-in user, persisted
// locally and re-applied on startup.
type Session struct {
	Token string `json:"token"`
	User  *User  `json:"user,omitempty"`
}

// UserID returns the signed-in user's id, or "" when the session carries
// only a token. Sessions restored from a legacy token row have no profile.
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// Theme preference values.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// DefaultLanguage is used until the farmer picks one.
const DefaultLanguage = "en"
