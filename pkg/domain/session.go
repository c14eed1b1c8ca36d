package domain

// Session is the credential pair plus the identity it was issued for.
// A session is active only when both the access token and the user are present.
type Session struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// Active reports whether the session carries both a token and a user.
func (s Session) Active() bool {
	return s.AccessToken != "" && s.User != nil
}
