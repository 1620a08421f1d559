package oauth

// Declaration describes a token endpoint and where its state is persisted.
type Declaration struct {
	Provider  string
	TokenURL  string
	StatePath string
}

// Credentials are the account secrets used for the password grant.
// They are held in memory only; persisted state carries the refresh token.
type Credentials struct {
	Username string
	Password string
}
