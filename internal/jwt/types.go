package jwt

type Role int

const (
	RoleAgent Role = iota
)

// Agent is the identity carried in an agent access token.
type Agent struct {
	Id       string `json:"id"`
	Username string `json:"username"`
}

type Claims struct {
	UserID    string
	Username  string
	ExpiresAt int64
}
