package models

// Identity is the signed-in agent on whose behalf the server acts
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
