package services

// Identity is supplied by the calling layer for every operation. The core
// never derives it.
type Identity struct {
	UserID  string
	IsAdmin bool
}
