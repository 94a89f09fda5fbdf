package models

// Token pair issued by the service on login, registration or refresh.
// Both values are opaque bearer strings: either both are present or both
// are absent, never one without the other.
type TokenPair struct {
	Access  string
	Refresh string
}

// IsZero reports whether the pair holds no credentials at all
func (p TokenPair) IsZero() bool {
	return p.Access == "" && p.Refresh == ""
}
