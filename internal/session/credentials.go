package session

import "fmt"

// Credentials are login details kept in a session payload between requests.
// Equal compares by value, so pointers to equal credentials written by two
// concurrent requests do not cause a conflict.
type Credentials struct {
	Login    string
	Password string
}

// Equal implements conflict.Equaler.
func (c *Credentials) Equal(other any) bool {
	var o *Credentials
	switch v := other.(type) {
	case *Credentials:
		o = v
	case Credentials:
		o = &v
	default:
		return false
	}
	if c == nil || o == nil {
		return c == o
	}
	return c.Login == o.Login && c.Password == o.Password
}

// String shows the login only.
func (c *Credentials) String() string {
	if c == nil {
		return "Credentials(nil)"
	}
	return fmt.Sprintf("Credentials (%s, ****)", c.Login)
}
