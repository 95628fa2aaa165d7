package domain

var (
	ErrNotFound     = errString("not found")
	ErrInvalidURL   = errString("invalid url")
	ErrJobNotActive = errString("job is not active")
)

type errString string

func (e errString) Error() string { return string(e) }

// ValidationError rejects a submission before it reaches the broker.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Msg }

// Unwrap lets errors.Is(err, ErrInvalidURL) match url validation failures.
func (e *ValidationError) Unwrap() error {
	if e.Field == "url" {
		return ErrInvalidURL
	}
	return nil
}
