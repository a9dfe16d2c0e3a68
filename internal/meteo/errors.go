package meteo

import "fmt"

// APIError is returned when MET responds with a non-200 status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meteo: API error %d: %s", e.StatusCode, e.Message)
}
