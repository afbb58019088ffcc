package assessment

import "errors"

var (
	// ErrEngineTimeout indicates the assessment engine did not finish in time.
	ErrEngineTimeout = errors.New("assessment engine timed out")
	// ErrMalformedReport indicates the engine output could not be decoded.
	ErrMalformedReport = errors.New("malformed assessment report")
	// ErrNoSnapshot indicates an archive holds no snapshot yet.
	ErrNoSnapshot = errors.New("no snapshot archived")
)
