package mcpserver

import "errors"

// ErrAnswererRequired is returned when the server has nothing to answer with.
var ErrAnswererRequired = errors.New("answerer required")
