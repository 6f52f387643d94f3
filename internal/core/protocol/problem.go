package protocol

import "fmt"

// ProblemCode is the outcome of handling one message. ProblemNone means success.
type ProblemCode int

const (
	ProblemNone ProblemCode = iota
	ProblemSocketIDMismatch
	ProblemMalformedPayload
	ProblemUnknownCode
	ProblemUnexpectedCode
	ProblemEntityNotFound
	ProblemEntityExists
	ProblemComponentMissing
	ProblemPrefabNotFound
	ProblemNotInitialized
	ProblemAlreadyInitialized
	ProblemNotReady
	ProblemInternal
)

var problemNames = map[ProblemCode]string{
	ProblemNone:               "None",
	ProblemSocketIDMismatch:   "SocketIDMismatch",
	ProblemMalformedPayload:   "MalformedPayload",
	ProblemUnknownCode:        "UnknownCode",
	ProblemUnexpectedCode:     "UnexpectedCode",
	ProblemEntityNotFound:     "EntityNotFound",
	ProblemEntityExists:       "EntityExists",
	ProblemComponentMissing:   "ComponentMissing",
	ProblemPrefabNotFound:     "PrefabNotFound",
	ProblemNotInitialized:     "NotInitialized",
	ProblemAlreadyInitialized: "AlreadyInitialized",
	ProblemNotReady:           "NotReady",
	ProblemInternal:           "Internal",
}

func (p ProblemCode) String() string {
	if name, ok := problemNames[p]; ok {
		return name
	}
	return fmt.Sprintf("ProblemCode(%d)", int(p))
}

// IsNone reports whether p signals success.
func (p ProblemCode) IsNone() bool {
	return p == ProblemNone
}

// MarshalText encodes the problem code by name.
func (p ProblemCode) MarshalText() ([]byte, error) {
	if _, ok := problemNames[p]; !ok {
		return nil, fmt.Errorf("unknown problem code %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a problem code name.
func (p *ProblemCode) UnmarshalText(text []byte) error {
	for code, name := range problemNames {
		if name == string(text) {
			*p = code
			return nil
		}
	}
	return fmt.Errorf("unknown problem code %q", string(text))
}
