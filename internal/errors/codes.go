package errors

// Kind classifies an error per the keep error-handling design: NotFound,
// Invalid, Constrained, Conflict, ProviderUnavailable, ProviderTransient,
// Corruption, Dependency, IO, RemoteRejected.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindInvalid             Kind = "INVALID"
	KindConstrained         Kind = "CONSTRAINED"
	KindConflict            Kind = "CONFLICT"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindProviderTransient   Kind = "PROVIDER_TRANSIENT"
	KindCorruption          Kind = "CORRUPTION"
	KindDependency          Kind = "DEPENDENCY"
	KindIO                  Kind = "IO"
	KindRemoteRejected      Kind = "REMOTE_REJECTED"
)

// Severity defines error severity levels.
type Severity string

const (
	SeverityFatal   Severity = "FATAL"
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

var codeByKind = map[Kind]string{
	KindNotFound:            "ERR_KEEP_NOT_FOUND",
	KindInvalid:             "ERR_KEEP_INVALID",
	KindConstrained:         "ERR_KEEP_CONSTRAINED",
	KindConflict:            "ERR_KEEP_CONFLICT",
	KindProviderUnavailable: "ERR_KEEP_PROVIDER_UNAVAILABLE",
	KindProviderTransient:   "ERR_KEEP_PROVIDER_TRANSIENT",
	KindCorruption:          "ERR_KEEP_CORRUPTION",
	KindDependency:          "ERR_KEEP_DEPENDENCY",
	KindIO:                  "ERR_KEEP_IO",
	KindRemoteRejected:      "ERR_KEEP_REMOTE_REJECTED",
}

func codeForKind(k Kind) string {
	if c, ok := codeByKind[k]; ok {
		return c
	}
	return "ERR_KEEP_INTERNAL"
}

func severityForKind(k Kind) Severity {
	switch k {
	case KindCorruption:
		return SeverityFatal
	case KindProviderTransient, KindRemoteRejected:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func retryableForKind(k Kind) bool {
	switch k {
	case KindProviderTransient:
		return true
	default:
		return false
	}
}
