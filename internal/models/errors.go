package models

import "errors"

// Sentinel error kinds raised by the core, per spec §7. Compare with
// errors.Is; wrap with fmt.Errorf("...: %w", err) when adding context.
var (
	// ErrInvalidConfigurationKind marks a loader/source-database definition
	// that failed validation before it could ever be scheduled.
	ErrInvalidConfigurationKind = errors.New("invalid configuration")

	// ErrInvalidWindowKind marks a computed time window where fromTime >= toTime.
	ErrInvalidWindowKind = errors.New("invalid window")

	// ErrSourceUnavailableKind marks a transient failure reaching a source database.
	ErrSourceUnavailableKind = errors.New("source unavailable")

	// ErrSourceQueryKind marks a failure executing the source query itself.
	ErrSourceQueryKind = errors.New("source query error")

	// ErrTransformationKind marks a failure converting a row into a signal.
	ErrTransformationKind = errors.New("transformation error")

	// ErrLockContentionKind marks a failed tryAcquire; callers treat this as
	// "skip silently", never as a hard failure.
	ErrLockContentionKind = errors.New("lock contention")

	// ErrExecutionTimeoutKind marks a run that exceeded its hard deadline.
	ErrExecutionTimeoutKind = errors.New("execution timeout")

	// ErrInvalidStateKind marks an admin operation attempted from a state
	// that does not permit it (§4.9).
	ErrInvalidStateKind = errors.New("invalid state")

	// ErrNullInputKind marks a required argument that was nil/empty where
	// the contract forbids it (§4.2).
	ErrNullInputKind = errors.New("null input")

	// ErrBlankSQLKind marks loader SQL that is empty or whitespace-only.
	ErrBlankSQLKind = errors.New("blank sql")

	// ErrMissingTimestampKind marks a source row lacking any recognized
	// timestamp column alias (§4.5).
	ErrMissingTimestampKind = errors.New("missing timestamp")
)

// wrapped is a thin wrapper pairing a sentinel kind with a specific message,
// so errors.Is(err, ErrInvalidWindowKind) works while %v still prints detail.
type wrapped struct {
	kind error
	msg  string
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.kind }

func newWrapped(kind error, msg string) error {
	return &wrapped{kind: kind, msg: msg}
}

// ErrInvalidConfiguration builds an ErrInvalidConfigurationKind error with detail.
func ErrInvalidConfiguration(msg string) error { return newWrapped(ErrInvalidConfigurationKind, msg) }

// ErrInvalidWindow builds an ErrInvalidWindowKind error with detail.
func ErrInvalidWindow(msg string) error { return newWrapped(ErrInvalidWindowKind, msg) }

// ErrSourceUnavailable builds an ErrSourceUnavailableKind error with detail.
func ErrSourceUnavailable(msg string) error { return newWrapped(ErrSourceUnavailableKind, msg) }

// ErrSourceQuery builds an ErrSourceQueryKind error with detail.
func ErrSourceQuery(msg string) error { return newWrapped(ErrSourceQueryKind, msg) }

// ErrTransformation builds an ErrTransformationKind error with detail.
func ErrTransformation(msg string) error { return newWrapped(ErrTransformationKind, msg) }

// ErrLockContention builds an ErrLockContentionKind error with detail.
func ErrLockContention(msg string) error { return newWrapped(ErrLockContentionKind, msg) }

// ErrExecutionTimeout builds an ErrExecutionTimeoutKind error with detail.
func ErrExecutionTimeout(msg string) error { return newWrapped(ErrExecutionTimeoutKind, msg) }

// ErrInvalidState builds an ErrInvalidStateKind error with detail.
func ErrInvalidState(msg string) error { return newWrapped(ErrInvalidStateKind, msg) }

// ErrNullInput builds an ErrNullInputKind error with detail.
func ErrNullInput(msg string) error { return newWrapped(ErrNullInputKind, msg) }

// ErrBlankSQL builds an ErrBlankSQLKind error with detail.
func ErrBlankSQL(msg string) error { return newWrapped(ErrBlankSQLKind, msg) }

// ErrMissingTimestamp builds an ErrMissingTimestampKind error with detail.
func ErrMissingTimestamp(msg string) error { return newWrapped(ErrMissingTimestampKind, msg) }
