package updatecheck

import (
	"time"

	"github.com/forgecore/artresolve/internal/tracking"
)

// Check is one update-check unit: the caller fills
// Item/Policy/AuthoritativeRepositoryID/LocalLastUpdated and passes it to
// Manager.Check, which fills Required and Exception.
type Check struct {
	// Item is the artifact/metadata identity, used as half of the tracking
	// key").
	Item string
	// AuthoritativeRepositoryID identifies the origin this check is scoped
	// to.
	AuthoritativeRepositoryID string
	// TrackingFilePath is the _remote.repositories path to read/write.
	TrackingFilePath string
	// Policy is the effective update policy string for this request.
	Policy string
	// LocalLastUpdated is used instead of the tracking file's recorded
	// lastUpdated when it is the later of the two.
	LocalLastUpdated time.Time

	// Required and Exception are filled by Check.
	Required  bool
	Exception error
}

func (c Check) key() string { return c.Item + "|" + c.AuthoritativeRepositoryID }

// ErrorPolicy decides, given a cached last error, whether to re-attempt a
// fetch even though the update policy alone would say "no". The core ships
// NoRetryErrorPolicy, which never forces a retry; callers may substitute
// their own.
type ErrorPolicy interface {
	// ShouldRetry reports whether a cached error for key should be retried
	// now, given when it was recorded.
	ShouldRetry(lastUpdated time.Time, lastError string) bool
}

// NoRetryErrorPolicy never forces a retry beyond what the update policy
// itself says; this is the default.
type NoRetryErrorPolicy struct{}

func (NoRetryErrorPolicy) ShouldRetry(time.Time, string) bool { return false }

// Manager performs update checks against the tracking file and records
// their outcomes.
type Manager struct {
	Tracking *tracking.Manager
	Errors   ErrorPolicy
	Now      func() time.Time
}

// NewManager returns a Manager backed by the given tracking file manager.
func NewManager(t *tracking.Manager) *Manager {
	return &Manager{Tracking: t, Errors: NoRetryErrorPolicy{}, Now: time.Now}
}

// Check reads lastUpdated/lastError from the tracking file, consults the
// update policy, and fills check.Required / check.Exception.
func (m *Manager) Check(check *Check) error {
	now := m.Now()

	rec, err := m.Tracking.ReadCheck(check.TrackingFilePath, check.key())
	if err != nil {
		return err
	}

	lastUpdated := rec.LastUpdated
	if check.LocalLastUpdated.After(lastUpdated) {
		lastUpdated = check.LocalLastUpdated
	}

	required, _ := IsUpdateRequired(now, lastUpdated, check.Policy)

	if !required && rec.LastError != "" {
		errPolicy := m.Errors
		if errPolicy == nil {
			errPolicy = NoRetryErrorPolicy{}
		}
		if errPolicy.ShouldRetry(rec.LastUpdated, rec.LastError) {
			required = true
			rec.LastError = ""
		}
	}

	check.Required = required
	if rec.LastError != "" {
		check.Exception = cachedError{msg: rec.LastError}
	} else {
		check.Exception = nil
	}
	return nil
}

// Touch writes lastUpdated=now and lastError=err.Error() (or "" on
// success) back to the tracking file. Callers must invoke this only after
// registering the item in the local repository, so a concurrent reader
// never sees "updated but absent".
func (m *Manager) Touch(check Check, err error) error {
	rec := tracking.Record{LastUpdated: m.Now()}
	if err != nil {
		rec.LastError = err.Error()
	}
	return m.Tracking.TouchCheck(check.TrackingFilePath, check.key(), rec)
}

// cachedError wraps a persisted lastError string as an error value.
type cachedError struct{ msg string }

func (e cachedError) Error() string { return e.msg }
