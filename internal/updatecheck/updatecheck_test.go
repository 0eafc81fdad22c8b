package updatecheck

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/forgecore/artresolve/internal/tracking"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	m := NewManager(tracking.NewManager())
	m.Now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.Local) }
	return m, filepath.Join(t.TempDir(), tracking.DefaultFilename)
}

func TestCheckRequiredWhenNeverChecked(t *testing.T) {
	m, path := newTestManager(t)

	check := &Check{
		Item:                      "g:a:jar:1.0",
		AuthoritativeRepositoryID: "central",
		TrackingFilePath:          path,
		Policy:                    PolicyDaily,
	}
	if err := m.Check(check); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !check.Required {
		t.Error("Never-checked item should require an update")
	}
	if check.Exception != nil {
		t.Errorf("Expected no cached error, got %v", check.Exception)
	}
}

func TestTouchThenCheck(t *testing.T) {
	m, path := newTestManager(t)

	check := Check{
		Item:                      "g:a:jar:1.0",
		AuthoritativeRepositoryID: "central",
		TrackingFilePath:          path,
		Policy:                    PolicyDaily,
	}
	if err := m.Touch(check, nil); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	again := check
	if err := m.Check(&again); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if again.Required {
		t.Error("Just-touched item should not require an update under daily policy")
	}
}

func TestTouchRecordsError(t *testing.T) {
	m, path := newTestManager(t)

	check := Check{
		Item:                      "g:a:jar:1.0",
		AuthoritativeRepositoryID: "central",
		TrackingFilePath:          path,
		Policy:                    PolicyDaily,
	}
	if err := m.Touch(check, errors.New("connect refused")); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	again := check
	if err := m.Check(&again); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if again.Required {
		t.Error("Cached failure within the policy window should not re-fetch")
	}
	if again.Exception == nil || again.Exception.Error() != "connect refused" {
		t.Errorf("Expected cached error, got %v", again.Exception)
	}
}

type alwaysRetry struct{}

func (alwaysRetry) ShouldRetry(time.Time, string) bool { return true }

func TestErrorPolicyForcesRetry(t *testing.T) {
	m, path := newTestManager(t)
	m.Errors = alwaysRetry{}

	check := Check{
		Item:                      "g:a:jar:1.0",
		AuthoritativeRepositoryID: "central",
		TrackingFilePath:          path,
		Policy:                    PolicyNever,
	}
	if err := m.Touch(check, errors.New("boom")); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	again := check
	if err := m.Check(&again); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !again.Required {
		t.Error("Retry policy should override the never policy for cached errors")
	}
	if again.Exception != nil {
		t.Errorf("Forced retry should clear the cached error, got %v", again.Exception)
	}
}

func TestChecksArePerOrigin(t *testing.T) {
	m, path := newTestManager(t)

	central := Check{Item: "g:a:jar:1.0", AuthoritativeRepositoryID: "central", TrackingFilePath: path, Policy: PolicyDaily}
	if err := m.Touch(central, nil); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	mirror := Check{Item: "g:a:jar:1.0", AuthoritativeRepositoryID: "mirror", TrackingFilePath: path, Policy: PolicyDaily}
	if err := m.Check(&mirror); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !mirror.Required {
		t.Error("Touching one origin must not satisfy another")
	}
}

func TestLocalLastUpdatedWins(t *testing.T) {
	m, path := newTestManager(t)

	check := &Check{
		Item:                      "g:a:maven-metadata.xml",
		AuthoritativeRepositoryID: "central",
		TrackingFilePath:          path,
		Policy:                    PolicyDaily,
		LocalLastUpdated:          m.Now().Add(-time.Hour),
	}
	if err := m.Check(check); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if check.Required {
		t.Error("A fresh local file mtime should satisfy the daily policy")
	}
}
