package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"askuni/internal/domain"
)

type mockPruner struct {
	calls  atomic.Int32
	before atomic.Value
}

func (p *mockPruner) Prune(_ context.Context, before time.Time) (int, error) {
	p.calls.Add(1)
	p.before.Store(before)
	return 2, nil
}

func TestMaintenanceRegisterDefaults(t *testing.T) {
	m := NewMaintenance(discardLogger())
	if err := m.RegisterDefaults(newMockUsers(), &mockPruner{}, 30*24*time.Hour); err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}
	if m.Entries() != 2 {
		t.Errorf("entries = %d, want 2", m.Entries())
	}

	m = NewMaintenance(discardLogger())
	if err := m.RegisterDefaults(nil, &mockPruner{}, 0); err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}
	if m.Entries() != 0 {
		t.Errorf("entries = %d, want 0 without collaborators", m.Entries())
	}
}

type mockTrimmer struct{ calls atomic.Int32 }

func (m *mockTrimmer) Trim(context.Context) (int, error) {
	m.calls.Add(1)
	return 3, nil
}

func TestMaintenanceRegisterAuditRetention(t *testing.T) {
	m := NewMaintenance(discardLogger())
	if err := m.RegisterAuditRetention(&mockTrimmer{}); err != nil {
		t.Fatalf("RegisterAuditRetention: %v", err)
	}
	if m.Entries() != 1 {
		t.Errorf("entries = %d, want 1", m.Entries())
	}
}

func TestMaintenanceTaskFires(t *testing.T) {
	var count atomic.Int32
	m := NewMaintenance(discardLogger())
	if err := m.Add("tick", "20ms", func(context.Context) error {
		count.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	m.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	m.Stop()
	m.Stop()

	if count.Load() < 1 {
		t.Errorf("task fired %d times", count.Load())
	}
}

func TestMaintenancePurgesExpiredCodes(t *testing.T) {
	users := newMockUsers()
	now := time.Now()
	_ = users.SaveResetCode(context.Background(), domain.ResetCode{Email: "a", ExpiresAt: now.Add(-time.Minute)})
	_ = users.SaveResetCode(context.Background(), domain.ResetCode{Email: "b", ExpiresAt: now.Add(time.Minute)})

	m := NewMaintenance(discardLogger())
	m.now = func() time.Time { return now }
	m.RunNow(TaskPurgeResetCodes, func(ctx context.Context) error {
		_, err := users.PurgeResetCodes(ctx, m.now())
		return err
	})
	if len(users.codes) != 1 || users.codes[0].Email != "b" {
		t.Errorf("codes after purge = %+v", users.codes)
	}
}

func TestMaintenanceFailureIsLogged(t *testing.T) {
	m := NewMaintenance(discardLogger())
	m.RunNow("broken", func(context.Context) error { return errors.New("boom") })
}

func TestParseSchedule(t *testing.T) {
	for _, s := range []string{"@hourly", "@daily", "*/5 * * * *", "90s"} {
		if _, err := parseSchedule(s); err != nil {
			t.Errorf("parseSchedule(%q): %v", s, err)
		}
	}
	for _, s := range []string{"", "-1s", "every day"} {
		if _, err := parseSchedule(s); err == nil {
			t.Errorf("parseSchedule(%q) should fail", s)
		}
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, _ := parseSchedule("90s")
	if next := sched.Next(start); !next.Equal(start.Add(90 * time.Second)) {
		t.Errorf("next = %v", next)
	}
}
