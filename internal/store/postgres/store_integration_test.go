package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/JonMunkholm/userimport/internal/core"
	"github.com/JonMunkholm/userimport/internal/security"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	if err := Migrate(dsn, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, table := range []string{"import_jobs", "account_roles", "group_permissions", "group_members", "groups", "profiles", "accounts"} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("cleanup %s: %v", table, err)
		}
	}
	return New(pool, security.NewHasher(bcrypt.MinCost))
}

func TestStoreCreateUpdateIntegration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acct, err := s.CreateAccount(ctx, core.NewAccount{
		Username: "jane",
		Email:    "Jane@Example.com",
		Init:     "Jane@Example.com",
		Status:   core.StatusActive,
		Password: "pw",
		Locale:   "en",
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	found, err := s.FindAccountByEmail(ctx, "jane@example.com")
	if err != nil || found == nil || found.ID != acct.ID {
		t.Fatalf("FindAccountByEmail = %v, %v", found, err)
	}
	if found.Status != core.StatusActive {
		t.Errorf("status = %v, want active", found.Status)
	}

	taken, err := s.UsernameExists(ctx, "jane")
	if err != nil || !taken {
		t.Errorf("UsernameExists = %v, %v", taken, err)
	}

	profile, err := s.LoadProfile(ctx, acct.ID)
	if err != nil || profile == nil {
		t.Fatalf("LoadProfile = %v, %v", profile, err)
	}
	profile.FirstName = "Jane"
	if err := s.SaveProfile(ctx, profile); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	found.Status = core.StatusBlocked
	found.Timezone = "Europe/Paris"
	if err := s.UpdateAccount(ctx, found); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	again, _ := s.FindAccountByEmail(ctx, "jane@example.com")
	if again.Status != core.StatusBlocked || again.Timezone != "Europe/Paris" {
		t.Errorf("after update = %+v", again)
	}

	if err := s.EnsureGroup(ctx, "g1", "Group One"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.AddGroupMember(ctx, "g1", acct.ID); err != nil {
			t.Fatalf("AddGroupMember #%d: %v", i, err)
		}
	}
	member, err := s.IsGroupMember(ctx, "g1", acct.ID)
	if err != nil || !member {
		t.Errorf("IsGroupMember = %v, %v", member, err)
	}
}

func TestStoreJobHistoryIntegration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	err := s.RecordJob(ctx, core.JobSummary{
		ID:            "job-1",
		SourceFile:    "users.csv",
		Phase:         core.PhaseComplete,
		RowsProcessed: 3,
		Created:       2,
		Updated:       1,
		Duration:      1500 * time.Millisecond,
		StartedAt:     now.Add(-2 * time.Second),
		FinishedAt:    now,
	})
	if err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	got, err := s.GetJob(ctx, "job-1")
	if err != nil || got == nil {
		t.Fatalf("GetJob = %v, %v", got, err)
	}
	if got.Duration != 1500*time.Millisecond || got.Phase != core.PhaseComplete {
		t.Errorf("GetJob = %+v", got)
	}

	n, err := s.PurgeJobsBefore(ctx, now.Add(time.Second))
	if err != nil || n != 1 {
		t.Errorf("PurgeJobsBefore = %d, %v", n, err)
	}
}
