package user

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/notepid/twilight_chat/internal/db"
)

func TestMain(m *testing.M) {
	bcryptCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func openRepo(t *testing.T) *Repo {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepo(database.DB)
}

func TestRepoCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	p, err := repo.Create(ctx, "Alice Smith", "alice", "secret", RoleMember)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == 0 || p.DisplayName != "Alice Smith" || !p.Active {
		t.Fatalf("unexpected participant: %+v", p)
	}

	got, err := repo.Authenticate(ctx, "ALICE", "secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("expected id %d, got %d", p.ID, got.ID)
	}

	if _, err := repo.Authenticate(ctx, "alice", "wrong"); err == nil {
		t.Fatalf("expected wrong password to fail")
	}

	if err := repo.SetActive(ctx, p.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := repo.Authenticate(ctx, "alice", "secret"); err == nil {
		t.Fatalf("expected disabled account to be refused")
	}
}

func TestRepoCreateRejectsInvalidRole(t *testing.T) {
	repo := openRepo(t)
	if _, err := repo.Create(context.Background(), "Bob", "bob", "pw", Role("pilot")); err == nil {
		t.Fatalf("expected invalid role to be rejected")
	}
}

func TestRepoListActiveDirectorySkipsInactive(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	bob, _ := repo.Create(ctx, "Bob", "bob", "pw", RoleMember)
	carol, _ := repo.Create(ctx, "Carol", "carol", "pw", RoleAdmin)
	if err := repo.SetActive(ctx, bob.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	profiles, err := repo.ListActiveDirectory(ctx)
	if err != nil {
		t.Fatalf("ListActiveDirectory: %v", err)
	}
	if len(profiles) != 1 || profiles[0].ID != carol.ID {
		t.Fatalf("expected only carol, got %+v", profiles)
	}
	if profiles[0].Role != RoleAdmin || !profiles[0].Role.Elevated() {
		t.Fatalf("expected carol to carry elevated admin role, got %q", profiles[0].Role)
	}
}

func TestRepoGetProfileNotFound(t *testing.T) {
	repo := openRepo(t)
	_, err := repo.GetProfile(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
