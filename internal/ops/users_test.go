package ops

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/khegiw/llamactl/internal/config"
	"github.com/khegiw/llamactl/internal/htpasswd"
	"github.com/khegiw/llamactl/internal/prompt"
)

func TestUserAddCreatesCredential(t *testing.T) {
	s := opsSettings(t)
	p := &prompt.Script{Passwords: []string{"pw", "pw"}}
	o, _, _, _ := newOps(t, s, p)

	if err := o.UserAdd(context.Background(), "alice"); err != nil {
		t.Fatalf("UserAdd: %v", err)
	}
	f, err := htpasswd.Load(s.HtpasswdPath)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Verify("alice", "pw") {
		t.Error("stored credential does not verify")
	}
}

func TestUserAddExisting(t *testing.T) {
	s := opsSettings(t)
	seedUser(t, s, "alice", "old")
	o, _, _, _ := newOps(t, s, &prompt.Script{})

	err := o.UserAdd(context.Background(), "alice")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("err = %v, want already exists", err)
	}
}

func TestUserPasswdReplaces(t *testing.T) {
	s := opsSettings(t)
	seedUser(t, s, "alice", "old")
	p := &prompt.Script{Passwords: []string{"new", "new"}}
	o, _, _, _ := newOps(t, s, p)

	if err := o.UserPasswd(context.Background(), "alice"); err != nil {
		t.Fatalf("UserPasswd: %v", err)
	}
	f, _ := htpasswd.Load(s.HtpasswdPath)
	if f.Verify("alice", "old") || !f.Verify("alice", "new") {
		t.Error("password was not replaced")
	}
}

func TestUserPasswdAbsent(t *testing.T) {
	s := opsSettings(t)
	o, _, _, _ := newOps(t, s, &prompt.Script{})

	err := o.UserPasswd(context.Background(), "bob")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("err = %v, want does not exist", err)
	}
}

func TestUserRemove(t *testing.T) {
	s := opsSettings(t)
	seedUser(t, s, "alice", "pw")
	o, _, _, buf := newOps(t, s, prompt.NonInteractive{})

	if err := o.UserRemove(context.Background(), "alice"); err != nil {
		t.Fatalf("UserRemove: %v", err)
	}
	if !strings.Contains(buf.String(), `removed "alice"`) {
		t.Errorf("output = %q", buf.String())
	}
	f, _ := htpasswd.Load(s.HtpasswdPath)
	if f.Has("alice") {
		t.Error("entry still present")
	}
}

func TestUserRemoveAbsentIsNotice(t *testing.T) {
	s := opsSettings(t)
	o, _, _, buf := newOps(t, s, prompt.NonInteractive{})

	if err := o.UserRemove(context.Background(), "ghost"); err != nil {
		t.Fatalf("removing an absent user must not fail: %v", err)
	}
	if !strings.Contains(buf.String(), "has no credential") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestUsersListMarksManaged(t *testing.T) {
	s := opsSettings(t)
	seedUser(t, s, "alice", "pw")
	seedUser(t, s, "mallory", "pw")
	o, _, _, buf := newOps(t, s, prompt.NonInteractive{})

	if err := o.UsersList(); err != nil {
		t.Fatalf("UsersList: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"USER", "alice", "mallory", "bcrypt", "yes", "no"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestUsersListEmpty(t *testing.T) {
	s := opsSettings(t)
	o, _, _, buf := newOps(t, s, prompt.NonInteractive{})

	if err := o.UsersList(); err != nil {
		t.Fatalf("UsersList: %v", err)
	}
	if !strings.Contains(buf.String(), "no credentials") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestReconcileUsersCreatesConfigured(t *testing.T) {
	s := opsSettings(t)
	p := &prompt.Script{Passwords: []string{"pw", "pw"}}
	o, _, _, buf := newOps(t, s, p)

	if err := o.ReconcileUsers(context.Background()); err != nil {
		t.Fatalf("ReconcileUsers: %v", err)
	}
	if !strings.Contains(buf.String(), "created") || !strings.Contains(buf.String(), "alice") {
		t.Errorf("output = %q", buf.String())
	}
	if _, err := os.Stat(s.HtpasswdPath); err != nil {
		t.Fatalf("credential file not written: %v", err)
	}
}

func seedUser(t *testing.T, s *config.Settings, user, password string) {
	t.Helper()
	f, err := htpasswd.Load(s.HtpasswdPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Set(user, password); err != nil {
		t.Fatal(err)
	}
	if err := f.Save(); err != nil {
		t.Fatal(err)
	}
}
