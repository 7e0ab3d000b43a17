package ops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/htpasswd"
)

// UsersList prints the credential file as a table, marking which entries
// the configuration manages.
func (o *Ops) UsersList() error {
	f, err := htpasswd.Load(o.Cfg.HtpasswdPath)
	if err != nil {
		return err
	}
	if f.Len() == 0 {
		fmt.Fprintf(o.Out, "no credentials at %s\n", o.Cfg.HtpasswdPath)
		return nil
	}
	managed := make(map[string]bool, len(o.Cfg.Users))
	for _, u := range o.Cfg.Users {
		managed[u] = true
	}
	t := o.table("USER", "HASH", "MANAGED")
	for _, u := range f.Users() {
		m := "no"
		if managed[u] {
			m = "yes"
		}
		t.Append([]string{u, hashKind(f, u), m})
	}
	t.Render()
	return nil
}

func hashKind(f *htpasswd.File, user string) string {
	switch {
	case strings.HasPrefix(f.Hash(user), "$2"):
		return "bcrypt"
	case f.Hash(user) == "":
		return "empty"
	default:
		return "other"
	}
}

// UserAdd creates a credential for a new user.
func (o *Ops) UserAdd(ctx context.Context, user string) error {
	f, err := htpasswd.Load(o.Cfg.HtpasswdPath)
	if err != nil {
		return err
	}
	if f.Has(user) {
		return fmt.Errorf("user %q already exists, use `llamactl users passwd %s`", user, user)
	}
	res, err := htpasswd.PromptSet(f, user, o.Prompt, o.Log)
	if err != nil {
		return err
	}
	if res.Action == htpasswd.Deferred {
		return fmt.Errorf("adding %q needs an interactive terminal", user)
	}
	return o.saveCredentials(ctx, f)
}

// UserRemove deletes a credential. Removing an absent user is a notice,
// not an error, so scripted cleanups can re-run.
func (o *Ops) UserRemove(ctx context.Context, user string) error {
	f, err := htpasswd.Load(o.Cfg.HtpasswdPath)
	if err != nil {
		return err
	}
	if !f.Remove(user) {
		fmt.Fprintf(o.Out, "user %q has no credential\n", user)
		return nil
	}
	if err := o.saveCredentials(ctx, f); err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "removed %q\n", user)
	return nil
}

// UserPasswd replaces an existing user's password.
func (o *Ops) UserPasswd(ctx context.Context, user string) error {
	f, err := htpasswd.Load(o.Cfg.HtpasswdPath)
	if err != nil {
		return err
	}
	if !f.Has(user) {
		return fmt.Errorf("user %q does not exist, use `llamactl users add %s`", user, user)
	}
	res, err := htpasswd.PromptSet(f, user, o.Prompt, o.Log)
	if err != nil {
		return err
	}
	if res.Action == htpasswd.Deferred {
		return fmt.Errorf("changing the password for %q needs an interactive terminal", user)
	}
	return o.saveCredentials(ctx, f)
}

// ReconcileUsers walks the configured user list against the credential
// file, then saves it. Deploy runs this before the proxy step so nginx -t
// finds the auth file it references.
func (o *Ops) ReconcileUsers(ctx context.Context) error {
	f, err := htpasswd.Load(o.Cfg.HtpasswdPath)
	if err != nil {
		return err
	}
	results, err := htpasswd.Reconcile(f, o.Cfg.Users, o.Prompt, o.Log)
	if err != nil {
		return err
	}
	if err := o.saveCredentials(ctx, f); err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintf(o.Out, "%-10s %s\n", r.Action, r.User)
	}
	return nil
}

// saveCredentials writes the file directly when permitted and escalates
// for the root-owned path under /etc/nginx otherwise.
func (o *Ops) saveCredentials(ctx context.Context, f *htpasswd.File) error {
	err := f.Save()
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrPermission) {
		return err
	}
	return execx.WriteFileRoot(ctx, o.Run, f.Path, f.Bytes(), 0o640)
}
