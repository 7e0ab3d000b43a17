package htpasswd

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/khegiw/llamactl/internal/prompt"
)

// Action says what Reconcile did with one user.
type Action string

const (
	// Created means the user was absent and got a fresh credential.
	Created Action = "created"
	// Updated means the existing credential was replaced in place.
	Updated Action = "updated"
	// Skipped means the existing credential was left alone.
	Skipped Action = "skipped"
	// Recreated means the entry was deleted and written anew.
	Recreated Action = "recreated"
	// Deferred means a password was needed but no terminal was there to
	// type it; the user remains without a credential.
	Deferred Action = "deferred"
	// Removed means an unmanaged entry was deleted on request.
	Removed Action = "removed"
	// Unmanaged means an entry outside the configured list was kept.
	Unmanaged Action = "unmanaged"
)

// Result is one user's outcome.
type Result struct {
	User   string
	Action Action
}

// passwordAttempts bounds the ask-and-confirm loop for one user.
const passwordAttempts = 3

// Reconcile brings the credential file in line with the configured user
// list. Existing users get a per-user choice of update, skip or
// delete-and-recreate; missing users are created. Entries not in the list
// are offered for removal but kept by default. The caller saves the file.
func Reconcile(f *File, users []string, p prompt.Prompter, log zerolog.Logger) ([]Result, error) {
	var results []Result
	for _, user := range users {
		res, err := reconcileUser(f, user, p, log)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	configured := make(map[string]bool, len(users))
	for _, u := range users {
		configured[u] = true
	}
	for _, existing := range f.Users() {
		if configured[existing] {
			continue
		}
		remove, err := p.Confirm(fmt.Sprintf("user %q is not in the configured list, remove it", existing), false)
		if err != nil {
			return results, err
		}
		if remove {
			f.Remove(existing)
			log.Info().Str("user", existing).Msg("removed unmanaged credential")
			results = append(results, Result{User: existing, Action: Removed})
		} else {
			results = append(results, Result{User: existing, Action: Unmanaged})
		}
	}
	return results, nil
}

// PromptSet asks for a password and stores it, creating the entry when it
// is absent. The users add and passwd commands share it.
func PromptSet(f *File, user string, p prompt.Prompter, log zerolog.Logger) (Result, error) {
	if err := checkUser(user); err != nil {
		return Result{}, err
	}
	action := Created
	if f.Has(user) {
		action = Updated
	}
	return setPassword(f, user, p, log, action)
}

func reconcileUser(f *File, user string, p prompt.Prompter, log zerolog.Logger) (Result, error) {
	if err := checkUser(user); err != nil {
		return Result{}, err
	}

	if !f.Has(user) {
		return setPassword(f, user, p, log, Created)
	}

	choice, err := p.Choose(fmt.Sprintf("user %q already has a credential: [u]pdate, [s]kip, [d]elete and recreate", user), "usd", 's')
	if err != nil {
		return Result{}, err
	}
	switch choice {
	case 'u':
		return setPassword(f, user, p, log, Updated)
	case 'd':
		f.Remove(user)
		return setPassword(f, user, p, log, Recreated)
	default:
		log.Info().Str("user", user).Msg("credential unchanged")
		return Result{User: user, Action: Skipped}, nil
	}
}

// setPassword asks for a password twice and stores it. Running without a
// terminal defers the user instead of failing the whole reconcile.
func setPassword(f *File, user string, p prompt.Prompter, log zerolog.Logger, done Action) (Result, error) {
	for attempt := 1; attempt <= passwordAttempts; attempt++ {
		pw, err := p.Password(fmt.Sprintf("password for %q", user))
		if errors.Is(err, prompt.ErrNeedsTerminal) {
			log.Warn().Str("user", user).Msg("no terminal for password entry; run `llamactl users` interactively to finish")
			return Result{User: user, Action: Deferred}, nil
		}
		if err != nil {
			return Result{}, err
		}
		if pw == "" {
			log.Warn().Msg("password must not be empty")
			continue
		}
		again, err := p.Password(fmt.Sprintf("retype password for %q", user))
		if err != nil {
			return Result{}, err
		}
		if pw != again {
			log.Warn().Msg("passwords do not match")
			continue
		}
		if err := f.Set(user, pw); err != nil {
			return Result{}, err
		}
		log.Info().Str("user", user).Str("action", string(done)).Msg("credential written")
		return Result{User: user, Action: done}, nil
	}
	return Result{}, fmt.Errorf("no matching passwords for %q after %d attempts", user, passwordAttempts)
}
