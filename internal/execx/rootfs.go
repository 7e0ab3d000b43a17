package execx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/khegiw/llamactl/internal/fsutil"
)

// WriteFileRoot writes data to path, escalating through sudo when the target
// lives in a directory the current user cannot write. The escalated path
// stages the content in a temp file and installs it with the requested mode,
// creating parent directories as needed.
func WriteFileRoot(ctx context.Context, r Runner, path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		werr := fsutil.WriteFileAtomic(path, data, mode)
		if werr == nil || !errors.Is(werr, os.ErrPermission) {
			return werr
		}
	} else if !errors.Is(err, os.ErrPermission) {
		return err
	}
	tmp, err := os.CreateTemp("", "llamactl-stage-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(data); err == nil {
		err = tmp.Close()
	}
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	cmd := Sudo(r, Command("install", "-D", "-m", fmt.Sprintf("%04o", mode), tmp.Name(), path))
	if err := r.Run(ctx, cmd); err != nil {
		return fmt.Errorf("install %s: %w", path, err)
	}
	return nil
}

// RemoveFileRoot deletes path, escalating through sudo on permission denial.
// A missing file is not an error.
func RemoveFileRoot(ctx context.Context, r Runner, path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if !errors.Is(err, os.ErrPermission) {
		return err
	}
	return r.Run(ctx, Sudo(r, Command("rm", "-f", path)))
}

// EnsureSymlinkRoot points link at target, replacing whatever is there, with
// sudo as the fallback. It reports whether anything had to change.
func EnsureSymlinkRoot(ctx context.Context, r Runner, target, link string) (bool, error) {
	if cur, err := os.Readlink(link); err == nil && cur == target {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil && errors.Is(err, os.ErrPermission) {
		return true, sudoLink(ctx, r, target, link)
	}
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		if !errors.Is(err, os.ErrPermission) {
			return false, err
		}
		return true, sudoLink(ctx, r, target, link)
	}
	if err := os.Symlink(target, link); err != nil {
		if !errors.Is(err, os.ErrPermission) {
			return false, err
		}
		return true, sudoLink(ctx, r, target, link)
	}
	return true, nil
}

func sudoLink(ctx context.Context, r Runner, target, link string) error {
	if err := r.Run(ctx, Sudo(r, Command("ln", "-sfn", target, link))); err != nil {
		return fmt.Errorf("link %s: %w", link, err)
	}
	return nil
}
