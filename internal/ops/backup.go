package ops

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/khegiw/llamactl/internal/execx"
	"github.com/khegiw/llamactl/internal/service"
)

// backupTargets lists the files worth carrying to a new machine, in the
// order they are restored. Paths inside the archive drop the leading slash.
func (o *Ops) backupTargets() []string {
	targets := []string{
		o.Cfg.UnitPath(),
		o.Cfg.NginxSiteAvailable(),
		o.Cfg.HtpasswdPath,
	}
	if o.ConfigPath != "" {
		targets = append(targets, o.ConfigPath)
	}
	if o.Cfg.LogFile != "" {
		targets = append(targets, o.Cfg.LogFile)
	}
	return targets
}

// Backup archives whichever managed files exist right now into a
// timestamped tar.gz and returns its path.
func (o *Ops) Backup() (string, error) {
	if err := os.MkdirAll(o.Cfg.BackupDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("llamactl-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	archive := filepath.Join(o.Cfg.BackupDir, name)

	out, err := os.Create(archive)
	if err != nil {
		return "", err
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	stored := 0
	for _, path := range o.backupTargets() {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			o.Log.Warn().Str("path", path).Err(err).Msg("skipping unreadable file")
			continue
		}
		hdr := &tar.Header{
			Name:    archiveName(path),
			Mode:    int64(fi.Mode().Perm()),
			Size:    int64(len(data)),
			ModTime: fi.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return "", err
		}
		if _, err := tw.Write(data); err != nil {
			return "", err
		}
		stored++
		o.Log.Debug().Str("path", path).Msg("archived")
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	if stored == 0 {
		os.Remove(archive)
		return "", errors.New("nothing to back up; no managed file exists yet")
	}
	fmt.Fprintf(o.Out, "backup written to %s (%d files)\n", archive, stored)
	return archive, nil
}

func archiveName(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(path), "/")
}

// Restore unpacks an archive into a staging directory and copies the
// managed config files back to the paths the current settings name. The
// service definitions are reloaded afterwards; the settings file itself is
// never overwritten.
func (o *Ops) Restore(ctx context.Context, archive string) error {
	staging, err := os.MkdirTemp("", "llamactl-restore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)
	if err := unpack(archive, staging); err != nil {
		return err
	}

	type target struct {
		dest string
		mode os.FileMode
	}
	targets := []target{
		{o.Cfg.UnitPath(), 0o644},
		{o.Cfg.NginxSiteAvailable(), 0o644},
		{o.Cfg.HtpasswdPath, 0o640},
	}
	restoredUnit := false
	restoredSite := false
	restored := 0
	for _, t := range targets {
		src := filepath.Join(staging, archiveName(t.dest))
		data, err := os.ReadFile(src)
		if err != nil {
			continue
		}
		if err := execx.WriteFileRoot(ctx, o.Run, t.dest, data, t.mode); err != nil {
			return fmt.Errorf("restore %s: %w", t.dest, err)
		}
		fmt.Fprintf(o.Out, "restored %s\n", t.dest)
		restored++
		switch t.dest {
		case o.Cfg.UnitPath():
			restoredUnit = true
		case o.Cfg.NginxSiteAvailable():
			restoredSite = true
		}
	}
	if restored == 0 {
		return fmt.Errorf("%s holds none of the files the current settings manage", archive)
	}

	if restoredUnit {
		if err := o.Ctl.DaemonReload(ctx); err != nil {
			return fmt.Errorf("daemon-reload: %w", err)
		}
	}
	if restoredSite {
		if _, err := execx.EnsureSymlinkRoot(ctx, o.Run, o.Cfg.NginxSiteAvailable(), o.Cfg.NginxSiteEnabled()); err != nil {
			return err
		}
		if err := service.CheckNginxConfig(ctx, o.Run); err != nil {
			return fmt.Errorf("restored nginx config is invalid: %w", err)
		}
		if err := o.Ctl.Reload(ctx, "nginx"); err != nil {
			return fmt.Errorf("reload nginx: %w", err)
		}
	}
	return nil
}

// unpack extracts regular files from a tar.gz, refusing entries that would
// escape dir.
func unpack(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open %s: %w", archive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", archive, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		clean := filepath.Clean(hdr.Name)
		if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			return fmt.Errorf("unsafe path %q in archive", hdr.Name)
		}
		dest := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}
