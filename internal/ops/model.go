package ops

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/khegiw/llamactl/internal/format"
	"github.com/khegiw/llamactl/internal/fsutil"
)

// ModelList prints every GGUF artifact in the models directory. The one
// the service is configured to load gets a marker.
func (o *Ops) ModelList() error {
	matches, err := filepath.Glob(filepath.Join(o.Cfg.ModelsDir, "*.gguf"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintf(o.Out, "no models in %s\n", o.Cfg.ModelsDir)
		return nil
	}
	sort.Strings(matches)
	t := o.table("MODEL", "SIZE", "MODIFIED", "")
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		active := ""
		if filepath.Base(m) == o.Cfg.ModelName {
			active = "active"
		}
		t.Append([]string{
			filepath.Base(m),
			format.HumanBytes(fi.Size()),
			fi.ModTime().Format("2006-01-02 15:04"),
			active,
		})
	}
	t.Render()
	return nil
}

// ModelAdd copies a local GGUF file into the models directory.
func (o *Ops) ModelAdd(src string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}
	if !strings.HasSuffix(src, ".gguf") {
		o.Log.Warn().Str("path", src).Msg("file does not look like a GGUF artifact")
	}
	dest := filepath.Join(o.Cfg.ModelsDir, filepath.Base(src))
	if same, err := filepath.Abs(src); err == nil && same == dest {
		fmt.Fprintf(o.Out, "%s is already in the models directory\n", filepath.Base(src))
		return nil
	}
	if err := os.MkdirAll(o.Cfg.ModelsDir, 0o755); err != nil {
		return err
	}
	if err := fsutil.CopyFile(src, dest); err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "added %s (%s)\n", filepath.Base(dest), format.HumanBytes(fi.Size()))
	return nil
}

// ModelFetch downloads a model into the models directory. An empty URL
// means the configured one; an existing file is only replaced with consent.
func (o *Ops) ModelFetch(ctx context.Context, rawURL string) error {
	if rawURL == "" {
		rawURL = o.Cfg.ModelURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("model url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return fmt.Errorf("cannot derive a file name from %s", rawURL)
	}
	dest := filepath.Join(o.Cfg.ModelsDir, name)
	if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
		redo, perr := o.Prompt.Confirm(
			fmt.Sprintf("model %s exists (%s). Download it again?", name, format.HumanBytes(fi.Size())), false)
		if perr != nil {
			return perr
		}
		if !redo {
			fmt.Fprintf(o.Out, "keeping %s\n", dest)
			return nil
		}
		if err := os.Remove(dest); err != nil {
			return err
		}
		os.Remove(dest + ".partial")
	}
	if err := o.DL.Fetch(ctx, rawURL, dest); err != nil {
		return err
	}
	fi, err := os.Stat(dest)
	if err != nil {
		return err
	}
	fmt.Fprintf(o.Out, "fetched %s (%s)\n", name, format.HumanBytes(fi.Size()))
	return nil
}
