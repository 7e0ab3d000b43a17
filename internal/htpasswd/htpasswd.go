// Package htpasswd manages the basic-auth credential file the reverse proxy
// reads. Hashes are bcrypt, matching what `htpasswd -B` would produce.
package htpasswd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/khegiw/llamactl/internal/fsutil"
)

// hashCost is indirected so tests can drop to bcrypt.MinCost.
var hashCost = bcrypt.DefaultCost

type entry struct {
	user string
	hash string
}

// File is an in-memory credential file. Mutations only touch disk on Save.
type File struct {
	Path    string
	entries []entry
}

// Load parses the file at path. A missing file yields an empty File so a
// first deployment and a later one share the same code path.
func Load(path string) (*File, error) {
	f := &File{Path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for i, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("%s:%d: malformed entry", path, i+1)
		}
		f.entries = append(f.entries, entry{user: user, hash: hash})
	}
	return f, nil
}

// Len reports how many credentials the file holds.
func (f *File) Len() int { return len(f.entries) }

// Has reports whether user already has an entry.
func (f *File) Has(user string) bool {
	return f.index(user) >= 0
}

// Users lists entries in file order.
func (f *File) Users() []string {
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.user
	}
	return out
}

// Set adds or replaces the credential for user.
func (f *File) Set(user, password string) error {
	if err := checkUser(user); err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("empty password for user %q", user)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return fmt.Errorf("hash password for %q: %w", user, err)
	}
	if i := f.index(user); i >= 0 {
		f.entries[i].hash = string(hash)
		return nil
	}
	f.entries = append(f.entries, entry{user: user, hash: string(hash)})
	return nil
}

// Remove drops user's entry, reporting whether it existed.
func (f *File) Remove(user string) bool {
	i := f.index(user)
	if i < 0 {
		return false
	}
	f.entries = append(f.entries[:i], f.entries[i+1:]...)
	return true
}

// Hash returns the stored hash for user, or "" when the user is absent.
func (f *File) Hash(user string) string {
	i := f.index(user)
	if i < 0 {
		return ""
	}
	return f.entries[i].hash
}

// Verify checks a password against the stored hash.
func (f *File) Verify(user, password string) bool {
	i := f.index(user)
	if i < 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(f.entries[i].hash), []byte(password)) == nil
}

// Bytes renders the file content, one user:hash line per entry.
func (f *File) Bytes() []byte {
	var b strings.Builder
	for _, e := range f.entries {
		b.WriteString(e.user)
		b.WriteByte(':')
		b.WriteString(e.hash)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Save writes the file with owner/group read only, which is what nginx
// needs and nobody else should have.
func (f *File) Save() error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(f.Path), err)
	}
	if err := fsutil.WriteFileAtomic(f.Path, f.Bytes(), 0o640); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}

func (f *File) index(user string) int {
	for i, e := range f.entries {
		if e.user == user {
			return i
		}
	}
	return -1
}

func checkUser(user string) error {
	if user == "" || strings.ContainsAny(user, ": \t\n") {
		return fmt.Errorf("invalid username %q", user)
	}
	return nil
}
