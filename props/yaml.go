package props

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

// yamlProp is the on-disk shape of one property. Value carries the
// opaque payload as base64.
type yamlProp struct {
	Namespace string `yaml:"namespace,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Value     string `yaml:"value,omitempty"`
	Name      string `yaml:"name"`
}

// YAML mirrors a Memory store to a YAML file on every mutation. The
// file is loaded on construction if it exists. A single writer lock
// serializes dumps so the on-disk image is always consistent.
type YAML struct {
	filepath string
	mem      *Memory
	dumpMu   sync.Mutex
}

// NewYAML opens or creates a file backed property store at path.
func NewYAML(path string) (*YAML, error) {
	y := &YAML{
		filepath: path,
		mem:      NewMemory(),
	}
	if _, err := os.Stat(path); err == nil {
		if err := y.load(); err != nil {
			return nil, fmt.Errorf("failed to load props from %q: %w", path, err)
		}
	}
	return y, nil
}

func (y *YAML) load() error {
	data, err := os.ReadFile(y.filepath)
	if err != nil {
		return err
	}
	entries := map[string][]yamlProp{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return err
	}
	ctx := context.Background()
	for path, list := range entries {
		for _, p := range list {
			value, err := base64.StdEncoding.DecodeString(p.Value)
			if err != nil {
				return fmt.Errorf("bad value for %q %q: %w", path, p.Name, err)
			}
			_, err = y.mem.PatchProp(ctx, normpath.Path(path), fs.PropPatch{
				Set: true,
				Prop: fs.DavProp{
					Namespace: p.Namespace,
					Prefix:    p.Prefix,
					Name:      p.Name,
					XML:       value,
				},
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// dump serializes the whole store. Called after every mutation.
func (y *YAML) dump() error {
	y.dumpMu.Lock()
	defer y.dumpMu.Unlock()

	snapshot := y.mem.snapshot()
	entries := make(map[string][]yamlProp, len(snapshot))
	for path, list := range snapshot {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Namespace != list[j].Namespace {
				return list[i].Namespace < list[j].Namespace
			}
			return list[i].Name < list[j].Name
		})
		out := make([]yamlProp, 0, len(list))
		for _, prop := range list {
			out = append(out, yamlProp{
				Namespace: prop.Namespace,
				Prefix:    prop.Prefix,
				Name:      prop.Name,
				Value:     base64.StdEncoding.EncodeToString(prop.XML),
			})
		}
		entries[string(path)] = out
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal props: %w", err)
	}
	if err := os.WriteFile(y.filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to dump props to %q: %w", y.filepath, err)
	}
	return nil
}

// HaveProps reports whether path carries any property.
func (y *YAML) HaveProps(ctx context.Context, path normpath.Path) bool {
	return y.mem.HaveProps(ctx, path)
}

// PatchProp sets or removes one property and dumps.
func (y *YAML) PatchProp(ctx context.Context, path normpath.Path, patch fs.PropPatch) (fs.PropStat, error) {
	stat, err := y.mem.PatchProp(ctx, path, patch)
	if err != nil {
		return stat, err
	}
	return stat, y.dump()
}

// GetProp returns the payload of one property.
func (y *YAML) GetProp(ctx context.Context, path normpath.Path, prop fs.DavProp) ([]byte, error) {
	return y.mem.GetProp(ctx, path, prop)
}

// GetProps returns the properties at or below path.
func (y *YAML) GetProps(ctx context.Context, path normpath.Path, withXML bool) ([]fs.DavProp, error) {
	return y.mem.GetProps(ctx, path, withXML)
}

// RemoveFile drops the properties of one resource and dumps.
func (y *YAML) RemoveFile(ctx context.Context, path normpath.Path) error {
	if err := y.mem.RemoveFile(ctx, path); err != nil {
		return err
	}
	return y.dump()
}

// RemoveDir drops the properties at or below path and dumps.
func (y *YAML) RemoveDir(ctx context.Context, path normpath.Path) error {
	if err := y.mem.RemoveDir(ctx, path); err != nil {
		return err
	}
	return y.dump()
}

// Rename moves properties and dumps.
func (y *YAML) Rename(ctx context.Context, from, to normpath.Path) error {
	if err := y.mem.Rename(ctx, from, to); err != nil {
		return err
	}
	return y.dump()
}

// Copy duplicates properties and dumps.
func (y *YAML) Copy(ctx context.Context, from, to normpath.Path) error {
	if err := y.mem.Copy(ctx, from, to); err != nil {
		return err
	}
	return y.dump()
}

var _ Store = (*YAML)(nil)
