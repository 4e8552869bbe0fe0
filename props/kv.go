package props

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/lib/normpath"
)

// Bucket layout: "existence" maps path-scoped keys to the encoded
// (namespace, prefix, name) triple; "values" maps the same keys to the
// raw property payload. The key embeds the path first so a cursor scan
// over a path prefix enumerates the properties of a subtree.
var (
	existenceBucket = []byte("existence")
	valuesBucket    = []byte("values")
)

// keySep separates the path from the property identity in bucket
// keys. It cannot occur in a path or an XML name.
const keySep = "\x1f"

// KV is the embedded bbolt property store.
type KV struct {
	db *bolt.DB
}

// encodedKey is the JSON stored in the existence bucket.
type encodedKey struct {
	Namespace string `json:"namespace,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Name      string `json:"name"`
}

// NewKV opens or creates the database at path.
func NewKV(path string) (*KV, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open prop database %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(existenceBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(valuesBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create prop buckets: %w", err)
	}
	return &KV{db: db}, nil
}

// Close releases the database.
func (k *KV) Close() error {
	return k.db.Close()
}

func storeKey(path normpath.Path, prop fs.DavProp) []byte {
	return []byte(string(path) + keySep + prop.Namespace + keySep + prop.Name)
}

// pathOfKey splits a bucket key back into its path component.
func pathOfKey(key []byte) (normpath.Path, bool) {
	i := bytes.Index(key, []byte(keySep))
	if i < 0 {
		return "", false
	}
	return normpath.Path(key[:i]), true
}

// HaveProps reports whether path carries any property. Collections
// short circuit to true: clients probe them before every PROPFIND and
// the subtree scan is not worth the round trip.
func (k *KV) HaveProps(ctx context.Context, path normpath.Path) bool {
	if path.IsCollection() {
		return true
	}
	found := false
	prefix := []byte(string(path) + keySep)
	_ = k.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(existenceBucket).Cursor()
		key, _ := c.Seek(prefix)
		found = key != nil && bytes.HasPrefix(key, prefix)
		return nil
	})
	return found
}

// PatchProp sets or removes one property.
func (k *KV) PatchProp(ctx context.Context, path normpath.Path, patch fs.PropPatch) (fs.PropStat, error) {
	key := storeKey(path, patch.Prop)
	err := k.db.Update(func(tx *bolt.Tx) error {
		existence := tx.Bucket(existenceBucket)
		values := tx.Bucket(valuesBucket)
		if !patch.Set {
			if err := existence.Delete(key); err != nil {
				return err
			}
			return values.Delete(key)
		}
		ident, err := json.Marshal(encodedKey{
			Namespace: patch.Prop.Namespace,
			Prefix:    patch.Prop.Prefix,
			Name:      patch.Prop.Name,
		})
		if err != nil {
			return err
		}
		if err := existence.Put(key, ident); err != nil {
			return err
		}
		return values.Put(key, patch.Prop.XML)
	})
	if err != nil {
		return fs.PropStat{}, fmt.Errorf("failed to patch prop: %w", err)
	}
	return fs.PropStat{Status: statusOK, Prop: patch.Prop}, nil
}

// GetProp returns the payload of one property.
func (k *KV) GetProp(ctx context.Context, path normpath.Path, prop fs.DavProp) ([]byte, error) {
	key := storeKey(path, prop)
	var value []byte
	var found bool
	err := k.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(existenceBucket).Get(key) == nil {
			return nil
		}
		found = true
		value = append([]byte(nil), tx.Bucket(valuesBucket).Get(key)...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get prop: %w", err)
	}
	if !found {
		return nil, fs.ErrorNotFound
	}
	return value, nil
}

// GetProps returns the properties at or below path.
func (k *KV) GetProps(ctx context.Context, path normpath.Path, withXML bool) ([]fs.DavProp, error) {
	var out []fs.DavProp
	err := k.db.View(func(tx *bolt.Tx) error {
		values := tx.Bucket(valuesBucket)
		c := tx.Bucket(existenceBucket).Cursor()
		for key, ident := c.First(); key != nil; key, ident = c.Next() {
			p, ok := pathOfKey(key)
			if !ok || !hasPathPrefix(p, path) {
				continue
			}
			var ek encodedKey
			if err := json.Unmarshal(ident, &ek); err != nil {
				return err
			}
			prop := fs.DavProp{
				Namespace: ek.Namespace,
				Prefix:    ek.Prefix,
				Name:      ek.Name,
			}
			if withXML {
				prop.XML = append([]byte(nil), values.Get(key)...)
			}
			out = append(out, prop)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list props: %w", err)
	}
	return out, nil
}

// removeMatching deletes every property whose key path matches.
func (k *KV) removeMatching(match func(normpath.Path) bool) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		values := tx.Bucket(valuesBucket)
		existence := tx.Bucket(existenceBucket)
		c := existence.Cursor()
		var doomed [][]byte
		for key, _ := c.First(); key != nil; key, _ = c.Next() {
			if p, ok := pathOfKey(key); ok && match(p) {
				doomed = append(doomed, append([]byte(nil), key...))
			}
		}
		for _, key := range doomed {
			if err := existence.Delete(key); err != nil {
				return err
			}
			if err := values.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveFile drops the properties of one resource.
func (k *KV) RemoveFile(ctx context.Context, path normpath.Path) error {
	if err := k.removeMatching(func(p normpath.Path) bool { return p == path }); err != nil {
		return fmt.Errorf("failed to remove props: %w", err)
	}
	return nil
}

// RemoveDir drops the properties at or below path.
func (k *KV) RemoveDir(ctx context.Context, path normpath.Path) error {
	if err := k.removeMatching(func(p normpath.Path) bool { return hasPathPrefix(p, path) }); err != nil {
		return fmt.Errorf("failed to remove props: %w", err)
	}
	return nil
}

// Rename moves properties to the mirrored destination paths.
func (k *KV) Rename(ctx context.Context, from, to normpath.Path) error {
	if err := k.transfer(from, to, true); err != nil {
		return fmt.Errorf("failed to rename props: %w", err)
	}
	return nil
}

// Copy duplicates properties at the mirrored destination paths.
func (k *KV) Copy(ctx context.Context, from, to normpath.Path) error {
	if err := k.transfer(from, to, false); err != nil {
		return fmt.Errorf("failed to copy props: %w", err)
	}
	return nil
}

func (k *KV) transfer(from, to normpath.Path, move bool) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		values := tx.Bucket(valuesBucket)
		existence := tx.Bucket(existenceBucket)

		type moved struct {
			oldKey, newKey, ident, value []byte
		}
		var pending []moved
		c := existence.Cursor()
		for key, ident := c.First(); key != nil; key, ident = c.Next() {
			p, ok := pathOfKey(key)
			if !ok {
				continue
			}
			np := rewrite(p, from, to)
			if np == p {
				continue
			}
			rest := key[len(p):]
			pending = append(pending, moved{
				oldKey: append([]byte(nil), key...),
				newKey: append([]byte(string(np)), rest...),
				ident:  append([]byte(nil), ident...),
				value:  append([]byte(nil), values.Get(key)...),
			})
		}
		for _, m := range pending {
			if err := existence.Put(m.newKey, m.ident); err != nil {
				return err
			}
			if err := values.Put(m.newKey, m.value); err != nil {
				return err
			}
			if move {
				if err := existence.Delete(m.oldKey); err != nil {
					return err
				}
				if err := values.Delete(m.oldKey); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

var _ Store = (*KV)(nil)
