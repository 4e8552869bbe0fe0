// Package config loads the YAML configuration: the listen address, the
// mounted filesystems, the dead property storage and the optional
// encryption settings.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// App is the listen configuration.
type App struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  *TLS   `yaml:"tls,omitempty"`
}

// TLS enables HTTPS whenever the block is present; both files are then
// passed to the listener as they are.
type TLS struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// FilesystemKind selects the backend type of one mount.
type FilesystemKind string

// The supported backend types.
const (
	KindFS  FilesystemKind = "fs"
	KindMem FilesystemKind = "mem"
	KindS3  FilesystemKind = "s3"
)

// Filesystem is one mount table entry.
type Filesystem struct {
	MountPath  string         `yaml:"mount_path"`
	Type       FilesystemKind `yaml:"type"`
	Path       string         `yaml:"path,omitempty"` // fs
	Bucket     string         `yaml:"bucket,omitempty"`
	Region     string         `yaml:"region,omitempty"`
	URL        string         `yaml:"url,omitempty"`
	PathStyle  bool           `yaml:"path_style,omitempty"`
	EnsureBucket bool         `yaml:"ensure_bucket,omitempty"`
	Auth       *S3Auth        `yaml:"auth,omitempty"`
	Encryption *Encryption    `yaml:"encryption,omitempty"`
}

// S3AuthKind selects how credentials are obtained.
type S3AuthKind string

// The supported credential sources.
const (
	AuthEnvironment S3AuthKind = "environment"
	AuthFile        S3AuthKind = "file"
	AuthValues      S3AuthKind = "values"
)

// S3Auth describes one credential source.
type S3Auth struct {
	Type S3AuthKind `yaml:"type"`
	// environment: variable names, with the usual AWS defaults
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	// file: TOML file carrying ACCESS_KEY and SECRET_KEY
	Path string `yaml:"path,omitempty"`
	// values: inline
	AccessKeyValue string `yaml:"access_key_value,omitempty"`
	SecretKeyValue string `yaml:"secret_key_value,omitempty"`
}

// authFile is the TOML shape of a credential file.
type authFile struct {
	AccessKey string `toml:"ACCESS_KEY"`
	SecretKey string `toml:"SECRET_KEY"`
}

// Resolve returns the access and secret key for this source.
func (a *S3Auth) Resolve() (accessKey, secretKey string, err error) {
	if a == nil {
		a = &S3Auth{Type: AuthEnvironment}
	}
	switch a.Type {
	case AuthEnvironment, "":
		accessVar := a.AccessKey
		if accessVar == "" {
			accessVar = "AWS_ACCESS_KEY_ID"
		}
		secretVar := a.SecretKey
		if secretVar == "" {
			secretVar = "AWS_SECRET_ACCESS_KEY"
		}
		return os.Getenv(accessVar), os.Getenv(secretVar), nil
	case AuthFile:
		path, err := homedir.Expand(a.Path)
		if err != nil {
			return "", "", fmt.Errorf("failed to expand auth file path %q: %w", a.Path, err)
		}
		var creds authFile
		if _, err := toml.DecodeFile(path, &creds); err != nil {
			return "", "", fmt.Errorf("failed to read auth file %q: %w", path, err)
		}
		return creds.AccessKey, creds.SecretKey, nil
	case AuthValues:
		return a.AccessKeyValue, a.SecretKeyValue, nil
	}
	return "", "", fmt.Errorf("unknown auth type %q", a.Type)
}

// Encryption configures the stream cipher layer of one mount, or of
// every mount when set globally.
type Encryption struct {
	Enable bool   `yaml:"enable"`
	Phrase string `yaml:"phrase,omitempty"` // 32 bytes
	Nonce  string `yaml:"nonce,omitempty"`  // 12 bytes
}

// PropStorageKind selects the dead property store.
type PropStorageKind string

// The supported property stores.
const (
	PropsYaml PropStorageKind = "yaml"
	PropsMem  PropStorageKind = "mem"
	PropsKv   PropStorageKind = "kv"
)

// PropStorage configures the dead property store.
type PropStorage struct {
	Type PropStorageKind `yaml:"type"`
	Path string          `yaml:"path,omitempty"`
}

// Configuration is the whole file.
type Configuration struct {
	App         App          `yaml:"app"`
	Filesystems []Filesystem `yaml:"filesystems"`
	PropStorage *PropStorage `yaml:"prop_storage,omitempty"`
	Encryption  *Encryption  `yaml:"encryption,omitempty"`
	LogLevel    string       `yaml:"log_level,omitempty"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Configuration, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path %q: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	cfg := &Configuration{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PropStorage != nil && cfg.PropStorage.Path != "" {
		propPath, err := homedir.Expand(cfg.PropStorage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand prop_storage.path %q: %w", cfg.PropStorage.Path, err)
		}
		cfg.PropStorage.Path = propPath
	}
	return cfg, nil
}

// Validate rejects configurations that cannot be built.
func (c *Configuration) Validate() error {
	if c.App.Host == "" {
		return fmt.Errorf("app.host is required")
	}
	if c.App.Port == 0 {
		return fmt.Errorf("app.port is required")
	}
	if len(c.Filesystems) == 0 {
		return fmt.Errorf("at least one filesystem is required")
	}
	seen := make(map[string]struct{})
	for i, fsys := range c.Filesystems {
		if fsys.MountPath == "" {
			return fmt.Errorf("filesystems[%d].mount_path is required", i)
		}
		if _, ok := seen[fsys.MountPath]; ok {
			return fmt.Errorf("duplicate mount_path %q", fsys.MountPath)
		}
		seen[fsys.MountPath] = struct{}{}
		switch fsys.Type {
		case KindFS:
			if fsys.Path == "" {
				return fmt.Errorf("filesystems[%d].path is required for type fs", i)
			}
		case KindMem:
		case KindS3:
			if fsys.Bucket == "" {
				return fmt.Errorf("filesystems[%d].bucket is required for type s3", i)
			}
		default:
			return fmt.Errorf("filesystems[%d].type %q is unknown", i, fsys.Type)
		}
		if err := validateEncryption(fsys.Encryption); err != nil {
			return fmt.Errorf("filesystems[%d]: %w", i, err)
		}
	}
	if err := validateEncryption(c.Encryption); err != nil {
		return err
	}
	if c.PropStorage != nil {
		switch c.PropStorage.Type {
		case PropsMem:
		case PropsYaml, PropsKv:
			if c.PropStorage.Path == "" {
				return fmt.Errorf("prop_storage.path is required for type %q", c.PropStorage.Type)
			}
		default:
			return fmt.Errorf("prop_storage.type %q is unknown", c.PropStorage.Type)
		}
	}
	return nil
}

func validateEncryption(e *Encryption) error {
	if e == nil || !e.Enable {
		return nil
	}
	if len(e.Phrase) != 32 {
		return fmt.Errorf("encryption.phrase must be exactly 32 bytes, got %d", len(e.Phrase))
	}
	if len(e.Nonce) != 12 {
		return fmt.Errorf("encryption.nonce must be exactly 12 bytes, got %d", len(e.Nonce))
	}
	return nil
}

// EncryptionFor returns the encryption settings effective for one
// mount: its own when present, otherwise the global ones.
func (c *Configuration) EncryptionFor(fsys *Filesystem) *Encryption {
	if fsys.Encryption != nil {
		return fsys.Encryption
	}
	return c.Encryption
}
