package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/webdav"
	"golang.org/x/sync/errgroup"

	"github.com/khooj/webdav-ss/aggregate"
	"github.com/khooj/webdav-ss/backend/crypt"
	"github.com/khooj/webdav-ss/backend/localfs"
	"github.com/khooj/webdav-ss/backend/memfs"
	s3backend "github.com/khooj/webdav-ss/backend/s3"
	"github.com/khooj/webdav-ss/config"
	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/props"
)

// Application is the assembled WebDAV server.
type Application struct {
	cfg     *config.Configuration
	agg     *aggregate.Aggregate
	handler http.Handler
}

// buildBackend makes the backend for one mount table entry, wrapping
// it with encryption when configured.
func buildBackend(ctx context.Context, cfg *config.Configuration, fsys *config.Filesystem) (fs.Backend, error) {
	var backend fs.Backend
	var err error
	switch fsys.Type {
	case config.KindFS:
		backend, err = localfs.NewFs(fsys.Path)
	case config.KindMem:
		backend = memfs.NewFs()
	case config.KindS3:
		accessKey, secretKey, rerr := fsys.Auth.Resolve()
		if rerr != nil {
			return nil, rerr
		}
		backend, err = s3backend.NewFs(ctx, s3backend.Options{
			Bucket:          fsys.Bucket,
			Region:          fsys.Region,
			Endpoint:        fsys.URL,
			PathStyle:       fsys.PathStyle,
			EnsureBucket:    fsys.EnsureBucket,
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
		})
	default:
		return nil, fmt.Errorf("unknown filesystem type %q", fsys.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build %q mount: %w", fsys.MountPath, err)
	}

	if enc := cfg.EncryptionFor(fsys); enc != nil && enc.Enable {
		backend, err = crypt.NewFs(backend, []byte(enc.Phrase), []byte(enc.Nonce))
		if err != nil {
			return nil, fmt.Errorf("failed to wrap %q mount with encryption: %w", fsys.MountPath, err)
		}
	}
	return backend, nil
}

// buildPropStore makes the configured dead property store, defaulting
// to memory.
func buildPropStore(cfg *config.Configuration) (props.Store, error) {
	if cfg.PropStorage == nil {
		return props.NewMemory(), nil
	}
	switch cfg.PropStorage.Type {
	case config.PropsMem:
		return props.NewMemory(), nil
	case config.PropsYaml:
		return props.NewYAML(cfg.PropStorage.Path)
	case config.PropsKv:
		return props.NewKV(cfg.PropStorage.Path)
	}
	return nil, fmt.Errorf("unknown prop storage type %q", cfg.PropStorage.Type)
}

// Build assembles the application from its configuration.
func Build(ctx context.Context, cfg *config.Configuration) (*Application, error) {
	store, err := buildPropStore(cfg)
	if err != nil {
		return nil, err
	}
	// build the mounts in parallel, bucket bootstrap can be slow
	backends := make([]fs.Backend, len(cfg.Filesystems))
	g, gCtx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i := range cfg.Filesystems {
		i := i
		g.Go(func() error {
			backend, err := buildBackend(gCtx, cfg, &cfg.Filesystems[i])
			if err != nil {
				return err
			}
			mu.Lock()
			backends[i] = backend
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	builder := aggregate.NewBuilder(store)
	for i := range cfg.Filesystems {
		builder.AddRoute(cfg.Filesystems[i].MountPath, backends[i])
	}
	agg, err := builder.Build()
	if err != nil {
		return nil, err
	}

	app := &Application{cfg: cfg, agg: agg}
	davHandler := &webdav.Handler{
		FileSystem: &davFS{agg: agg},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				fs.Debugf(nil, "%s %s: %v", r.Method, r.URL.Path, err)
			} else {
				fs.Debugf(nil, "%s %s", r.Method, r.URL.Path)
			}
		},
	}
	app.handler = app.copyInterceptor(davHandler)
	return app, nil
}

// Handler returns the assembled HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// copyInterceptor serves COPY of single resources with the backend's
// server side copy instead of the handler's stream copy. Collection
// copies and unparseable destinations fall through to next.
func (a *Application) copyInterceptor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "COPY" {
			next.ServeHTTP(w, r)
			return
		}
		dst, ok := a.copyDestination(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		src := pathOf(r.URL.Path)
		meta, err := a.agg.Metadata(r.Context(), src)
		if err != nil || meta.IsDir {
			next.ServeHTTP(w, r)
			return
		}

		created := true
		if _, err := a.agg.Metadata(r.Context(), pathOf(dst)); err == nil {
			if r.Header.Get("Overwrite") == "F" {
				http.Error(w, "destination exists", http.StatusPreconditionFailed)
				return
			}
			created = false
		}
		if err := a.agg.Copy(r.Context(), src.AsFile(), pathOf(dst).AsFile()); err != nil {
			fs.Errorf(a.agg, "server side copy failed, %q -> %q: %v", src, dst, err)
			http.Error(w, "copy failed", http.StatusInternalServerError)
			return
		}
		if created {
			w.WriteHeader(http.StatusCreated)
		} else {
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

// copyDestination extracts an in-tree destination path from the
// Destination header.
func (a *Application) copyDestination(r *http.Request) (string, bool) {
	raw := r.Header.Get("Destination")
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Host != "" && u.Host != r.Host {
		return "", false
	}
	if !strings.HasPrefix(u.Path, "/") {
		return "", false
	}
	return u.Path, true
}

// Addr returns the configured listen address.
func (a *Application) Addr() string {
	return net.JoinHostPort(a.cfg.App.Host, fmt.Sprintf("%d", a.cfg.App.Port))
}

// Run serves until the listener fails. With TLS configured the server
// speaks HTTPS with http/1.1 and h2.
func (a *Application) Run() error {
	srv := &http.Server{
		Addr:    a.Addr(),
		Handler: a.handler,
	}
	fs.Logf(nil, "serving WebDAV on %s", a.Addr())
	if tls := a.cfg.App.TLS; tls != nil {
		return srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return srv.ListenAndServe()
}
