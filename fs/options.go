package fs

import (
	"errors"
	"os"
)

// OpenOptions select the open mode for Backend.Open.
//
// CreateNew fails with ErrorExists if the resource is present; Create
// succeeds either way. Contradictory combinations are rejected by
// Validate.
type OpenOptions struct {
	Read      bool
	Write     bool
	Create    bool
	CreateNew bool
	Truncate  bool
	Append    bool
}

// OpenOptionsFromFlags converts os.OpenFile style flags into
// OpenOptions. This is what the WebDAV front end hands us.
func OpenOptionsFromFlags(flag int) OpenOptions {
	opts := OpenOptions{
		Read: flag&(os.O_WRONLY) == 0,
	}
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		opts.Write = true
	}
	if flag&os.O_CREATE != 0 {
		opts.Create = true
	}
	if flag&os.O_EXCL != 0 {
		opts.CreateNew = true
	}
	if flag&os.O_TRUNC != 0 {
		opts.Truncate = true
	}
	if flag&os.O_APPEND != 0 {
		opts.Append = true
	}
	return opts
}

// Validate rejects combinations that have no sensible meaning.
func (o OpenOptions) Validate() error {
	if o.Append && o.Truncate {
		return errors.New("invalid open options: append and truncate")
	}
	if o.CreateNew && !o.Create {
		return errors.New("invalid open options: create_new without create")
	}
	if !o.Read && !o.Write {
		return errors.New("invalid open options: neither read nor write")
	}
	return nil
}
