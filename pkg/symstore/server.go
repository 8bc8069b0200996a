package symstore

import (
	"context"
	"io"
	"strings"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
)

// Server is a symbol server: an ordered list of stores where a file found
// in one store is copied into every store before it. The first stores are
// usually local caches of the last, remote, one.
type Server struct {
	stores  []Store
	isCache bool
}

// NewServer returns an empty server.
func NewServer(isCache bool) *Server {
	return &Server{isCache: isCache}
}

// AddStore appends s to the server.
func (srv *Server) AddStore(s Store) {
	srv.stores = append(srv.stores, s)
}

// IsEmpty returns true if the server has no stores.
func (srv *Server) IsEmpty() bool {
	return len(srv.stores) == 0
}

func (srv *Server) FindFile(ctx context.Context, q Query, log io.Writer, forceLoad bool) FileReference {
	for i, s := range srv.stores {
		ref := s.FindFile(ctx, q, log, forceLoad)
		if ref == nil {
			continue
		}
		if copied := srv.cascade(ctx, ref, q.Filename, q.BuildID, i-1, log); copied != nil {
			return copied
		}
		return ref
	}
	return nil
}

func (srv *Server) AddFile(ctx context.Context, source FileReference, filename string, id buildid.BuildID, log io.Writer) (FileReference, error) {
	switch {
	case source == nil:
		return nil, &StoreError{Msg: "Could not copy '" + filename + "' to the symbol server. " + msgSourceFileReferenceNil}
	case filename == "":
		return nil, &StoreError{Msg: "Could not copy '" + filename + "' to the symbol server. " + msgFilenameEmpty}
	case id.IsEmpty():
		return nil, &StoreError{Msg: "Could not copy '" + filename + "' to the symbol server. " + msgEmptyBuildID}
	}
	ref := srv.cascade(ctx, source, filename, id, len(srv.stores)-1, log)
	if ref == nil {
		return nil, &StoreError{Msg: msgFailedToCopyToSymbolServer(filename)}
	}
	return ref, nil
}

// cascade copies source into stores index down to 0, each copy being the
// source of the next one. It returns the last successful copy.
func (srv *Server) cascade(ctx context.Context, source FileReference, filename string, id buildid.BuildID, index int, log io.Writer) FileReference {
	var ref FileReference
	for i := index; i >= 0; i-- {
		copied, err := srv.stores[i].AddFile(ctx, source, filename, id, log)
		if err != nil {
			logLine(log, err.Error())
			continue
		}
		ref, source = copied, copied
	}
	return ref
}

func (srv *Server) IsCache() bool { return srv.isCache }

// Stores returns the stores of the server in search order.
func (srv *Server) Stores() []Store { return srv.stores }

func (srv *Server) String() string {
	parts := make([]string, len(srv.stores))
	for i, s := range srv.stores {
		parts[i] = s.String()
	}
	name := "server"
	if srv.isCache {
		name = "cache-server"
	}
	return name + "[" + strings.Join(parts, " ") + "]"
}
