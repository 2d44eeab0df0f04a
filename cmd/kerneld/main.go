// Command kerneld runs the storage kernel behind a small gRPC surface: a
// hand-rolled service descriptor and JSON codec (no protobuf, matching
// how the teacher's own server exposes its engine), with transactions
// addressed by an opaque session token so a stateless RPC call can
// resume work started by an earlier one.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/stratumdb/kernel/internal/kernel"
	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/rid"
	"github.com/stratumdb/kernel/internal/storage/txn"
)

var (
	flagConfig = flag.String("config", "", "path to a YAML kernel config (defaults used if empty)")
	flagGRPC   = flag.String("grpc", ":9091", "gRPC listen address")
)

// jsonCodec ships request/response structs as plain JSON over gRPC,
// exactly as the teacher's server does, instead of generating protobuf
// bindings for a handful of internal RPCs.
type jsonCodec struct{}

func (jsonCodec) Name() string                        { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)        { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error   { return json.Unmarshal(data, v) }

// ridWire is the JSON-friendly form of rid.RID.
type ridWire struct {
	PageID uint32 `json:"page_id"`
	Slot   uint16 `json:"slot"`
}

func toWire(r rid.RID) ridWire    { return ridWire{PageID: uint32(r.PageID), Slot: r.Slot} }
func fromWire(w ridWire) rid.RID { return rid.RID{PageID: page.ID(w.PageID), Slot: w.Slot} }

type beginRequest struct {
	Table string `json:"table"`
}
type beginResponse struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}
type ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type insertRequest struct {
	SessionID string `json:"session_id"`
	Data      []byte `json:"data"`
}
type ridResponse struct {
	RID   ridWire `json:"rid"`
	Error string  `json:"error,omitempty"`
}

type getRequest struct {
	Table string  `json:"table"`
	RID   ridWire `json:"rid"`
}
type dataResponse struct {
	Data  []byte `json:"data"`
	Error string `json:"error,omitempty"`
}

type updateRequest struct {
	SessionID string  `json:"session_id"`
	RID       ridWire `json:"rid"`
	Data      []byte  `json:"data"`
}

type deleteRequest struct {
	SessionID string  `json:"session_id"`
	RID       ridWire `json:"rid"`
}

// KernelServer is the gRPC-facing interface; each method corresponds to
// one RPC registered manually on the grpc.ServiceDesc below.
type KernelServer interface {
	Begin(context.Context, *beginRequest) (*beginResponse, error)
	Commit(context.Context, *sessionRequest) (*ack, error)
	Abort(context.Context, *sessionRequest) (*ack, error)
	Insert(context.Context, *insertRequest) (*ridResponse, error)
	Get(context.Context, *getRequest) (*dataResponse, error)
	Update(context.Context, *updateRequest) (*ack, error)
	Delete(context.Context, *deleteRequest) (*ack, error)
}

func registerKernelServer(s *grpc.Server, srv KernelServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "kerneld.Kernel",
		HandlerType: (*KernelServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Begin", Handler: unaryHandler(func(s KernelServer, ctx context.Context, req *beginRequest) (any, error) {
				return s.Begin(ctx, req)
			})},
			{MethodName: "Commit", Handler: unaryHandler(func(s KernelServer, ctx context.Context, req *sessionRequest) (any, error) {
				return s.Commit(ctx, req)
			})},
			{MethodName: "Abort", Handler: unaryHandler(func(s KernelServer, ctx context.Context, req *sessionRequest) (any, error) {
				return s.Abort(ctx, req)
			})},
			{MethodName: "Insert", Handler: unaryHandler(func(s KernelServer, ctx context.Context, req *insertRequest) (any, error) {
				return s.Insert(ctx, req)
			})},
			{MethodName: "Get", Handler: unaryHandler(func(s KernelServer, ctx context.Context, req *getRequest) (any, error) {
				return s.Get(ctx, req)
			})},
			{MethodName: "Update", Handler: unaryHandler(func(s KernelServer, ctx context.Context, req *updateRequest) (any, error) {
				return s.Update(ctx, req)
			})},
			{MethodName: "Delete", Handler: unaryHandler(func(s KernelServer, ctx context.Context, req *deleteRequest) (any, error) {
				return s.Delete(ctx, req)
			})},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "kerneld",
	}, srv)
}

// unaryHandler adapts a typed (server, ctx, *Req) -> (any, error) function
// into the grpc.methodHandler shape, decoding the request once per call.
func unaryHandler[Req any](call func(KernelServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		ks := srv.(KernelServer)
		if interceptor == nil {
			return call(ks, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("%T", in)}
		handler := func(ctx context.Context, req any) (any, error) { return call(ks, ctx, req.(*Req)) }
		return interceptor(ctx, in, info, handler)
	}
}

// session pins one open transaction to the table it was begun against, so
// later calls addressing it by SessionID alone know where to route.
type session struct {
	table string
	tr    *txn.Transaction
}

// server implements KernelServer over a *kernel.Kernel.
type server struct {
	k *kernel.Kernel

	mu       sync.Mutex
	sessions map[string]*session
}

func newServer(k *kernel.Kernel) *server {
	return &server{k: k, sessions: make(map[string]*session)}
}

func (s *server) Begin(_ context.Context, req *beginRequest) (*beginResponse, error) {
	tr, err := s.k.Begin(req.Table)
	if err != nil {
		return &beginResponse{Error: err.Error()}, nil
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &session{table: req.Table, tr: tr}
	s.mu.Unlock()
	return &beginResponse{SessionID: id}, nil
}

func (s *server) lookup(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("kerneld: unknown session %q", id)
	}
	return sess, nil
}

func (s *server) forget(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *server) Commit(_ context.Context, req *sessionRequest) (*ack, error) {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return &ack{Error: err.Error()}, nil
	}
	defer s.forget(req.SessionID)
	if err := s.k.Commit(sess.table, sess.tr); err != nil {
		return &ack{Error: err.Error()}, nil
	}
	return &ack{OK: true}, nil
}

func (s *server) Abort(_ context.Context, req *sessionRequest) (*ack, error) {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return &ack{Error: err.Error()}, nil
	}
	defer s.forget(req.SessionID)
	if err := s.k.Abort(sess.table, sess.tr); err != nil {
		return &ack{Error: err.Error()}, nil
	}
	return &ack{OK: true}, nil
}

func (s *server) Insert(_ context.Context, req *insertRequest) (*ridResponse, error) {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return &ridResponse{Error: err.Error()}, nil
	}
	r, err := s.k.Insert(sess.table, sess.tr, req.Data)
	if err != nil {
		return &ridResponse{Error: err.Error()}, nil
	}
	return &ridResponse{RID: toWire(r)}, nil
}

func (s *server) Get(_ context.Context, req *getRequest) (*dataResponse, error) {
	data, err := s.k.Get(req.Table, fromWire(req.RID))
	if err != nil {
		return &dataResponse{Error: err.Error()}, nil
	}
	return &dataResponse{Data: data}, nil
}

func (s *server) Update(_ context.Context, req *updateRequest) (*ack, error) {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return &ack{Error: err.Error()}, nil
	}
	if err := s.k.Update(sess.table, sess.tr, fromWire(req.RID), req.Data); err != nil {
		return &ack{Error: err.Error()}, nil
	}
	return &ack{OK: true}, nil
}

func (s *server) Delete(_ context.Context, req *deleteRequest) (*ack, error) {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return &ack{Error: err.Error()}, nil
	}
	if err := s.k.Delete(sess.table, sess.tr, fromWire(req.RID)); err != nil {
		return &ack{Error: err.Error()}, nil
	}
	return &ack{OK: true}, nil
}

func main() {
	flag.Parse()

	cfg := kernel.DefaultConfig()
	if *flagConfig != "" {
		loaded, err := kernel.LoadConfig(*flagConfig)
		if err != nil {
			log.Fatalf("kerneld: %v", err)
		}
		cfg = loaded
	}

	k, err := kernel.Open(cfg)
	if err != nil {
		log.Fatalf("kerneld: open kernel: %v", err)
	}
	defer k.Close()

	c := cron.New(cron.WithSeconds())
	if cfg.CheckpointInterval > 0 {
		spec := fmt.Sprintf("@every %s", cfg.CheckpointInterval)
		if _, err := c.AddFunc(spec, func() {
			if err := k.CheckpointAll(); err != nil {
				log.Printf("kerneld: checkpoint: %v", err)
			}
		}); err != nil {
			log.Fatalf("kerneld: schedule checkpoint: %v", err)
		}
		c.Start()
		defer c.Stop()
	}

	encoding.RegisterCodec(jsonCodec{})
	lis, err := net.Listen("tcp", *flagGRPC)
	if err != nil {
		log.Fatalf("kerneld: listen %s: %v", *flagGRPC, err)
	}
	gs := grpc.NewServer()
	registerKernelServer(gs, newServer(k))
	log.Printf("kerneld listening on %s (data dir %s)", *flagGRPC, cfg.DataDir)
	if err := gs.Serve(lis); err != nil {
		log.Fatalf("kerneld: serve: %v", err)
	}
}
