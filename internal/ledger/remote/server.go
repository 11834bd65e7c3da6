package remote

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"rotasave.org/internal/auth"
	"rotasave.org/internal/ledger"
)

const (
	serviceName = "rotasave.ledger.v1.LedgerService"

	mdPrincipal = "x-rotasave-principal"
	mdRoles     = "x-rotasave-roles"
)

type unaryFunc func(ctx context.Context, svc ledger.Service, in *structpb.Struct) (map[string]any, error)

func method(name string, fn unaryFunc) grpc.MethodDesc {
	call := func(ctx context.Context, srv any, in *structpb.Struct) (*structpb.Struct, error) {
		out, err := fn(incomingWithIdentity(ctx), srv.(ledger.Service), in)
		if err != nil {
			return nil, toStatus(err)
		}
		resp, err := structpb.NewStruct(out)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode response: %v", err)
		}
		return resp, nil
	}
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(ctx, srv, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(ctx, srv, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ledger.Service)(nil),
	Methods: []grpc.MethodDesc{
		method("OpenAccount", openAccount),
		method("GetAccount", getAccount),
		method("GetBalance", getBalance),
		method("Transfer", transfer),
		method("Reverse", reverse),
		method("ListTransactions", listTransactions),
	},
	Streams: []grpc.StreamDesc{},
}

// Register exposes svc on a gRPC server.
func Register(s grpc.ServiceRegistrar, svc ledger.Service) {
	s.RegisterService(&serviceDesc, svc)
}

func openAccount(ctx context.Context, svc ledger.Service, in *structpb.Struct) (map[string]any, error) {
	initial, err := decodeMoney(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	acc, err := svc.OpenAccount(ctx, str(in, "id"), initial)
	if err != nil {
		return nil, err
	}
	return encodeAccount(acc), nil
}

func getAccount(ctx context.Context, svc ledger.Service, in *structpb.Struct) (map[string]any, error) {
	acc, err := svc.GetAccount(ctx, str(in, "id"))
	if err != nil {
		return nil, err
	}
	return encodeAccount(acc), nil
}

func getBalance(ctx context.Context, svc ledger.Service, in *structpb.Struct) (map[string]any, error) {
	m, err := svc.GetBalance(ctx, str(in, "id"), str(in, "currency"))
	if err != nil {
		return nil, err
	}
	return encodeMoney(m), nil
}

func transfer(ctx context.Context, svc ledger.Service, in *structpb.Struct) (map[string]any, error) {
	amt, err := decodeMoney(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	tx, err := svc.Transfer(ctx, str(in, "from_id"), str(in, "to_id"), amt, str(in, "idempotency_key"))
	if err != nil {
		return nil, err
	}
	return encodeTransaction(tx), nil
}

func reverse(ctx context.Context, svc ledger.Service, in *structpb.Struct) (map[string]any, error) {
	tx, err := svc.Reverse(ctx, str(in, "idempotency_key"))
	if err != nil {
		return nil, err
	}
	return encodeTransaction(tx), nil
}

func listTransactions(ctx context.Context, svc ledger.Service, in *structpb.Struct) (map[string]any, error) {
	limit, err := i64(in, "limit")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	after, err := u64(in, "after_sequence")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	txs, next, err := svc.ListTransactions(ctx, int(limit), after)
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, len(txs))
	for _, tx := range txs {
		items = append(items, encodeTransaction(tx))
	}
	return map[string]any{
		"items":      items,
		"next_after": formatUint(next),
	}, nil
}

func incomingWithIdentity(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	principal := md.Get(mdPrincipal)
	if len(principal) == 0 || strings.TrimSpace(principal[0]) == "" {
		return ctx
	}
	var roles []string
	for _, v := range md.Get(mdRoles) {
		roles = append(roles, strings.Split(v, ",")...)
	}
	return auth.ContextWithUser(ctx, principal[0], roles)
}
