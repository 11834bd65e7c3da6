package remote

import (
	"context"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"rotasave.org/internal/auth"
	"rotasave.org/internal/ledger"
)

// Client wraps the gRPC ledger service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a new client with sensible defaults (insecure transport).
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client { return &Client{conn: conn} }

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, name string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(outgoingWithIdentity(ctx), "/"+serviceName+"/"+name, in, out); err != nil {
		return nil, mapLedgerError(err)
	}
	return out, nil
}

// Service adapts the gRPC client to the ledger.Service interface.
type Service struct {
	client *Client
}

var _ ledger.Service = (*Service)(nil)

func NewService(client *Client) *Service { return &Service{client: client} }

func (s *Service) OpenAccount(ctx context.Context, id string, initial ledger.Money) (ledger.Account, error) {
	req := encodeMoney(initial)
	req["id"] = id
	resp, err := s.client.invoke(ctx, "OpenAccount", req)
	if err != nil {
		return ledger.Account{}, err
	}
	return decodeAccount(resp)
}

func (s *Service) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	resp, err := s.client.invoke(ctx, "GetAccount", map[string]any{"id": id})
	if err != nil {
		return ledger.Account{}, err
	}
	return decodeAccount(resp)
}

func (s *Service) GetBalance(ctx context.Context, id, currency string) (ledger.Money, error) {
	resp, err := s.client.invoke(ctx, "GetBalance", map[string]any{"id": id, "currency": currency})
	if err != nil {
		return ledger.Money{}, err
	}
	return decodeMoney(resp)
}

func (s *Service) Transfer(ctx context.Context, fromID, toID string, amt ledger.Money, idemKey string) (ledger.Transaction, error) {
	req := encodeMoney(amt)
	req["from_id"] = fromID
	req["to_id"] = toID
	req["idempotency_key"] = idemKey
	resp, err := s.client.invoke(ctx, "Transfer", req)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return decodeTransaction(resp)
}

func (s *Service) Reverse(ctx context.Context, idemKey string) (ledger.Transaction, error) {
	resp, err := s.client.invoke(ctx, "Reverse", map[string]any{"idempotency_key": idemKey})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return decodeTransaction(resp)
}

func (s *Service) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Transaction, uint64, error) {
	if limit <= 0 {
		limit = 100
	}
	resp, err := s.client.invoke(ctx, "ListTransactions", map[string]any{
		"limit":          strconv.Itoa(limit),
		"after_sequence": formatUint(afterSeq),
	})
	if err != nil {
		return nil, 0, err
	}
	raw := resp.GetFields()["items"].GetListValue().GetValues()
	items := make([]ledger.Transaction, 0, len(raw))
	for _, v := range raw {
		tx, err := decodeTransaction(v.GetStructValue())
		if err != nil {
			return nil, 0, err
		}
		items = append(items, tx)
	}
	next, err := u64(resp, "next_after")
	if err != nil {
		return nil, 0, err
	}
	return items, next, nil
}

// Helpers -----------------------------------------------------------------

func outgoingWithIdentity(ctx context.Context) context.Context {
	var pairs []string
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		pairs = append(pairs, mdPrincipal, userID)
	}
	if roles := auth.RolesFromContext(ctx); len(roles) > 0 {
		pairs = append(pairs, mdRoles, strings.Join(roles, ","))
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

// WithTimeout returns a context with default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
