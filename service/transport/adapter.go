package transport

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// DialSolana adapts the solana-go websocket client to the Conn interface.
// This adapter allows us to control the interface and makes testing easier.
func DialSolana(ctx context.Context, endpoint string) (Conn, error) {
	client, err := ws.Connect(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	return &wsConn{client: client}, nil
}

type wsConn struct {
	client *ws.Client
}

func (c *wsConn) Subscribe(ctx context.Context, f Filter) (StreamSub, error) {
	switch f.Kind {
	case FilterAccount:
		sub, err := c.client.AccountSubscribeWithOpts(
			f.Key,
			rpc.CommitmentConfirmed,
			solana.EncodingBase64,
		)
		if err != nil {
			return nil, fmt.Errorf("accountSubscribe %s: %w", f.Key, err)
		}
		return &accountStream{key: f.Key, sub: sub}, nil

	case FilterProgram:
		sub, err := c.client.ProgramSubscribeWithOpts(
			f.Key,
			rpc.CommitmentConfirmed,
			solana.EncodingBase64,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("programSubscribe %s: %w", f.Key, err)
		}
		return &programStream{owner: f.Key, sub: sub}, nil

	default:
		return nil, fmt.Errorf("unknown filter kind %d", f.Kind)
	}
}

func (c *wsConn) Close() {
	c.client.Close()
}

type accountStream struct {
	key solana.PublicKey
	sub *ws.AccountSubscription
}

func (s *accountStream) Recv(ctx context.Context) (*Frame, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Value.Data == nil {
		return nil, fmt.Errorf("malformed account notification for %s", s.key)
	}

	return &Frame{
		Slot:     res.Context.Slot,
		Address:  s.key,
		Owner:    res.Value.Owner,
		Lamports: res.Value.Lamports,
		Data:     res.Value.Data.GetBinary(),
	}, nil
}

func (s *accountStream) Unsubscribe() { s.sub.Unsubscribe() }

type programStream struct {
	owner solana.PublicKey
	sub   *ws.ProgramSubscription
}

func (s *programStream) Recv(ctx context.Context) (*Frame, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Value.Account == nil || res.Value.Account.Data == nil {
		return nil, fmt.Errorf("malformed program notification for %s", s.owner)
	}

	return &Frame{
		Slot:     res.Context.Slot,
		Address:  res.Value.Pubkey,
		Owner:    res.Value.Account.Owner,
		Lamports: res.Value.Account.Lamports,
		Data:     res.Value.Account.Data.GetBinary(),
	}, nil
}

func (s *programStream) Unsubscribe() { s.sub.Unsubscribe() }
