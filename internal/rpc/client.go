package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/machine"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
)

// Client calls vmorg.v1.RequestService.
type Client struct {
	conn   *grpc.ClientConn
	header string
	apiKey string
}

// Dial connects to addr without transport security. Extra options are appended,
// which lets tests supply a bufconn dialer.
func Dial(addr, header, apiKey string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, header: header, apiKey: apiKey}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// CreateRequest submits m. Rejections and build failures come back matching
// requestengine.ErrUserNotEntitled and requestengine.ErrMachineNotCreated.
func (c *Client) CreateRequest(ctx context.Context, m machine.Machine) (*CreateRequestOut, error) {
	raw, err := machine.Encode(m)
	if err != nil {
		return nil, err
	}
	out := new(CreateRequestOut)
	if err := c.conn.Invoke(c.outgoing(ctx), createRequestMethod, &CreateRequestIn{Machine: raw}, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

// DailyStats returns the server's current day report.
func (c *Client) DailyStats(ctx context.Context) (*requestengine.Report, error) {
	out := new(requestengine.Report)
	if err := c.conn.Invoke(c.outgoing(ctx), dailyStatsMethod, &DailyStatsIn{}, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, c.header, c.apiKey)
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", requestengine.ErrUserNotEntitled, st.Message())
	case codes.Aborted:
		return fmt.Errorf("%w: %s", requestengine.ErrMachineNotCreated, st.Message())
	}
	return err
}
