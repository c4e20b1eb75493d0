package rpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/auth"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/machine"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
)

type builderFunc func(ctx context.Context, m machine.Machine) string

func (f builderFunc) CreateNewMachine(ctx context.Context, m machine.Machine) string { return f(ctx, m) }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func startServer(t *testing.T, engine Engine, key string, opts ...ServerOption) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnaryInterceptor(APIKeyInterceptor("x-api-key", key)))
	Register(gs, NewServer(engine, opts...))
	go func() { _ = gs.Serve(lis) }()

	c, err := Dial("passthrough:///bufnet", "x-api-key", key,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		gs.Stop()
	})
	return c
}

func newEngine(id string) *requestengine.Engine {
	return requestengine.New(auth.NewAllowlist("Mike"),
		builderFunc(func(context.Context, machine.Machine) string { return id }))
}

func TestCreateRequest_OverGRPC(t *testing.T) {
	engine := newEngine("build-1")
	c := startServer(t, engine, "secret")
	desktop := machine.NewDesktop("host2020", "Mike", 1, 4, 200, "Windows 10", "hr498")

	out, err := c.CreateRequest(context.Background(), desktop)
	require.NoError(t, err)
	assert.Equal(t, "created", out.Status)
	assert.Equal(t, desktop.Key(), out.MachineKey)

	stats, err := c.DailyStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BuildsByRequestor["Mike"][desktop.Key()])
	assert.Equal(t, 0, stats.FailedBuilds)
}

func TestCreateRequest_ErrorsMatchSentinels(t *testing.T) {
	ctx := context.Background()

	c := startServer(t, newEngine("build-1"), "")
	_, err := c.CreateRequest(ctx, machine.NewDesktop("h", "Eve", 1, 4, 200, "Windows 10", "t"))
	assert.True(t, errors.Is(err, requestengine.ErrUserNotEntitled), "got %v", err)

	failing := newEngine("")
	c = startServer(t, failing, "")
	_, err = c.CreateRequest(ctx, machine.NewServer("db1", "Mike", 2, 8, 100, "Ubuntu", 2, "s1", "ops"))
	assert.True(t, errors.Is(err, requestengine.ErrMachineNotCreated), "got %v", err)
	assert.Equal(t, 1, failing.TotalFailedBuildsForDay())
}

func TestCreateRequest_RateLimited(t *testing.T) {
	engine := newEngine("build-1")
	c := startServer(t, engine, "", WithRateLimiter(denyAll{}))

	_, err := c.CreateRequest(context.Background(), machine.NewDesktop("h", "Mike", 1, 4, 200, "Windows 10", "t"))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, 0, engine.TotalFailedBuildsForDay())
}

func TestServer_CreateRequest_InvalidEnvelope(t *testing.T) {
	s := NewServer(newEngine("build-1"))

	_, err := s.CreateRequest(context.Background(), &CreateRequestIn{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.CreateRequest(context.Background(), &CreateRequestIn{Machine: []byte(`{"type":"mainframe"}`)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAPIKey_WrongKeyRejected(t *testing.T) {
	c := startServer(t, newEngine("build-1"), "secret")
	c.apiKey = "wrong"

	_, err := c.DailyStats(context.Background())
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func passHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func TestAPIKeyInterceptor(t *testing.T) {
	cases := []struct {
		name string
		key  string
		md   metadata.MD
		want codes.Code
	}{
		{"disabled", "", nil, codes.OK},
		{"no metadata", "secret", nil, codes.Unauthenticated},
		{"missing header", "secret", metadata.Pairs("other", "secret"), codes.Unauthenticated},
		{"wrong key", "secret", metadata.Pairs("x-api-key", "nope"), codes.Unauthenticated},
		{"correct key", "secret", metadata.Pairs("x-api-key", "secret"), codes.OK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tc.md)
			}
			res, err := APIKeyInterceptor("x-api-key", tc.key)(ctx, nil, &grpc.UnaryServerInfo{}, passHandler)
			assert.Equal(t, tc.want, status.Code(err))
			if tc.want == codes.OK {
				assert.Equal(t, "ok", res)
			}
		})
	}
}

func TestJSONCodec(t *testing.T) {
	var c jsonCodec
	data, err := c.Marshal(&CreateRequestOut{Status: "created", Requestor: "Mike"})
	require.NoError(t, err)

	var out CreateRequestOut
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, "Mike", out.Requestor)
	assert.Equal(t, CodecName, c.Name())
}
