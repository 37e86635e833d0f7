package provision

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/shardlink/internal/discovery"
	"github.com/nerrad567/shardlink/internal/paired"
	"github.com/nerrad567/shardlink/internal/pairing/channel"
	"github.com/nerrad567/shardlink/internal/pairing/protocol"
	"github.com/nerrad567/shardlink/internal/pairing/server"
)

type outcome struct {
	distributionID string
	err            error
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []outcome
}

func (r *fakeRecorder) ProvisionFinished(distributionID string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome{distributionID, err})
}

func testRequest(port int, ips ...string) paired.ProvisionRequest {
	svc := discovery.ServiceFound{
		DistributionID: "D1",
		Device:         discovery.Device{GlobalID: "dev-42"},
		Port:           port,
	}
	for _, ip := range ips {
		svc.Addrs = append(svc.Addrs, net.ParseIP(ip))
	}
	return paired.ProvisionRequest{
		Device: paired.NewPairedDevice(paired.ShardKey{
			ID:             "rec-1",
			DistributionID: "D1",
			Device:         paired.DeviceInfo{GlobalID: "dev-42"},
			Shard:          []byte("secret-share"),
			Threshold:      2,
			Parties:        3,
		}),
		Service: svc,
	}
}

// startPeer runs a pairing server that welcomes as dev-42 and answers the
// shard with reply.
func startPeer(t *testing.T, reply protocol.Ack) (int, <-chan protocol.Shard) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	srv := server.New(server.Config{
		Host:  "127.0.0.1",
		Ports: server.NewPortPool(port),
		Greeter: func(ctx context.Context, ch *channel.Channel) (any, error) {
			var hello protocol.Hello
			if err := protocol.Receive(ctx, ch, &hello); err != nil {
				return nil, err
			}
			if err := protocol.Send(ctx, ch, &protocol.Welcome{Device: protocol.Device{GlobalID: "dev-42"}}); err != nil {
				return nil, err
			}
			ch.MarkReady()
			return hello, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))

	shards := make(chan protocol.Shard, 1)
	go func() {
		select {
		case peer := <-srv.Peers():
			defer peer.Channel.Close() //nolint:errcheck // Test peer
			var shard protocol.Shard
			if err := protocol.Receive(ctx, peer.Channel, &shard); err != nil {
				return
			}
			shards <- shard
			ack := reply
			protocol.Send(ctx, peer.Channel, &ack) //nolint:errcheck // Test peer
		case <-ctx.Done():
		}
	}()

	t.Cleanup(func() {
		srv.Stop() //nolint:errcheck // Test cleanup
		cancel()
		srv.Wait()
	})
	return srv.Port(), shards
}

func newTestProvider() (*ShardProvider, *fakeRecorder) {
	p := New(Config{
		Self:    protocol.Device{GlobalID: "phone-1", Platform: "android"},
		Dial:    server.DialConfig{Attempts: 1, Timeout: 2 * time.Second},
		Timeout: 2 * time.Second,
	})
	rec := &fakeRecorder{}
	p.SetRecorder(rec)
	return p, rec
}

func TestProvision_DeliversShard(t *testing.T) {
	port, shards := startPeer(t, protocol.Ack{OK: true})
	p, rec := newTestProvider()

	err := p.Provision(context.Background(), testRequest(port, "127.0.0.1"))
	require.NoError(t, err)

	got := <-shards
	assert.Equal(t, "D1", got.DistributionID)
	assert.Equal(t, "rec-1", got.RecordID)
	assert.Equal(t, []byte("secret-share"), got.Shard)
	assert.Equal(t, 2, got.Threshold)
	assert.Equal(t, 3, got.Parties)

	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, "D1", rec.outcomes[0].distributionID)
	assert.NoError(t, rec.outcomes[0].err)
}

func TestProvision_Rejected(t *testing.T) {
	port, _ := startPeer(t, protocol.Ack{Error: "not collecting"})
	p, rec := newTestProvider()

	err := p.Provision(context.Background(), testRequest(port, "127.0.0.1"))
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "not collecting")
	assert.True(t, IsPeerError(err))

	require.Len(t, rec.outcomes, 1)
	assert.ErrorIs(t, rec.outcomes[0].err, ErrRejected)
}

func TestProvision_NoAddress(t *testing.T) {
	p, rec := newTestProvider()

	err := p.Provision(context.Background(), testRequest(39127))
	assert.ErrorIs(t, err, ErrNoAddress)

	err = p.Provision(context.Background(), testRequest(0, "10.0.0.1"))
	assert.ErrorIs(t, err, ErrNoAddress)
	assert.Len(t, rec.outcomes, 2)
}

func TestProvision_TriesEachAddress(t *testing.T) {
	p, _ := newTestProvider()

	var tried []string
	p.dial = func(_ context.Context, addr string, _ server.DialConfig) (*channel.Channel, error) {
		tried = append(tried, addr)
		return nil, server.ErrDialFailed
	}

	err := p.Provision(context.Background(), testRequest(39127, "192.168.1.20", "fe80::1"))
	assert.ErrorIs(t, err, server.ErrDialFailed)
	assert.False(t, IsPeerError(err))
	assert.Equal(t, []string{"192.168.1.20:39127", "[fe80::1]:39127"}, tried)
}

func TestProvision_StopsOnCancel(t *testing.T) {
	p, _ := newTestProvider()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p.dial = func(ctx context.Context, _ string, _ server.DialConfig) (*channel.Channel, error) {
		calls++
		cancel()
		return nil, ctx.Err()
	}

	err := p.Provision(ctx, testRequest(39127, "192.168.1.20", "192.168.1.21"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestAddresses(t *testing.T) {
	got := addresses([]net.IP{net.ParseIP("10.0.0.2"), nil, net.ParseIP("::1")}, 80)
	assert.Equal(t, []string{"10.0.0.2:80", "[::1]:80"}, got)
	assert.Empty(t, addresses([]net.IP{net.ParseIP("10.0.0.2")}, 0))
}
