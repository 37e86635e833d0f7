package handshake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"net"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/shardlink/internal/pairing/frame"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type sessionResult struct {
	sess *Session
	err  error
}

func TestSessions_DeriveMatchingParameters(t *testing.T) {
	a, b := net.Pipe()
	serverConn, clientConn := frame.New(a), frame.New(b)
	defer serverConn.Close() //nolint:errcheck // Test cleanup
	defer clientConn.Close() //nolint:errcheck // Test cleanup

	ctx := testContext(t)

	serverCh := make(chan sessionResult, 1)
	go func() {
		sess, err := ServerSession(ctx, serverConn)
		serverCh <- sessionResult{sess, err}
	}()

	client, err := ClientSession(ctx, clientConn)
	require.NoError(t, err)
	defer client.Destroy()

	res := <-serverCh
	require.NoError(t, res.err)
	server := res.sess
	defer server.Destroy()

	sp, cp := server.Params(), client.Params()

	// Each side decrypts with exactly what the other encrypts with.
	assert.Equal(t, sp.SendKey, cp.RecvKey)
	assert.Equal(t, sp.SendIV, cp.RecvIV)
	assert.Equal(t, cp.SendKey, sp.RecvKey)
	assert.Equal(t, cp.SendIV, sp.RecvIV)

	// Server→client uses the hashed secret, client→server the raw one.
	hashed := sha256.Sum256(cp.SendKey)
	assert.Equal(t, hashed[:], sp.SendKey)
	assert.NotEqual(t, sp.SendKey, sp.RecvKey)

	assert.Len(t, sp.SendIV, IVSize)
	assert.Len(t, sp.SendKey, 32)

	assert.Equal(t, sp.Code, cp.Code)
	assert.Len(t, sp.Code, 4)
}

func TestSession_Destroy(t *testing.T) {
	a, b := net.Pipe()
	serverConn, clientConn := frame.New(a), frame.New(b)
	defer serverConn.Close() //nolint:errcheck // Test cleanup
	defer clientConn.Close() //nolint:errcheck // Test cleanup

	ctx := testContext(t)

	go func() {
		if sess, err := ServerSession(ctx, serverConn); err == nil {
			sess.Destroy()
		}
	}()

	client, err := ClientSession(ctx, clientConn)
	require.NoError(t, err)

	secret := client.secret
	sendKey := client.sendKey
	code := client.Code()

	client.Destroy()

	assert.Nil(t, client.priv)
	assert.Nil(t, client.secret)
	assert.True(t, bytes.Equal(secret, make([]byte, len(secret))), "secret not zeroed")
	assert.True(t, bytes.Equal(sendKey, make([]byte, len(sendKey))), "send key not zeroed")
	assert.Equal(t, code, client.Code())

	// Safe to repeat.
	client.Destroy()
}

func TestServer_RejectsMalformedKeyFrame(t *testing.T) {
	invalidPoint := append([]byte{0x04}, bytes.Repeat([]byte{0xff}, 64)...)

	tests := []struct {
		name    string
		frame   []byte
		wantErr error
	}{
		{
			name:    "empty",
			frame:   []byte{},
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "iv only",
			frame:   make([]byte, IVSize),
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "truncated key",
			frame:   make([]byte, IVSize+secp256k1.PubKeyBytesLenCompressed-1),
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "point not on curve",
			frame:   append(make([]byte, IVSize), invalidPoint...),
			wantErr: ErrInvalidPublicKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := net.Pipe()
			serverConn, peer := frame.New(a), frame.New(b)
			defer peer.Close() //nolint:errcheck // Test cleanup

			ctx := testContext(t)

			go func() {
				if _, err := peer.Read(ctx); err != nil {
					return
				}
				peer.Write(ctx, tt.frame) //nolint:errcheck // Test peer
			}()

			ch, err := Server(ctx, serverConn)
			require.Error(t, err)
			assert.Nil(t, ch)
			assert.ErrorIs(t, err, ErrHandshake)
			assert.ErrorIs(t, err, tt.wantErr)

			// The server closed its side.
			_, err = peer.Read(ctx)
			assert.ErrorIs(t, err, frame.ErrClosed)
		})
	}
}

func TestClient_RejectsMalformedServerFrame(t *testing.T) {
	invalidPoint := append([]byte{0x04}, bytes.Repeat([]byte{0xff}, 64)...)

	tests := []struct {
		name    string
		frame   []byte
		wantErr error
	}{
		{
			name:    "short",
			frame:   []byte("short"),
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "point not on curve",
			frame:   append(make([]byte, IVSize), invalidPoint...),
			wantErr: ErrInvalidPublicKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := net.Pipe()
			clientConn, peer := frame.New(a), frame.New(b)
			defer peer.Close() //nolint:errcheck // Test cleanup

			ctx := testContext(t)

			go peer.Write(ctx, tt.frame) //nolint:errcheck // Test peer

			ch, err := Client(ctx, clientConn)
			require.ErrorIs(t, err, ErrHandshake)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, ch)

			// The client closed without sending its own key frame.
			got, err := peer.Read(ctx)
			assert.ErrorIs(t, err, frame.ErrClosed)
			assert.Empty(t, got)
		})
	}
}

func TestServer_PeerClosesMidHandshake(t *testing.T) {
	a, b := net.Pipe()
	serverConn, peer := frame.New(a), frame.New(b)

	ctx := testContext(t)

	go func() {
		peer.Read(ctx) //nolint:errcheck // Test peer
		peer.Close()   //nolint:errcheck // Test peer
	}()

	_, err := Server(ctx, serverConn)
	require.ErrorIs(t, err, ErrHandshake)
	assert.ErrorIs(t, err, frame.ErrClosed)
}

func TestServer_Timeout(t *testing.T) {
	a, b := net.Pipe()
	serverConn, peer := frame.New(a), frame.New(b)
	defer peer.Close() //nolint:errcheck // Test cleanup

	// Peer reads the server frame and then goes silent.
	go peer.Read(context.Background()) //nolint:errcheck // Test peer

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Server(ctx, serverConn)
	require.ErrorIs(t, err, ErrHandshake)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandshake_CompressedClientKey(t *testing.T) {
	a, b := net.Pipe()
	serverConn, peer := frame.New(a), frame.New(b)
	defer peer.Close() //nolint:errcheck // Test cleanup

	ctx := testContext(t)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	serverCh := make(chan sessionResult, 1)
	go func() {
		sess, err := ServerSession(ctx, serverConn)
		serverCh <- sessionResult{sess, err}
	}()

	serverFrame, err := peer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, serverFrame, IVSize+secp256k1.PubKeyBytesLenUncompressed)

	reply := append(make([]byte, IVSize), priv.PubKey().SerializeCompressed()...)
	require.NoError(t, peer.Write(ctx, reply))

	res := <-serverCh
	require.NoError(t, res.err)
	defer res.sess.Destroy()

	serverPub, err := secp256k1.ParsePubKey(serverFrame[IVSize:])
	require.NoError(t, err)
	secret := secp256k1.GenerateSharedSecret(priv, serverPub)

	p := res.sess.Params()
	assert.Equal(t, secret, p.RecvKey)
	assert.Equal(t, VerificationCode(secret), p.Code)
}
