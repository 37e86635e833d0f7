package handshake

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/nerrad567/shardlink/internal/pairing/channel"
	"github.com/nerrad567/shardlink/internal/pairing/frame"
)

const (
	// IVSize is the length of each side's random IV.
	IVSize = aes.BlockSize

	// minKeyFrame is an IV followed by the shortest (compressed) public key.
	minKeyFrame = IVSize + secp256k1.PubKeyBytesLenCompressed
)

// role selects which direction gets which derived key.
type role int

const (
	roleServer role = iota
	roleClient
)

// Server runs the server side of the exchange on conn and returns a ready
// to use Channel. On failure conn is closed and the error wraps ErrHandshake.
func Server(ctx context.Context, conn *frame.Conn) (*channel.Channel, error) {
	return establish(ctx, conn, roleServer)
}

// Client runs the client side of the exchange on conn.
func Client(ctx context.Context, conn *frame.Conn) (*channel.Channel, error) {
	return establish(ctx, conn, roleClient)
}

// ServerSession runs the server side and returns the raw Session instead of
// a Channel. The caller must Destroy it.
func ServerSession(ctx context.Context, conn *frame.Conn) (*Session, error) {
	return negotiate(ctx, conn, roleServer)
}

// ClientSession runs the client side and returns the raw Session. The caller
// must Destroy it.
func ClientSession(ctx context.Context, conn *frame.Conn) (*Session, error) {
	return negotiate(ctx, conn, roleClient)
}

func establish(ctx context.Context, conn *frame.Conn, r role) (*channel.Channel, error) {
	sess, err := negotiate(ctx, conn, r)
	if err != nil {
		return nil, err
	}
	defer sess.Destroy()

	send, recv, err := sess.streams()
	if err != nil {
		conn.Close() //nolint:errcheck // Handshake failed
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return channel.New(conn, send, recv, sess.Code()), nil
}

// negotiate performs the exchange for either role. Any failure closes conn
// and destroys the partial session.
func negotiate(ctx context.Context, conn *frame.Conn, r role) (*Session, error) {
	sess := &Session{role: r}
	if err := sess.exchange(ctx, conn); err != nil {
		sess.Destroy()
		conn.Close() //nolint:errcheck // Handshake failed
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return sess, nil
}

func (s *Session) exchange(ctx context.Context, conn *frame.Conn) error {
	if err := s.generate(); err != nil {
		return err
	}

	switch s.role {
	case roleServer:
		if err := conn.Write(ctx, s.localFrame()); err != nil {
			return fmt.Errorf("sending key frame: %w", err)
		}
		remote, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("reading key frame: %w", err)
		}
		pub, err := s.parseRemote(remote)
		if err != nil {
			return err
		}
		s.derive(pub)
	case roleClient:
		// The server's frame is validated before our key goes out.
		remote, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("reading key frame: %w", err)
		}
		pub, err := s.parseRemote(remote)
		if err != nil {
			return err
		}
		if err := conn.Write(ctx, s.localFrame()); err != nil {
			return fmt.Errorf("sending key frame: %w", err)
		}
		s.derive(pub)
	}
	return nil
}

// Session holds the key material of one exchange.
type Session struct {
	role role

	priv     *secp256k1.PrivateKey
	localIV  []byte
	remoteIV []byte

	secret  []byte
	sendKey []byte
	recvKey []byte
	code    string
}

// Params is a copy of the derived parameters, for comparing both ends.
type Params struct {
	SendKey []byte
	SendIV  []byte
	RecvKey []byte
	RecvIV  []byte
	Code    string
}

func (s *Session) generate() error {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generating ephemeral key: %w", err)
	}
	s.priv = priv

	s.localIV = make([]byte, IVSize)
	if _, err := rand.Read(s.localIV); err != nil {
		return fmt.Errorf("generating iv: %w", err)
	}
	return nil
}

func (s *Session) localFrame() []byte {
	pub := s.priv.PubKey().SerializeUncompressed()
	out := make([]byte, 0, IVSize+len(pub))
	out = append(out, s.localIV...)
	return append(out, pub...)
}

// parseRemote checks the peer's frame and keeps its IV.
func (s *Session) parseRemote(remote []byte) (*secp256k1.PublicKey, error) {
	if len(remote) < minKeyFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(remote))
	}

	pub, err := secp256k1.ParsePubKey(remote[IVSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}

	s.remoteIV = append([]byte(nil), remote[:IVSize]...)
	return pub, nil
}

// derive computes the shared secret, both directional keys and the code.
func (s *Session) derive(pub *secp256k1.PublicKey) {
	s.secret = secp256k1.GenerateSharedSecret(s.priv, pub)

	hashed := sha256.Sum256(s.secret)
	plain := append([]byte(nil), s.secret...)

	switch s.role {
	case roleServer:
		s.sendKey, s.recvKey = hashed[:], plain
	case roleClient:
		s.sendKey, s.recvKey = plain, hashed[:]
	}

	s.code = VerificationCode(s.secret)
}

func (s *Session) streams() (send, recv cipher.Stream, err error) {
	send, err = newCTR(s.sendKey, s.localIV)
	if err != nil {
		return nil, nil, fmt.Errorf("send cipher: %w", err)
	}
	recv, err = newCTR(s.recvKey, s.remoteIV)
	if err != nil {
		return nil, nil, fmt.Errorf("receive cipher: %w", err)
	}
	return send, recv, nil
}

func newCTR(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// Code returns the verification code. Empty until the exchange completes.
func (s *Session) Code() string {
	return s.code
}

// Params returns copies of the derived keys and IVs.
func (s *Session) Params() Params {
	return Params{
		SendKey: clone(s.sendKey),
		SendIV:  clone(s.localIV),
		RecvKey: clone(s.recvKey),
		RecvIV:  clone(s.remoteIV),
		Code:    s.code,
	}
}

// Destroy overwrites every secret held by the session. Code stays readable.
func (s *Session) Destroy() {
	if s.priv != nil {
		s.priv.Zero()
		s.priv = nil
	}
	for _, b := range [][]byte{s.secret, s.sendKey, s.recvKey, s.localIV, s.remoteIV} {
		clear(b)
	}
	s.secret, s.sendKey, s.recvKey = nil, nil, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
