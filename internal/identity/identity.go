// Package identity implements the Crypto Service (spec.md §2, §3): a
// long-term identity keypair, a peer-id → public-key directory, authenticated
// encryption, and detached signatures. Identity material is loaded once at
// startup and never mutated (spec.md §3 ownership).
package identity

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/nacl/box"

	"github.com/storynode/core/internal/logging"
)

var log = logging.For("identity")

// Service owns the local node's long-term libp2p identity (for peer-id and
// signing) and its X25519 box keypair (for encryption), plus the directory
// mapping remote peer ids to their announced box public keys.
type Service struct {
	priv p2pcrypto.PrivKey
	pub  p2pcrypto.PubKey
	pid  peer.ID

	boxPub  [32]byte
	boxPriv [32]byte

	mu      sync.RWMutex
	dirBox  map[string][32]byte // peer id -> box public key
}

// boxKeySuffix is appended to the configured identity key file path.
const boxKeySuffix = ".box"

// LoadOrGenerate loads a persistent identity from keyFile, generating and
// saving one on first run (grounded on p2p/node.go's loadOrCreateKey).
func LoadOrGenerate(keyFile string) (*Service, error) {
	priv, isNew, err := loadOrCreateLibp2pKey(keyFile)
	if err != nil {
		return nil, err
	}
	pub := priv.GetPublic()
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}

	boxPub, boxPriv, err := loadOrCreateBoxKey(keyFile + boxKeySuffix)
	if err != nil {
		return nil, err
	}

	if isNew {
		log.Infof("generated new identity: %s", pid)
	} else {
		log.Infof("loaded identity: %s", pid)
	}

	return &Service{
		priv:    priv,
		pub:     pub,
		pid:     pid,
		boxPub:  boxPub,
		boxPriv: boxPriv,
		dirBox:  make(map[string][32]byte),
	}, nil
}

func loadOrCreateLibp2pKey(keyFile string) (p2pcrypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := p2pcrypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Warnf("corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := p2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, false, err
	}

	raw, err := p2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

type boxKeyFile struct {
	Public  []byte `json:"public"`
	Private []byte `json:"private"`
}

func loadOrCreateBoxKey(path string) (pub, priv [32]byte, err error) {
	data, rerr := os.ReadFile(path)
	if rerr == nil {
		var bk boxKeyFile
		if jerr := json.Unmarshal(data, &bk); jerr == nil && len(bk.Public) == 32 && len(bk.Private) == 32 {
			copy(pub[:], bk.Public)
			copy(priv[:], bk.Private)
			return pub, priv, nil
		}
		log.Warnf("corrupt box key at %s (generating new key)", path)
	}

	pubPtr, privPtr, gerr := box.GenerateKey(rand.Reader)
	if gerr != nil {
		return pub, priv, gerr
	}
	pub, priv = *pubPtr, *privPtr

	b, merr := json.Marshal(boxKeyFile{Public: pub[:], Private: priv[:]})
	if merr != nil {
		return pub, priv, merr
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return pub, priv, err
		}
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return pub, priv, err
	}
	return pub, priv, nil
}

// PeerID returns the local node's identifier.
func (s *Service) PeerID() peer.ID { return s.pid }

// PrivKey returns the libp2p private key (used by the swarm for the host's
// transport identity).
func (s *Service) PrivKey() p2pcrypto.PrivKey { return s.priv }

// BoxPublicKey returns the local node's encryption public key, announced to
// peers via PubKeyAnnounce.
func (s *Service) BoxPublicKey() []byte {
	out := make([]byte, 32)
	copy(out, s.boxPub[:])
	return out
}

// RememberPublicKey records peerID's announced box public key.
func (s *Service) RememberPublicKey(peerID string, pubKey []byte) error {
	if len(pubKey) != 32 {
		return errors.New("public key must be 32 bytes")
	}
	var k [32]byte
	copy(k[:], pubKey)
	s.mu.Lock()
	s.dirBox[peerID] = k
	s.mu.Unlock()
	return nil
}

// HasPublicKey reports whether peerID's box public key is known.
func (s *Service) HasPublicKey(peerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dirBox[peerID]
	return ok
}

// Encrypt authenticates and encrypts plaintext for peerID using a fresh
// nonce per message (spec.md §3 EncryptedPayload). Fails if peerID's public
// key is unknown.
func (s *Service) Encrypt(peerID string, plaintext []byte) (wire EncryptedPayloadFields, err error) {
	s.mu.RLock()
	recipientPub, ok := s.dirBox[peerID]
	s.mu.RUnlock()
	if !ok {
		return EncryptedPayloadFields{}, fmt.Errorf("no known public key for peer %s", peerID)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return EncryptedPayloadFields{}, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := box.Seal(nil, plaintext, &nonce, &recipientPub, &s.boxPriv)
	return EncryptedPayloadFields{
		Ciphertext:      ciphertext,
		Nonce:           nonce[:],
		SenderPublicKey: s.BoxPublicKey(),
	}, nil
}

// Decrypt attempts to decrypt an inbound payload with the local private key.
// A failure here is not an error in the relay-engine sense — it means the
// envelope is not addressed to this node (spec.md §4.3 receive path).
func (s *Service) Decrypt(payload EncryptedPayloadFields) ([]byte, bool) {
	if len(payload.Nonce) != 24 || len(payload.SenderPublicKey) != 32 {
		return nil, false
	}
	var nonce [24]byte
	var senderPub [32]byte
	copy(nonce[:], payload.Nonce)
	copy(senderPub[:], payload.SenderPublicKey)

	plaintext, ok := box.Open(nil, payload.Ciphertext, &nonce, &senderPub, &s.boxPriv)
	if !ok {
		return nil, false
	}
	return plaintext, true
}

// Sign produces a detached signature over plaintext with the local long-term
// identity key (spec.md §3 MessageSignature).
func (s *Service) Sign(plaintext []byte) (MessageSignatureFields, error) {
	sig, err := s.priv.Sign(plaintext)
	if err != nil {
		return MessageSignatureFields{}, fmt.Errorf("sign: %w", err)
	}
	rawPub, err := p2pcrypto.MarshalPublicKey(s.pub)
	if err != nil {
		return MessageSignatureFields{}, fmt.Errorf("marshal public key: %w", err)
	}
	return MessageSignatureFields{
		Signature: sig,
		PublicKey: rawPub,
	}, nil
}

// Verify checks a detached signature over plaintext against the embedded
// public key.
func Verify(sig MessageSignatureFields, plaintext []byte) bool {
	pub, err := p2pcrypto.UnmarshalPublicKey(sig.PublicKey)
	if err != nil {
		return false
	}
	ok, err := pub.Verify(plaintext, sig.Signature)
	return err == nil && ok
}

// EncryptedPayloadFields mirrors wire.EncryptedPayload without importing the
// wire package, keeping identity free of wire-format dependencies.
type EncryptedPayloadFields struct {
	Ciphertext      []byte
	Nonce           []byte
	SenderPublicKey []byte
}

// MessageSignatureFields mirrors wire.MessageSignature.
type MessageSignatureFields struct {
	Signature []byte
	PublicKey []byte
}
