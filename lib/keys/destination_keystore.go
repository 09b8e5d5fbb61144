package keys

import (
	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/destination"
	"github.com/go-i2p/common/key_certificate"
	"github.com/go-i2p/common/keys_and_cert"
	"github.com/go-i2p/crypto/curve25519"
	"github.com/go-i2p/crypto/ed25519"
	"github.com/go-i2p/crypto/types"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// DestinationKeyStore holds the private keys of a client destination.
// Uses modern cryptography: Ed25519 for signing and X25519 for
// encryption, which is what LeaseSet2 publication requires.
type DestinationKeyStore struct {
	destination       *destination.Destination
	encryptionPrivKey types.PrivateEncryptionKey
	signingPrivKey    types.SigningPrivateKey
	identHash         common.Hash
}

// NewDestinationKeyStore generates a fresh destination with new
// Ed25519/X25519 key pairs and computes its identity hash.
func NewDestinationKeyStore() (*DestinationKeyStore, error) {
	signingPubKey, signingPrivKey, err := ed25519.GenerateEd25519KeyPair()
	if err != nil {
		return nil, oops.Errorf("failed to generate Ed25519 key pair: %w", err)
	}

	encryptionPubKey, encryptionPrivKey, err := curve25519.GenerateKeyPair()
	if err != nil {
		return nil, oops.Errorf("failed to generate X25519 key pair: %w", err)
	}

	keyCert, err := key_certificate.NewEd25519X25519KeyCertificate()
	if err != nil {
		return nil, oops.Errorf("failed to create key certificate: %w", err)
	}

	padding, err := keyPadding()
	if err != nil {
		return nil, err
	}

	keysAndCert, err := keys_and_cert.NewKeysAndCert(
		keyCert,
		encryptionPubKey,
		padding,
		signingPubKey,
	)
	if err != nil {
		return nil, oops.Errorf("failed to create KeysAndCert: %w", err)
	}

	dest := &destination.Destination{
		KeysAndCert: keysAndCert,
	}

	identHash, err := identityHash(dest)
	if err != nil {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"at":         "keys.NewDestinationKeyStore",
		"ident_hash": identHash,
	}).Debug("generated_destination_keys")

	return &DestinationKeyStore{
		destination:       dest,
		encryptionPrivKey: encryptionPrivKey,
		signingPrivKey:    signingPrivKey,
		identHash:         identHash,
	}, nil
}

// keyPadding computes the padding needed to reach KEYS_AND_CERT_DATA_SIZE
// with Ed25519/X25519 public keys.
func keyPadding() ([]byte, error) {
	sizes, err := key_certificate.GetKeySizes(
		key_certificate.KEYCERT_SIGN_ED25519,
		key_certificate.KEYCERT_CRYPTO_X25519,
	)
	if err != nil {
		return nil, oops.Errorf("failed to get key sizes: %w", err)
	}

	paddingSize := keys_and_cert.KEYS_AND_CERT_DATA_SIZE - (sizes.CryptoPublicKeySize + sizes.SigningPublicKeySize)
	if paddingSize < 0 {
		return nil, oops.Errorf("invalid key sizes: padding would be negative")
	}

	return make([]byte, paddingSize), nil
}

// identityHash derives the network address of a destination: the SHA256
// hash of its serialized form.
func identityHash(dest *destination.Destination) (common.Hash, error) {
	destBytes, err := dest.Bytes()
	if err != nil {
		return common.Hash{}, oops.Errorf("failed to serialize destination: %w", err)
	}
	return common.HashData(destBytes), nil
}

// Destination returns the public destination.
func (dks *DestinationKeyStore) Destination() *destination.Destination {
	return dks.destination
}

// IdentHash returns the destination's identity hash.
func (dks *DestinationKeyStore) IdentHash() common.Hash {
	return dks.identHash
}

// SigningPrivateKey returns the signing private key for LeaseSet signing.
func (dks *DestinationKeyStore) SigningPrivateKey() types.SigningPrivateKey {
	return dks.signingPrivKey
}

// EncryptionPrivateKey returns the encryption private key for inbound
// garlic decryption.
func (dks *DestinationKeyStore) EncryptionPrivateKey() types.PrivateEncryptionKey {
	return dks.encryptionPrivKey
}

// SigningPublicKey returns the signing public key.
func (dks *DestinationKeyStore) SigningPublicKey() types.SigningPublicKey {
	key, _ := dks.destination.SigningPublicKey()
	return key
}

// EncryptionPublicKey returns the encryption public key advertised in
// the published LeaseSet.
func (dks *DestinationKeyStore) EncryptionPublicKey() types.ReceivingPublicKey {
	key, _ := dks.destination.PublicKey()
	return key
}
