package x3dh

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"keymesh/internal/crypto"
	"keymesh/internal/domain"
	"keymesh/internal/util/memzero"
)

const rootKeySize = 32

var hkdfInfo = []byte("keymesh-x3dh")

// VerifyBundle checks the bundle's signed prekey signature against its
// signing key. A bundle that fails this check must never be used.
func VerifyBundle(bundle domain.PreKeyBundle) bool {
	return crypto.VerifyEd25519(bundle.SigningKey, bundle.SignedPreKey.Slice(), bundle.SignedPreKeySignature)
}

// InitiatorRoot runs X3DH as the initiator against a fetched bundle.
//
// It returns the derived root key, the ephemeral public key the responder
// needs (carried in the first ciphertext's PreKeyMessage), and the one-time
// prekey id that was bound into the derivation (0 when the bundle carried
// none).
func InitiatorRoot(id domain.Identity, bundle domain.PreKeyBundle) (root []byte, eph domain.X25519Public, opkID uint32, err error) {
	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, eph, 0, err
	}

	dh1, err := crypto.DH(id.XPriv, bundle.SignedPreKey) // DH(IK_A, SPK_B)
	if err != nil {
		return nil, eph, 0, err
	}
	dh2, err := crypto.DH(ephPriv, bundle.IdentityKey) // DH(EK_A, IK_B)
	if err != nil {
		return nil, eph, 0, err
	}
	dh3, err := crypto.DH(ephPriv, bundle.SignedPreKey) // DH(EK_A, SPK_B)
	if err != nil {
		return nil, eph, 0, err
	}

	concat := make([]byte, 0, 32*4)
	concat = append(concat, dh1[:]...)
	concat = append(concat, dh2[:]...)
	concat = append(concat, dh3[:]...)

	if bundle.OneTimePreKey != nil {
		dh4, err := crypto.DH(ephPriv, bundle.OneTimePreKey.Pub) // DH(EK_A, OPK_B)
		if err != nil {
			return nil, eph, 0, err
		}
		concat = append(concat, dh4[:]...)
		opkID = bundle.OneTimePreKey.ID
	}

	root, err = deriveRoot(concat)
	memzero.Zero(concat)
	memzero.Zero(ephPriv[:])
	if err != nil {
		return nil, eph, 0, err
	}
	return root, ephPub, opkID, nil
}

// ResponderRoot recomputes the root key from the initiator's handshake
// parameters, our identity, and the private halves of the prekeys the
// initiator targeted. opkPriv is nil when the handshake used no one-time
// prekey.
func ResponderRoot(id domain.Identity, spkPriv domain.X25519Private, opkPriv *domain.X25519Private, pm domain.PreKeyMessage) ([]byte, error) {
	dh1, err := crypto.DH(spkPriv, pm.InitiatorIdentityKey) // DH(SPK_B, IK_A)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(id.XPriv, pm.EphemeralKey) // DH(IK_B, EK_A)
	if err != nil {
		return nil, err
	}
	dh3, err := crypto.DH(spkPriv, pm.EphemeralKey) // DH(SPK_B, EK_A)
	if err != nil {
		return nil, err
	}

	concat := make([]byte, 0, 32*4)
	concat = append(concat, dh1[:]...)
	concat = append(concat, dh2[:]...)
	concat = append(concat, dh3[:]...)

	if opkPriv != nil {
		dh4, err := crypto.DH(*opkPriv, pm.EphemeralKey) // DH(OPK_B, EK_A)
		if err != nil {
			return nil, err
		}
		concat = append(concat, dh4[:]...)
	}

	root, err := deriveRoot(concat)
	memzero.Zero(concat)
	return root, err
}

func deriveRoot(ikm []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, nil, hkdfInfo)
	root := make([]byte, rootKeySize)
	if _, err := io.ReadFull(r, root); err != nil {
		return nil, err
	}
	return root, nil
}
