package secure

import "github.com/osdp-go/osdp/pkg/crypto"

// sessionKeys holds the per-session key set derived during the handshake.
type sessionKeys struct {
	senc  []byte // payload encryption key
	smac1 []byte // MAC chain key, all blocks but the last
	smac2 []byte // MAC chain key, final block
}

// deriveSessionKeys derives SENC/SMAC1/SMAC2 from the SCBK and the CP
// challenge per IEC 60839-11-5 Annex D: each key is a single AES block
// of a two-byte tag followed by the first six bytes of RND.A.
func deriveSessionKeys(scbk, rndA []byte) (*sessionKeys, error) {
	if len(scbk) != crypto.KeySize {
		return nil, ErrInvalidKey
	}
	if len(rndA) != ChallengeSize {
		return nil, ErrInvalidChallenge
	}

	derive := func(tag byte) ([]byte, error) {
		var in [crypto.BlockSize]byte
		in[0] = 0x01
		in[1] = tag
		copy(in[2:8], rndA[:6])
		return crypto.EncryptBlock(scbk, in[:])
	}

	senc, err := derive(0x82)
	if err != nil {
		return nil, err
	}
	smac1, err := derive(0x01)
	if err != nil {
		return nil, err
	}
	smac2, err := derive(0x02)
	if err != nil {
		return nil, err
	}

	return &sessionKeys{senc: senc, smac1: smac1, smac2: smac2}, nil
}

// zeroize wipes the key set.
func (k *sessionKeys) zeroize() {
	crypto.Zeroize(k.senc)
	crypto.Zeroize(k.smac1)
	crypto.Zeroize(k.smac2)
}

// cpCryptogram computes AES(SENC, RND.A || RND.B), the value the CP sends
// in osdp_SCRYPT to prove key possession.
func (k *sessionKeys) cpCryptogram(rndA, rndB []byte) ([]byte, error) {
	var in [crypto.BlockSize]byte
	copy(in[:ChallengeSize], rndA)
	copy(in[ChallengeSize:], rndB)
	return crypto.EncryptBlock(k.senc, in[:])
}

// pdCryptogram computes AES(SENC, RND.B || RND.A), the value the PD sends
// in osdp_CCRYPT.
func (k *sessionKeys) pdCryptogram(rndA, rndB []byte) ([]byte, error) {
	var in [crypto.BlockSize]byte
	copy(in[:ChallengeSize], rndB)
	copy(in[ChallengeSize:], rndA)
	return crypto.EncryptBlock(k.senc, in[:])
}

// initialRMAC computes RMAC_I = AES(SMAC2, AES(SMAC1, CP-cryptogram)),
// the seed of the rolling MAC chain.
func (k *sessionKeys) initialRMAC(cpCryptogram []byte) ([]byte, error) {
	inner, err := crypto.EncryptBlock(k.smac1, cpCryptogram)
	if err != nil {
		return nil, err
	}
	return crypto.EncryptBlock(k.smac2, inner)
}
