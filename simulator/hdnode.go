package simulator

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	b58 "github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"

	"github.com/mbhd/hwclient-go/types"
)

const (
	hardenedOffset = 0x80000000
	xpubVersion    = 0x0488B21E
)

var (
	masterKey = []byte("Bitcoin seed")

	errInvalidKey = errors.New("derived key is not valid")
)

// extendedKey is a private BIP32 node.
type extendedKey struct {
	key       []byte
	chainCode []byte
	depth     uint32
	parentFP  uint32
	childNum  uint32
}

func newMasterKey(seed []byte) (*extendedKey, error) {
	mac := hmac.New(sha512.New, masterKey)
	mac.Write(seed)
	sum := mac.Sum(nil)

	var k btcec.ModNScalar
	if overflow := k.SetByteSlice(sum[:32]); overflow || k.IsZero() {
		return nil, errInvalidKey
	}
	return &extendedKey{
		key:       sum[:32],
		chainCode: sum[32:],
	}, nil
}

func (k *extendedKey) publicKey() []byte {
	_, pub := btcec.PrivKeyFromBytes(k.key)
	return pub.SerializeCompressed()
}

func (k *extendedKey) child(i uint32) (*extendedKey, error) {
	var data []byte
	if i >= hardenedOffset {
		data = append([]byte{0x00}, k.key...)
	} else {
		data = k.publicKey()
	}
	data = binary.BigEndian.AppendUint32(data, i)

	mac := hmac.New(sha512.New, k.chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)

	var il, parent btcec.ModNScalar
	if overflow := il.SetByteSlice(sum[:32]); overflow {
		return nil, errInvalidKey
	}
	parent.SetByteSlice(k.key)
	il.Add(&parent)
	if il.IsZero() {
		return nil, errInvalidKey
	}
	key := il.Bytes()

	return &extendedKey{
		key:       key[:],
		chainCode: sum[32:],
		depth:     k.depth + 1,
		parentFP:  fingerprint(k.publicKey()),
		childNum:  i,
	}, nil
}

func (k *extendedKey) derive(path []uint32) (*extendedKey, error) {
	node := k
	for _, i := range path {
		var err error
		if node, err = node.child(i); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func (k *extendedKey) hdNode() types.HDNode {
	return types.HDNode{
		Depth:       k.depth,
		Fingerprint: k.parentFP,
		ChildNum:    k.childNum,
		ChainCode:   append([]byte{}, k.chainCode...),
		PublicKey:   k.publicKey(),
	}
}

// xpub serializes the public half of the node in Base58Check.
func (k *extendedKey) xpub() string {
	b := make([]byte, 0, 82)
	b = binary.BigEndian.AppendUint32(b, xpubVersion)
	b = append(b, byte(k.depth))
	b = binary.BigEndian.AppendUint32(b, k.parentFP)
	b = binary.BigEndian.AppendUint32(b, k.childNum)
	b = append(b, k.chainCode...)
	b = append(b, k.publicKey()...)
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return b58.Encode(append(b, second[:4]...))
}

func fingerprint(pub []byte) uint32 {
	sha := sha256.Sum256(pub)
	h := ripemd160.New()
	h.Write(sha[:])
	return binary.BigEndian.Uint32(h.Sum(nil)[:4])
}
