package simulator

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha512"

	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/types"
)

var errValueLength = errors.New("value length must be a multiple of 16")

// cipherKeyValue mirrors the firmware: the AES key and default IV come
// from an HMAC of the label and the confirmation flags under the node's
// private key.
func cipherKeyValue(node *extendedKey, req *types.CipherKeyValue) ([]byte, error) {
	if len(req.Value)%aes.BlockSize != 0 {
		return nil, errValueLength
	}
	data := append([]byte{}, req.Key...)
	if req.AskOnEncrypt {
		data = append(data, "E1"...)
	} else {
		data = append(data, "E0"...)
	}
	if req.AskOnDecrypt {
		data = append(data, "D1"...)
	} else {
		data = append(data, "D0"...)
	}
	mac := hmac.New(sha512.New, node.key)
	mac.Write(data)
	sum := mac.Sum(nil)

	iv := sum[32:48]
	if len(req.IV) == aes.BlockSize {
		iv = req.IV
	}
	block, err := aes.NewCipher(sum[:32])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(req.Value))
	if req.Encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, req.Value)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, req.Value)
	}
	return out, nil
}
