package protocol

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/types"
)

// Level is a node of the BIP44 tree that the device is asked for.
type Level int

const (
	LevelMaster Level = iota
	LevelPurpose
	LevelCoinType
	LevelAccount
)

const (
	Purpose  = 44
	Hardened = 0x80000000

	CoinTypeBitcoin = 0
)

var ErrUnknownLevel = errors.New("unknown hierarchy level")

func (l Level) String() string {
	switch l {
	case LevelMaster:
		return "master"
	case LevelPurpose:
		return "purpose"
	case LevelCoinType:
		return "coin type"
	case LevelAccount:
		return "account"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// PathFor builds the hardened BIP44 path down to level.
func PathFor(level Level, coinType, account uint32) (accounts.DerivationPath, error) {
	full := accounts.DerivationPath{
		Purpose + Hardened,
		coinType + Hardened,
		account + Hardened,
	}
	if level < LevelMaster || level > LevelAccount {
		return nil, ErrUnknownLevel
	}
	return full[:int(level)], nil
}

// GetDeterministicHierarchy asks for the public key of the node at path.
// Only the master, purpose, coin type and account levels are supported;
// any other depth is a programming error and panics with a
// *SequencingError.
func (p *Protocol) GetDeterministicHierarchy(ctx context.Context, op *Operations, path accounts.DerivationPath) error {
	if len(path) > int(LevelAccount) {
		panic(&SequencingError{
			Op:     "GetDeterministicHierarchy",
			Reason: fmt.Sprintf("unsupported depth %d for path %s", len(path), path),
		})
	}
	p.log.Logf("hierarchy - %s level %s", path, Level(len(path)))

	_, err := p.call(ctx, op, &types.GetPublicKey{AddressN: append([]uint32{}, path...)})
	return err
}
