package encprofile

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

func analystKey(identity common.Address) []byte {
	return key(prefixAnalyst, identity.Bytes())
}

func isAnalyst(txn Txn, identity common.Address) (bool, error) {
	v, err := txn.Get(analystKey(identity))
	if err != nil {
		return false, err
	}
	return len(v) == 1 && v[0] == 1, nil
}

// AuthorizeAnalyst adds identity to the analyst set. Owner only.
func (v *Vault) AuthorizeAnalyst(ctx context.Context, caller, identity common.Address) error {
	return v.setAnalyst(ctx, "authorize_analyst", caller, identity, true)
}

// RevokeAnalyst removes identity from the analyst set. Owner only.
func (v *Vault) RevokeAnalyst(ctx context.Context, caller, identity common.Address) error {
	return v.setAnalyst(ctx, "revoke_analyst", caller, identity, false)
}

func (v *Vault) setAnalyst(ctx context.Context, op string, caller, identity common.Address, authorized bool) error {
	return v.execute(ctx, op, func(tx *opTx) error {
		if caller != v.cfg.Owner {
			return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller.Hex())
		}
		topic := TopicAnalystRevoked
		if authorized {
			topic = TopicAnalystAuthorized
			if err := tx.txn.Set(analystKey(identity), []byte{1}); err != nil {
				return err
			}
		} else if err := tx.txn.Delete(analystKey(identity)); err != nil {
			return err
		}
		tx.afterCommit(func() {
			v.logger.Info("analyst set changed", zap.String("identity", identity.Hex()), zap.Bool("authorized", authorized))
		})
		tx.publish(topic, notification(identity, v.now()))
		return nil
	})
}

func (v *Vault) IsAnalyst(identity common.Address) (bool, error) {
	var ok bool
	err := v.view(func(txn Txn) error {
		var err error
		ok, err = isAnalyst(txn, identity)
		return err
	})
	return ok, err
}

// Analysts lists the current analyst set.
func (v *Vault) Analysts() ([]common.Address, error) {
	var out []common.Address
	prefix := []byte(prefixAnalyst)
	err := v.view(func(txn Txn) error {
		return txn.Iterate(prefix, func(k, _ []byte) error {
			out = append(out, common.BytesToAddress(k[len(prefix):]))
			return nil
		})
	})
	return out, err
}
