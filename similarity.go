package encprofile

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Weights of the similarity score in field order. They sum to 100.
var Weights = [6]uint8{20, 15, 15, 15, 20, 15}

// CompareProfiles returns six encrypted booleans, one per field in the
// order age, income, spending, risk, digital, location.
func (v *Vault) CompareProfiles(ctx context.Context, caller, a, b common.Address) ([6]Handle, error) {
	var out [6]Handle
	err := v.execute(ctx, "compare_profiles", func(tx *opTx) error {
		pa, pb, err := v.comparable(tx, caller, a, b)
		if err != nil {
			return err
		}
		s := tx.session()
		fa, fb := pa.Fields(), pb.Fields()
		for i := range fa {
			eq, err := s.Eq(fa[i], fb[i])
			if err != nil {
				return err
			}
			if err := v.grantResult(s, eq, caller); err != nil {
				return err
			}
			out[i] = eq
		}
		return nil
	})
	return out, err
}

// SimilarityScore returns an encrypted sum of the weights of all equal
// fields.
func (v *Vault) SimilarityScore(ctx context.Context, caller, a, b common.Address) (Handle, error) {
	var out Handle
	err := v.execute(ctx, "similarity_score", func(tx *opTx) error {
		pa, pb, err := v.comparable(tx, caller, a, b)
		if err != nil {
			return err
		}
		s := tx.session()
		zero, err := s.Encrypt(0, TypeUint8)
		if err != nil {
			return err
		}
		fa, fb := pa.Fields(), pb.Fields()
		var weighted [6]Handle
		for i := range fa {
			eq, err := s.Eq(fa[i], fb[i])
			if err != nil {
				return err
			}
			w, err := s.Encrypt(uint64(Weights[i]), TypeUint8)
			if err != nil {
				return err
			}
			if weighted[i], err = s.Select(eq, w, zero); err != nil {
				return err
			}
		}

		// (((age+income)+(spending+risk))+(digital+location))
		ageIncome, err := s.Add(weighted[0], weighted[1])
		if err != nil {
			return err
		}
		spendingRisk, err := s.Add(weighted[2], weighted[3])
		if err != nil {
			return err
		}
		digitalLocation, err := s.Add(weighted[4], weighted[5])
		if err != nil {
			return err
		}
		left, err := s.Add(ageIncome, spendingRisk)
		if err != nil {
			return err
		}
		total, err := s.Add(left, digitalLocation)
		if err != nil {
			return err
		}
		if err := v.grantResult(s, total, caller); err != nil {
			return err
		}
		out = total
		return nil
	})
	return out, err
}

func (v *Vault) comparable(tx *opTx, caller, a, b common.Address) (*UserProfile, *UserProfile, error) {
	if err := v.requireAnalystOrOwner(tx.txn, caller); err != nil {
		return nil, nil, err
	}
	pa, err := activeProfile(tx.txn, a)
	if err != nil {
		return nil, nil, err
	}
	pb, err := activeProfile(tx.txn, b)
	if err != nil {
		return nil, nil, err
	}
	return pa, pb, nil
}

func (v *Vault) grantResult(s *Session, h Handle, caller common.Address) error {
	if err := s.AllowThis(h); err != nil {
		return err
	}
	if v.cfg.Grants.CallerReadsResults {
		return s.Allow(h, caller)
	}
	return nil
}
