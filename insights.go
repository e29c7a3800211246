package encprofile

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	MaxCreditScore      = 9
	MaxSocialInfluence  = 9
	MaxPurchasePower    = 9
	MaxLifestyleSegment = 15
)

type InsightsInput struct {
	CreditScore      uint8 `yaml:"credit_score"`
	SocialInfluence  uint8 `yaml:"social_influence"`
	PurchasePower    uint8 `yaml:"purchase_power"`
	LifestyleSegment uint8 `yaml:"lifestyle_segment"`
}

func (in InsightsInput) validate() error {
	return checkRanges(
		bound{"creditScore", uint64(in.CreditScore), MaxCreditScore},
		bound{"socialInfluence", uint64(in.SocialInfluence), MaxSocialInfluence},
		bound{"purchasePower", uint64(in.PurchasePower), MaxPurchasePower},
		bound{"lifestyleSegment", uint64(in.LifestyleSegment), MaxLifestyleSegment},
	)
}

type PrivateInsights struct {
	CreditScore      Handle    `json:"creditScore"`
	SocialInfluence  Handle    `json:"socialInfluence"`
	PurchasePower    Handle    `json:"purchasePower"`
	LifestyleSegment Handle    `json:"lifestyleSegment"`
	LastAnalysisTime time.Time `json:"lastAnalysisTime"`
}

func insightsKey(identity common.Address) []byte {
	return key(prefixInsights, identity.Bytes())
}

// GenerateInsights replaces identity's insight record.
func (v *Vault) GenerateInsights(ctx context.Context, caller, identity common.Address, in InsightsInput) error {
	return v.execute(ctx, "generate_insights", func(tx *opTx) error {
		if err := v.requireAnalystOrOwner(tx.txn, caller); err != nil {
			return err
		}
		p, err := activeProfile(tx.txn, identity)
		if err != nil {
			return err
		}
		if err := in.validate(); err != nil {
			return err
		}

		s := tx.session()
		var handles [4]Handle
		for i, val := range []uint8{in.CreditScore, in.SocialInfluence, in.PurchasePower, in.LifestyleSegment} {
			h, err := s.Encrypt(uint64(val), TypeUint8)
			if err != nil {
				return err
			}
			if err := s.AllowThis(h); err != nil {
				return err
			}
			if v.cfg.Grants.OwnerReadsInsights {
				if err := s.Allow(h, identity); err != nil {
					return err
				}
			}
			handles[i] = h
		}

		now := v.now()
		record := PrivateInsights{
			CreditScore:      handles[0],
			SocialInfluence:  handles[1],
			PurchasePower:    handles[2],
			LifestyleSegment: handles[3],
			LastAnalysisTime: now,
		}
		if err := setJSON(tx.txn, insightsKey(identity), &record); err != nil {
			return err
		}
		tx.publish(TopicInsightsGenerated, notification(identity, now))
		return v.touch(tx, identity, p, now)
	})
}

// InsightsStatus returns the last analysis time, zero if none.
func (v *Vault) InsightsStatus(identity common.Address) (time.Time, error) {
	var at time.Time
	err := v.view(func(txn Txn) error {
		var in PrivateInsights
		found, err := getJSON(txn, insightsKey(identity), &in)
		if err != nil || !found {
			return err
		}
		at = in.LastAnalysisTime
		return nil
	})
	return at, err
}

func (v *Vault) InsightsHandles(caller, identity common.Address) (PrivateInsights, error) {
	var in PrivateInsights
	err := v.view(func(txn Txn) error {
		if err := v.requireAnalystOrOwner(txn, caller); err != nil {
			return err
		}
		found, err := getJSON(txn, insightsKey(identity), &in)
		if err != nil {
			return err
		}
		if !found {
			return ErrProfileNotFound
		}
		return nil
	})
	return in, err
}
